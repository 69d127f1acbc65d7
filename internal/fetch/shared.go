package fetch

import (
	"sync"

	"github.com/pixelhub/pixelhub/internal/cache"
	"github.com/pixelhub/pixelhub/internal/imaging"
)

// 进程级共享 Manager：Shared 首次调用时以默认缓存惰性创建，
// SetShared 可替换为预先配置好的实例，ResetShared 负责关闭与清理（测试用）。
var (
	sharedMu    sync.Mutex
	shared      *Manager
	sharedCache *cache.Cache
)

// Shared 返回进程级 Manager，必要时以默认配置创建。
func Shared() (*Manager, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return shared, nil
	}

	c, err := cache.Open(cache.Options{Codec: imaging.NewCodec(nil, imaging.DecodeOptions{})})
	if err != nil {
		return nil, err
	}
	sharedCache = c
	shared = NewManager(c, ManagerOptions{})
	return shared, nil
}

// SetShared 替换进程级 Manager，调用方负责其缓存的生命周期。
// 之前由 Shared 创建的实例会被关闭。
func SetShared(m *Manager) {
	sharedMu.Lock()
	prev, prevCache := shared, sharedCache
	shared, sharedCache = m, nil
	sharedMu.Unlock()

	if prev != nil && prev != m && prevCache != nil {
		prev.Close()
		prevCache.Close()
	}
}

// ResetShared 关闭并清除进程级 Manager；下一次 Shared 会重新创建。
func ResetShared() error {
	sharedMu.Lock()
	prev, prevCache := shared, sharedCache
	shared, sharedCache = nil, nil
	sharedMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	if prevCache != nil {
		return prevCache.Close()
	}
	return nil
}
