package transform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

func newRegistry() *registry {
	return &registry{transforms: make(map[string]Transform)}
}

// Register 将转换加入全局注册表，重复键会返回错误。
func Register(t Transform) error {
	return globalRegistry.register(t)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(t Transform) {
	if err := Register(t); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的转换。
func Resolve(key string) (Transform, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的转换列表。
func List() []Transform {
	return globalRegistry.list()
}

// Keys 返回所有已注册转换的键，供配置校验与诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, t := range items {
		result[i] = t.Key
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(t Transform) error {
	key := r.normalizeKey(t.Key)
	if key == "" {
		return fmt.Errorf("transform key is required")
	}
	if t.Apply == nil {
		return fmt.Errorf("transform %s has no Apply func", key)
	}
	t.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transforms[key]; exists {
		return fmt.Errorf("transform %s already registered", key)
	}
	r.transforms[key] = t
	return nil
}

func (r *registry) resolve(key string) (Transform, bool) {
	if key == "" {
		return Transform{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transforms[normalized]
	return t, ok
}

func (r *registry) list() []Transform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.transforms) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.transforms))
	for key := range r.transforms {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Transform, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.transforms[key])
	}
	return result
}
