package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pixelhub/pixelhub/internal/metrics"
)

// DefaultName 是未指定名称时的缓存名，也是默认目录名。
const DefaultName = "default"

// Options 描述 Facade 的两级配置。Limit 零值表示不限制。
type Options struct {
	Name string
	// Path 为空时使用 os.UserCacheDir()/pixelhub/<Name>。
	Path string

	MemoryCostLimit        int64
	MemoryCountLimit       int
	MemoryAgeLimit         time.Duration
	MemoryTrimInterval     time.Duration
	KeepMemoryOnWarning    bool
	KeepMemoryOnBackground bool

	DiskCostLimit      int64
	DiskCountLimit     int
	DiskAgeLimit       time.Duration
	DiskTrimInterval   time.Duration
	FreeDiskSpaceLimit int64
	InlineThreshold    int

	// Codec 为 nil 时使用 BytesCodec。
	Codec   Codec
	Logger  *logrus.Logger
	Metrics *metrics.Cache
	// Lanes 是异步 API 的 FIFO 通道数，0 表示 DefaultLanes。
	Lanes int
}

// Cache 组合内存层与磁盘层：读路径先内存后磁盘并回填内存，写路径先内存后磁盘。
// 同步方法在调用方 goroutine 上直接执行；异步方法按 key 排入 FIFO 通道，
// 同一 key 的异步操作保持提交顺序，回调在通道 goroutine 上执行。
type Cache struct {
	name   string
	memory *MemoryCache
	disk   *DiskCache
	codec  Codec
	logger *logrus.Logger
	lanes  *lanes
}

// Open 创建 Facade 并打开磁盘目录。
func Open(opts Options) (*Cache, error) {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	path := opts.Path
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user cache dir: %w", err)
		}
		path = filepath.Join(base, "pixelhub", name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	codec := opts.Codec
	if codec == nil {
		codec = BytesCodec{}
	}

	disk, err := OpenDiskCache(path, DiskOptions{
		InlineThreshold:    opts.InlineThreshold,
		CostLimit:          opts.DiskCostLimit,
		CountLimit:         opts.DiskCountLimit,
		AgeLimit:           opts.DiskAgeLimit,
		FreeDiskSpaceLimit: opts.FreeDiskSpaceLimit,
		AutoTrimInterval:   opts.DiskTrimInterval,
		Logger:             logger,
		Metrics:            opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	memory := NewMemoryCache(MemoryOptions{
		Name:                name,
		CostLimit:           opts.MemoryCostLimit,
		CountLimit:          opts.MemoryCountLimit,
		AgeLimit:            opts.MemoryAgeLimit,
		AutoTrimInterval:    opts.MemoryTrimInterval,
		KeepOnMemoryWarning: opts.KeepMemoryOnWarning,
		KeepOnBackground:    opts.KeepMemoryOnBackground,
		Metrics:             opts.Metrics,
	})

	return &Cache{
		name:   name,
		memory: memory,
		disk:   disk,
		codec:  codec,
		logger: logger,
		lanes:  newLanes(opts.Lanes),
	}, nil
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// Memory 返回内存层，供需要直接操作单层的调用方使用。
func (c *Cache) Memory() *MemoryCache {
	return c.memory
}

// Disk 返回磁盘层。
func (c *Cache) Disk() *DiskCache {
	return c.disk
}

// Contains 先查内存再查磁盘，不回填。
func (c *Cache) Contains(key string) bool {
	if key == "" {
		return false
	}
	return c.memory.Contains(key) || c.disk.Contains(key)
}

// Get 返回 key 对应的值；磁盘命中时解码并以字节长度为 cost 回填内存层。
func (c *Cache) Get(key string) (any, bool) {
	value, _, ok := c.Lookup(key)
	return value, ok
}

// Lookup 与 Get 相同，额外返回命中的层级。
func (c *Cache) Lookup(key string) (any, Tier, bool) {
	if key == "" {
		return nil, TierNone, false
	}
	if value, ok := c.memory.Get(key); ok {
		return value, TierMemory, true
	}

	data, err := c.disk.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "key": key, "cache": c.name}).Warn("disk_read_failed")
		}
		return nil, TierNone, false
	}
	value, err := c.codec.Decode(data)
	if err == nil && value == nil {
		err = fmt.Errorf("%w: codec decoded %d bytes to nil", ErrUnsupportedValue, len(data))
	}
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_get", "key": key, "cache": c.name}).Warn("disk_decode_failed")
		return nil, TierNone, false
	}
	c.memory.Set(key, value, int64(len(data)))
	return value, TierDisk, true
}

// Set 编码 value，以编码长度为 cost 写入两级。value 为 nil 时等价于 Remove。
func (c *Cache) Set(key string, value any) error {
	if key == "" {
		return nil
	}
	if value == nil {
		return c.Remove(key)
	}
	data, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	return c.SetEncoded(key, value, data, int64(len(data)))
}

// SetWithCost 与 Set 相同，但内存层使用调用方给出的 cost。
func (c *Cache) SetWithCost(key string, value any, cost int64) error {
	if key == "" {
		return nil
	}
	if value == nil {
		return c.Remove(key)
	}
	data, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	return c.SetEncoded(key, value, data, cost)
}

// SetMemory 只写内存层，用于调用方明确不需要持久化的值。
func (c *Cache) SetMemory(key string, value any, cost int64) {
	c.memory.Set(key, value, cost)
}

// SetEncoded 把 value 写入内存层、把调用方已编码的 data 写入磁盘层，跳过 Codec。
func (c *Cache) SetEncoded(key string, value any, data []byte, cost int64) error {
	if key == "" {
		return nil
	}
	if value == nil || data == nil {
		return c.Remove(key)
	}
	c.memory.Set(key, value, cost)
	if err := c.disk.Set(key, data, int64(len(data))); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_set", "key": key, "cache": c.name}).Warn("disk_write_failed")
		return err
	}
	return nil
}

// Remove 从两级删除 key，重复删除不是错误。
func (c *Cache) Remove(key string) error {
	if key == "" {
		return nil
	}
	c.memory.Remove(key)
	return c.disk.Remove(key)
}

// RemoveAll 并行清空两级，两者都完成后返回。
func (c *Cache) RemoveAll() error {
	var group errgroup.Group
	group.Go(func() error {
		c.memory.RemoveAll()
		return nil
	})
	group.Go(c.disk.RemoveAll)
	return group.Wait()
}

// RemoveAllWithProgress 先清空内存层，再逐条清空磁盘层并回报进度。
func (c *Cache) RemoveAllWithProgress(progress func(removed, total int), end func(err error)) {
	c.memory.RemoveAll()
	c.disk.RemoveAllWithProgress(progress, end)
}

// ContainsAsync 在 key 所在通道上执行 Contains。
func (c *Cache) ContainsAsync(key string, done func(key string, ok bool)) {
	if !c.lanes.submit(key, func() {
		ok := c.Contains(key)
		if done != nil {
			done(key, ok)
		}
	}) && done != nil {
		done(key, false)
	}
}

// GetAsync 在 key 所在通道上执行 Get。
func (c *Cache) GetAsync(key string, done func(key string, value any, ok bool)) {
	if !c.lanes.submit(key, func() {
		value, ok := c.Get(key)
		if done != nil {
			done(key, value, ok)
		}
	}) && done != nil {
		done(key, nil, false)
	}
}

// SetAsync 同步写内存层，磁盘写入排入 key 所在通道，完成后回调。
func (c *Cache) SetAsync(key string, value any, done func(err error)) {
	finish := func(err error) {
		if done != nil {
			done(err)
		}
	}
	if key == "" {
		finish(nil)
		return
	}
	if value == nil {
		c.RemoveAsync(key, finish)
		return
	}
	data, err := c.codec.Encode(value)
	if err != nil {
		finish(err)
		return
	}
	c.memory.Set(key, value, int64(len(data)))
	if !c.lanes.submit(key, func() {
		err := c.disk.Set(key, data, int64(len(data)))
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_set", "key": key, "cache": c.name}).Warn("disk_write_failed")
		}
		finish(err)
	}) {
		finish(ErrClosed)
	}
}

// RemoveAsync 在 key 所在通道上从两级删除。
func (c *Cache) RemoveAsync(key string, done func(err error)) {
	if !c.lanes.submit(key, func() {
		err := c.Remove(key)
		if done != nil {
			done(err)
		}
	}) && done != nil {
		done(ErrClosed)
	}
}

// RemoveAllAsync 等待所有已提交的异步操作完成后清空两级，
// progress 跟踪磁盘层的逐条删除，end 恰好调用一次。
func (c *Cache) RemoveAllAsync(progress func(removed, total int), end func(err error)) {
	if !c.lanes.barrier(func() {
		c.RemoveAllWithProgress(progress, end)
	}) && end != nil {
		end(ErrClosed)
	}
}

// HandleMemoryWarning forwards a memory pressure signal to the memory tier.
func (c *Cache) HandleMemoryWarning() {
	c.memory.HandleMemoryWarning()
}

// HandleBackground forwards a backgrounding signal to the memory tier.
func (c *Cache) HandleBackground() {
	c.memory.HandleBackground()
}

// Close 等待异步通道排空，然后停止后台修剪并关闭磁盘索引。
func (c *Cache) Close() error {
	c.lanes.close()
	c.memory.Close()
	return c.disk.Close()
}

// Tier 表示一次读取命中的层级。
type Tier int

const (
	TierNone Tier = iota
	TierMemory
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return "none"
	}
}
