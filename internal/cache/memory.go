package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/pixelhub/pixelhub/internal/metrics"
)

// DefaultMemoryTrimInterval 是内存层后台修剪的默认周期。
const DefaultMemoryTrimInterval = 5 * time.Second

// MemoryOptions 配置内存层容量与后台修剪行为。各 Limit 的零值表示不限制；
// AutoTrimInterval 为 0 时使用默认值，小于 0 时关闭后台修剪。
type MemoryOptions struct {
	Name             string
	CostLimit        int64
	CountLimit       int
	AgeLimit         time.Duration
	AutoTrimInterval time.Duration

	// KeepOnMemoryWarning/KeepOnBackground 为 true 时，对应信号只触发回调而不清空。
	KeepOnMemoryWarning bool
	KeepOnBackground    bool
	OnMemoryWarning     func(*MemoryCache)
	OnBackground        func(*MemoryCache)

	// OnEvict 仅在容量/年龄修剪淘汰条目时调用，在锁外执行。
	OnEvict func(key string, value any)

	Metrics *metrics.Cache
	Clock   func() time.Time
}

type memoryEntry struct {
	key      string
	value    any
	cost     int64
	created  time.Time
	accessed time.Time
}

// MemoryCache 是线程安全的 LRU 内存层，链表头部为最近使用的条目。
// 所有读写（包括 Get 时的提升）都在同一把互斥锁内完成，淘汰顺序严格按链表。
type MemoryCache struct {
	opts MemoryOptions
	now  func() time.Time

	mu        sync.Mutex
	items     map[string]*list.Element
	order     *list.List
	totalCost int64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemoryCache 创建独立的内存层实例，并按配置启动后台修剪。
func NewMemoryCache(opts MemoryOptions) *MemoryCache {
	if opts.AutoTrimInterval == 0 {
		opts.AutoTrimInterval = DefaultMemoryTrimInterval
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	c := &MemoryCache{
		opts:  opts,
		now:   now,
		items: make(map[string]*list.Element),
		order: list.New(),
		stop:  make(chan struct{}),
	}

	if opts.AutoTrimInterval > 0 {
		c.wg.Add(1)
		go c.trimLoop(opts.AutoTrimInterval)
	}
	return c
}

// Name returns the configured name.
func (c *MemoryCache) Name() string {
	return c.opts.Name
}

// Get 返回 key 对应的值并将其提升到最近使用位置。
// 超过 AgeLimit 的条目视为不存在，删除动作交给后台 goroutine。
func (c *MemoryCache) Get(key string) (any, bool) {
	if key == "" {
		return nil, false
	}

	now := c.now()
	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.opts.Metrics.Miss(metrics.TierMemory)
		return nil, false
	}
	entry := element.Value.(*memoryEntry)
	if c.expired(entry, now) {
		c.mu.Unlock()
		c.opts.Metrics.Miss(metrics.TierMemory)
		c.scheduleStaleRemoval(key)
		return nil, false
	}
	entry.accessed = now
	c.order.MoveToFront(element)
	value := entry.value
	c.mu.Unlock()

	c.opts.Metrics.Hit(metrics.TierMemory)
	return value, true
}

// Contains 判断 key 是否存在且未过期，不改变 LRU 顺序。
func (c *MemoryCache) Contains(key string) bool {
	if key == "" {
		return false
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.items[key]
	if !ok {
		return false
	}
	return !c.expired(element.Value.(*memoryEntry), now)
}

// Set 插入或替换条目，cost 由调用方显式给出（负数按 0 处理）。
// value 为 nil 时等价于 Remove。写入后立即按 CostLimit/CountLimit 修剪。
func (c *MemoryCache) Set(key string, value any, cost int64) {
	if key == "" {
		return
	}
	if value == nil {
		c.Remove(key)
		return
	}
	if cost < 0 {
		cost = 0
	}

	now := c.now()
	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		entry := element.Value.(*memoryEntry)
		c.totalCost += cost - entry.cost
		entry.value = value
		entry.cost = cost
		entry.accessed = now
		c.order.MoveToFront(element)
	} else {
		entry := &memoryEntry{key: key, value: value, cost: cost, created: now, accessed: now}
		c.items[key] = c.order.PushFront(entry)
		c.totalCost += cost
	}
	evicted := c.evictLocked(limitOrNone64(c.opts.CostLimit), limitOrNone(c.opts.CountLimit), -1, now)
	cost, count := c.totalCost, len(c.items)
	c.mu.Unlock()

	c.opts.Metrics.Set(metrics.TierMemory)
	c.opts.Metrics.Observe(metrics.TierMemory, cost, count)
	c.notifyEvicted(evicted)
}

// Remove 立即删除条目，重复删除是无害的空操作。
func (c *MemoryCache) Remove(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		c.removeElementLocked(element)
	}
	cost, count := c.totalCost, len(c.items)
	c.mu.Unlock()
	c.opts.Metrics.Observe(metrics.TierMemory, cost, count)
}

// RemoveAll 清空内存层。
func (c *MemoryCache) RemoveAll() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.totalCost = 0
	c.mu.Unlock()
	c.opts.Metrics.Observe(metrics.TierMemory, 0, 0)
}

// TrimToCost 从 LRU 尾部淘汰，直到 TotalCost <= limit。
func (c *MemoryCache) TrimToCost(limit int64) {
	if limit < 0 {
		limit = 0
	}
	c.trim(limit, -1, -1)
}

// TrimToCount 从 LRU 尾部淘汰，直到 TotalCount <= limit。
func (c *MemoryCache) TrimToCount(limit int) {
	if limit < 0 {
		limit = 0
	}
	c.trim(-1, limit, -1)
}

// TrimToAge 淘汰最后访问时间早于 now-age 的条目；age<=0 时清空。
func (c *MemoryCache) TrimToAge(age time.Duration) {
	if age <= 0 {
		c.RemoveAll()
		return
	}
	c.trim(-1, -1, age)
}

// TotalCost returns the summed cost of all entries.
func (c *MemoryCache) TotalCost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// TotalCount returns the number of entries.
func (c *MemoryCache) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys 按最近使用优先的顺序返回全部 key。
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*memoryEntry).key)
	}
	return keys
}

// HandleMemoryWarning 是内存压力信号的入口：先回调，再按配置清空。
func (c *MemoryCache) HandleMemoryWarning() {
	if c.opts.OnMemoryWarning != nil {
		c.opts.OnMemoryWarning(c)
	}
	if !c.opts.KeepOnMemoryWarning {
		c.RemoveAll()
	}
}

// HandleBackground 是进程转入后台（或宿主要求释放常驻内存）时的入口。
func (c *MemoryCache) HandleBackground() {
	if c.opts.OnBackground != nil {
		c.opts.OnBackground(c)
	}
	if !c.opts.KeepOnBackground {
		c.RemoveAll()
	}
}

// Close 停止后台修剪，可重复调用。
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *MemoryCache) trimLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			age := c.opts.AgeLimit
			if age <= 0 {
				age = -1
			}
			c.trim(limitOrNone64(c.opts.CostLimit), limitOrNone(c.opts.CountLimit), age)
		}
	}
}

func (c *MemoryCache) trim(costLimit int64, countLimit int, age time.Duration) {
	now := c.now()
	c.mu.Lock()
	evicted := c.evictLocked(costLimit, countLimit, age, now)
	cost, count := c.totalCost, len(c.items)
	c.mu.Unlock()
	if len(evicted) > 0 {
		c.opts.Metrics.Observe(metrics.TierMemory, cost, count)
	}
	c.notifyEvicted(evicted)
}

// evictLocked 从链表尾部淘汰条目；负数参数表示该维度不限制。调用方必须持锁。
func (c *MemoryCache) evictLocked(costLimit int64, countLimit int, age time.Duration, now time.Time) []*memoryEntry {
	var evicted []*memoryEntry
	for {
		element := c.order.Back()
		if element == nil {
			return evicted
		}
		entry := element.Value.(*memoryEntry)
		over := (costLimit >= 0 && c.totalCost > costLimit) ||
			(countLimit >= 0 && len(c.items) > countLimit) ||
			(age >= 0 && now.Sub(entry.accessed) > age)
		if !over {
			return evicted
		}
		c.removeElementLocked(element)
		evicted = append(evicted, entry)
	}
}

func (c *MemoryCache) removeElementLocked(element *list.Element) {
	entry := element.Value.(*memoryEntry)
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.totalCost -= entry.cost
}

func (c *MemoryCache) notifyEvicted(evicted []*memoryEntry) {
	if len(evicted) == 0 {
		return
	}
	c.opts.Metrics.Evict(metrics.TierMemory, len(evicted))
	if c.opts.OnEvict == nil {
		return
	}
	for _, entry := range evicted {
		c.opts.OnEvict(entry.key, entry.value)
	}
}

func (c *MemoryCache) expired(entry *memoryEntry, now time.Time) bool {
	return c.opts.AgeLimit > 0 && now.Sub(entry.accessed) > c.opts.AgeLimit
}

// scheduleStaleRemoval 异步删除过期条目；执行时再次确认仍然过期，避免误删刚写入的新值。
func (c *MemoryCache) scheduleStaleRemoval(key string) {
	go func() {
		now := c.now()
		c.mu.Lock()
		if element, ok := c.items[key]; ok && c.expired(element.Value.(*memoryEntry), now) {
			c.removeElementLocked(element)
		}
		cost, count := c.totalCost, len(c.items)
		c.mu.Unlock()
		c.opts.Metrics.Observe(metrics.TierMemory, cost, count)
	}()
}

func limitOrNone(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func limitOrNone64(limit int64) int64 {
	if limit <= 0 {
		return -1
	}
	return limit
}
