package cache

import (
	"math"
	"runtime/debug"
	rtmetrics "runtime/metrics"
	"sync"
	"time"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// PressureMonitor 轮询堆内存占用，在越过阈值时向已登记的内存层发送内存告警。
// Go 没有系统级 memory warning，这里以 GOMEMLIMIT（或显式阈值）作为信号来源。
// 告警是边沿触发的：占用回落到阈值以下之前不会重复触发。
type PressureMonitor struct {
	limit    uint64
	interval time.Duration
	read     func() uint64

	mu       sync.Mutex
	caches   []*MemoryCache
	pressure bool

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPressureMonitor 创建监视器。limit 为 0 时取 GOMEMLIMIT 的 90%；
// 未设置 GOMEMLIMIT 时监视器永远不会触发。
func NewPressureMonitor(limit uint64, interval time.Duration) *PressureMonitor {
	if limit == 0 {
		if soft := debug.SetMemoryLimit(-1); soft > 0 && soft != math.MaxInt64 {
			limit = uint64(soft) / 10 * 9
		}
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PressureMonitor{
		limit:    limit,
		interval: interval,
		read:     readHeapBytes,
		stop:     make(chan struct{}),
	}
}

// Watch registers a memory tier to receive warnings.
func (p *PressureMonitor) Watch(c *MemoryCache) {
	if c == nil {
		return
	}
	p.mu.Lock()
	p.caches = append(p.caches, c)
	p.mu.Unlock()
}

// Start 启动后台轮询。
func (p *PressureMonitor) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.Check()
			}
		}
	}()
}

// Check 执行一次采样，返回本次是否发出了告警。
func (p *PressureMonitor) Check() bool {
	if p.limit == 0 {
		return false
	}
	used := p.read()

	p.mu.Lock()
	if used < p.limit {
		p.pressure = false
		p.mu.Unlock()
		return false
	}
	if p.pressure {
		p.mu.Unlock()
		return false
	}
	p.pressure = true
	caches := append([]*MemoryCache(nil), p.caches...)
	p.mu.Unlock()

	for _, c := range caches {
		c.HandleMemoryWarning()
	}
	return true
}

// Stop 停止轮询，可重复调用。
func (p *PressureMonitor) Stop() {
	p.closeOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func readHeapBytes() uint64 {
	samples := []rtmetrics.Sample{{Name: heapObjectsMetric}}
	rtmetrics.Read(samples)
	if samples[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return samples[0].Value.Uint64()
}
