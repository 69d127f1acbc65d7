package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T, opts MemoryOptions) *MemoryCache {
	t.Helper()
	if opts.AutoTrimInterval == 0 {
		opts.AutoTrimInterval = -1
	}
	c := NewMemoryCache(opts)
	t.Cleanup(c.Close)
	return c
}

func newTestDisk(t *testing.T, dir string, opts DiskOptions) *DiskCache {
	t.Helper()
	if opts.AutoTrimInterval == 0 {
		opts.AutoTrimInterval = -1
	}
	d, err := OpenDiskCache(dir, opts)
	if err != nil {
		t.Fatalf("open disk cache: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// eventually 轮询 cond，直到为 true 或超时。
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
