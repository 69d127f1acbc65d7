package fetch

import (
	"sort"
	"sync"
)

// Denylist 记录失败过的 URL，进程重启或 Clear 之前一直有效。
type Denylist struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func newDenylist() *Denylist {
	return &Denylist{urls: make(map[string]struct{})}
}

func (d *Denylist) Contains(u string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.urls[u]
	return ok
}

func (d *Denylist) Add(u string) {
	if u == "" {
		return
	}
	d.mu.Lock()
	d.urls[u] = struct{}{}
	d.mu.Unlock()
}

func (d *Denylist) Remove(u string) {
	d.mu.Lock()
	delete(d.urls, u)
	d.mu.Unlock()
}

// Clear 清空黑名单并返回清除的条目数。
func (d *Denylist) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.urls)
	d.urls = make(map[string]struct{})
	return n
}

func (d *Denylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.urls)
}

// List returns the denylisted URLs in sorted order.
func (d *Denylist) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]string, 0, len(d.urls))
	for u := range d.urls {
		result = append(result, u)
	}
	sort.Strings(result)
	return result
}
