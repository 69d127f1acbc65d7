package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryExposesCacheAndFetchMetrics(t *testing.T) {
	reg, err := New()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	reg.Cache.Hit(TierMemory)
	reg.Cache.Miss(TierDisk)
	reg.Cache.Evict(TierMemory, 2)
	reg.Cache.Observe(TierDisk, 1024, 3)
	reg.Fetch.Finished("remote", "ok", 10*time.Millisecond)
	reg.Fetch.Bytes(1000)

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`pixelhub_cache_hits_total{tier="memory"} 1`,
		`pixelhub_cache_misses_total{tier="disk"} 1`,
		`pixelhub_cache_evictions_total{tier="memory"} 2`,
		`pixelhub_cache_cost{tier="disk"} 1024`,
		`pixelhub_fetch_operations_total{provenance="remote",result="ok"} 1`,
		`pixelhub_fetch_bytes_total 1000`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilRecordersAreNoops(t *testing.T) {
	var c *Cache
	var f *Fetch
	c.Hit(TierMemory)
	c.Evict(TierDisk, 1)
	c.Observe(TierMemory, 1, 1)
	f.Finished("none", "error", time.Second)
	f.ActivityStarted()
	f.ActivityStopped()
}
