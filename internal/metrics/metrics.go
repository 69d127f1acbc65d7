// Package metrics holds the Prometheus collectors shared by the cache tiers
// and the fetch pipeline. Every recorder method is nil-safe so library code
// can run without a registry (tests, embedded use).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pixelhub"

// Tier 标签取值。
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Registry 聚合进程内全部 collector，并对外暴露 /-/metrics handler。
type Registry struct {
	reg   *prometheus.Registry
	Cache *Cache
	Fetch *Fetch
}

// New 创建独立的 prometheus.Registry，注册 Go/进程指标与业务指标。
func New() (*Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	cacheMetrics, err := NewCache(reg)
	if err != nil {
		return nil, err
	}
	fetchMetrics, err := NewFetch(reg)
	if err != nil {
		return nil, err
	}

	return &Registry{reg: reg, Cache: cacheMetrics, Fetch: fetchMetrics}, nil
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Cache 记录两级缓存的命中、写入与淘汰。
type Cache struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	sets      *prometheus.CounterVec
	evictions *prometheus.CounterVec
	cost      *prometheus.GaugeVec
	count     *prometheus.GaugeVec
}

// NewCache creates the cache collectors and registers them with reg.
func NewCache(reg prometheus.Registerer) (*Cache, error) {
	m := &Cache{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits per tier",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses per tier",
		}, []string{"tier"}),
		sets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Total number of cache writes per tier",
		}, []string{"tier"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted by trimming per tier",
		}, []string{"tier"}),
		cost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "cost",
			Help:      "Current total cost held by the tier",
		}, []string{"tier"}),
		count: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "count",
			Help:      "Current number of entries held by the tier",
		}, []string{"tier"}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.sets, m.evictions, m.cost, m.count} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Cache) Hit(tier string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(tier).Inc()
}

func (m *Cache) Miss(tier string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(tier).Inc()
}

func (m *Cache) Set(tier string) {
	if m == nil {
		return
	}
	m.sets.WithLabelValues(tier).Inc()
}

// Evict 累加淘汰条目数，n<=0 时忽略。
func (m *Cache) Evict(tier string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(tier).Add(float64(n))
}

// Observe 同步当前容量快照。
func (m *Cache) Observe(tier string, cost int64, count int) {
	if m == nil {
		return
	}
	m.cost.WithLabelValues(tier).Set(float64(cost))
	m.count.WithLabelValues(tier).Set(float64(count))
}

// Fetch 记录抓取流水线的结果、字节数与在途传输数。
type Fetch struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      prometheus.Counter
	active     prometheus.Gauge
}

// NewFetch creates the fetch collectors and registers them with reg.
func NewFetch(reg prometheus.Registerer) (*Fetch, error) {
	m := &Fetch{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "operations_total",
			Help:      "Fetch operations by provenance and result",
		}, []string{"provenance", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time from operation start to terminal callback",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"result"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Bytes received from remote sources",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "active",
			Help:      "Network transfers currently flagged as visible activity",
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration, m.bytes, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Finished 记录一次终态回调。
func (m *Fetch) Finished(provenance, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(provenance, result).Inc()
	m.duration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Fetch) Bytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

// ActivityStarted/ActivityStopped 维护网络活动指示器计数。
func (m *Fetch) ActivityStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Fetch) ActivityStopped() {
	if m == nil {
		return
	}
	m.active.Dec()
}
