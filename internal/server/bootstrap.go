package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/pixelhub/pixelhub/internal/cache"
	"github.com/pixelhub/pixelhub/internal/config"
	"github.com/pixelhub/pixelhub/internal/fetch"
	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/logging"
	"github.com/pixelhub/pixelhub/internal/metrics"
	"github.com/pixelhub/pixelhub/internal/transform"
	"github.com/pixelhub/pixelhub/internal/version"
)

// Runtime 聚合由配置构建出的长生命周期组件，Close 按依赖逆序释放。
type Runtime struct {
	Cache          *cache.Cache
	Manager        *fetch.Manager
	Monitor        *cache.PressureMonitor
	Metrics        *metrics.Registry
	DefaultOptions fetch.Options
}

// Bootstrap 按“指标 → 缓存 → 内存压力监视 → Manager”顺序构建运行时组件。
func Bootstrap(cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	reg, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("注册指标失败: %w", err)
	}

	c, err := BuildCache(cfg.Cache, logger, reg.Cache)
	if err != nil {
		return nil, err
	}

	monitor := cache.NewPressureMonitor(uint64(cfg.Cache.MemoryPressureLimit), cfg.Cache.MemoryPressureInterval.DurationValue())
	monitor.Watch(c.Memory())
	monitor.Start()

	manager, defaults, err := BuildManager(cfg, c, logger, reg.Fetch)
	if err != nil {
		monitor.Stop()
		c.Close()
		return nil, err
	}

	return &Runtime{
		Cache:          c,
		Manager:        manager,
		Monitor:        monitor,
		Metrics:        reg,
		DefaultOptions: defaults,
	}, nil
}

// Close 取消进行中的抓取，停止监视器并关闭缓存。
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Manager != nil {
		r.Manager.Close()
	}
	if r.Monitor != nil {
		r.Monitor.Stop()
	}
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

// BuildCache 打开 [Cache] 段描述的两级缓存，内存层直接存放解码后的图片。
func BuildCache(cfg config.CacheConfig, logger *logrus.Logger, m *metrics.Cache) (*cache.Cache, error) {
	c, err := cache.Open(cache.Options{
		Name:                   cfg.Name,
		Path:                   cfg.Path,
		MemoryCostLimit:        cfg.MemoryCostLimit,
		MemoryCountLimit:       cfg.MemoryCountLimit,
		MemoryAgeLimit:         cfg.MemoryAgeLimit.DurationValue(),
		MemoryTrimInterval:     cfg.MemoryTrimInterval.DurationValue(),
		KeepMemoryOnWarning:    cfg.KeepMemoryOnWarning,
		KeepMemoryOnBackground: cfg.KeepMemoryOnBackground,
		DiskCostLimit:          cfg.DiskCostLimit,
		DiskCountLimit:         cfg.DiskCountLimit,
		DiskAgeLimit:           cfg.DiskAgeLimit.DurationValue(),
		DiskTrimInterval:       cfg.DiskTrimInterval.DurationValue(),
		FreeDiskSpaceLimit:     cfg.FreeDiskSpaceLimit,
		InlineThreshold:        cfg.InlineThreshold,
		Codec:                  imaging.NewCodec(nil, imaging.DecodeOptions{}),
		Logger:                 logger,
		Metrics:                m,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}

	fields := logging.CacheFields(c.Name(), c.Disk().Path(), cfg.MemoryCostLimit, cfg.DiskCostLimit)
	fields["action"] = "cache_open"
	fields["entries"] = c.Disk().TotalCount()
	logger.WithFields(fields).Info("缓存已打开")
	return c, nil
}

// BuildManager 根据 [Fetch] 与 [[Host]] 段创建 Manager，同时返回解析后的默认抓取选项。
func BuildManager(cfg *config.Config, c *cache.Cache, logger *logrus.Logger, m *metrics.Fetch) (*fetch.Manager, fetch.Options, error) {
	defaults, err := fetch.ParseOptions(cfg.Fetch.DefaultOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("Fetch.DefaultOptions: %w", err)
	}
	fn, err := transform.Lookup(cfg.Fetch.DefaultTransform)
	if err != nil {
		return nil, 0, fmt.Errorf("Fetch.DefaultTransform: %w", err)
	}

	opts := fetch.ManagerOptions{
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		Timeout:       cfg.Fetch.Timeout.DurationValue(),
		Username:      cfg.Fetch.Username,
		Password:      cfg.Fetch.Password,
		Headers:       DefaultHeaders(cfg.Fetch.Headers),
		Transform:     fn,
		Logger:        logger,
		Metrics:       m,
	}
	if len(cfg.Hosts) > 0 {
		opts.HeaderFilter = HeaderFilter(cfg.Hosts)
	}
	return fetch.NewManager(c, opts), defaults, nil
}

// DefaultHeaders 合并 Accept/User-Agent 默认值与配置中的额外请求头，后者优先。
func DefaultHeaders(extra map[string]string) http.Header {
	headers := http.Header{}
	headers.Set("Accept", fetch.DefaultAccept)
	headers.Set("User-Agent", version.UserAgent())
	for name, value := range extra {
		headers.Set(name, value)
	}
	return headers
}

// HeaderFilter 返回按主机名套用 [[Host]] 规则的过滤器：追加规则中的请求头，
// 规则带凭证时以 Basic 认证覆盖全局凭证。只应用第一条匹配的规则。
func HeaderFilter(hosts []config.HostConfig) func(*url.URL, http.Header) http.Header {
	rules := &config.Config{Hosts: hosts}
	return func(u *url.URL, headers http.Header) http.Header {
		host, ok := rules.HostFor(u.Hostname())
		if !ok {
			return headers
		}
		for name, value := range host.Headers {
			headers.Set(name, value)
		}
		if host.HasCredentials() {
			req := http.Request{Header: headers}
			req.SetBasicAuth(host.Username, host.Password)
		}
		return headers
	}
}
