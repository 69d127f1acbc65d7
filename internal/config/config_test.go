package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "minimal.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应该自动填充默认值, got %d", cfg.Global.ListenPort)
	}
	if cfg.Cache.Name != "default" {
		t.Fatalf("Cache.Name 默认应为 default, got %q", cfg.Cache.Name)
	}
	if cfg.Cache.Path != "" {
		t.Fatalf("未配置 Cache.Path 时应保持为空, got %q", cfg.Cache.Path)
	}
	if cfg.Cache.DiskTrimInterval.DurationValue() != time.Minute {
		t.Fatalf("DiskTrimInterval 默认应为 1m, got %s", cfg.Cache.DiskTrimInterval.DurationValue())
	}
	if cfg.Fetch.Timeout.DurationValue() != 15*time.Second {
		t.Fatalf("Fetch.Timeout 默认应为 15s, got %s", cfg.Fetch.Timeout.DurationValue())
	}
	if cfg.Fetch.MaxConcurrent != 6 {
		t.Fatalf("Fetch.MaxConcurrent 默认应为 6, got %d", cfg.Fetch.MaxConcurrent)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Global.LogLevel = "verbose"
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.LogLevel" {
		t.Fatalf("未知日志级别应返回 Global.LogLevel 字段错误, got %v", err)
	}
}

func TestValidateCacheLimits(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*CacheConfig)
		field  string
	}{
		{"negative memory cost", func(c *CacheConfig) { c.MemoryCostLimit = -1 }, "Cache.MemoryCostLimit"},
		{"negative disk count", func(c *CacheConfig) { c.DiskCountLimit = -1 }, "Cache.DiskCountLimit"},
		{"negative disk age", func(c *CacheConfig) { c.DiskAgeLimit = Duration(-time.Second) }, "Cache.DiskAgeLimit"},
		{"zero trim interval", func(c *CacheConfig) { c.DiskTrimInterval = 0 }, "Cache.DiskTrimInterval"},
		{"name with separator", func(c *CacheConfig) { c.Name = "a/b" }, "Cache.Name"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Cache)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) || fieldErr.Field != tc.field {
				t.Fatalf("expected field error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestValidateFetchOptionsAndTransform(t *testing.T) {
	testCases := []struct {
		name      string
		options   string
		transform string
		shouldErr bool
	}{
		{"empty", "", "", false},
		{"known options", "refresh,skip-disk", "", false},
		{"known transform chain", "", "thumbnail,grayscale", false},
		{"unknown option", "refresh,teleport", "", true},
		{"unknown transform", "", "sepia", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Fetch.DefaultOptions = tc.options
			cfg.Fetch.DefaultTransform = tc.transform
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for options=%q transform=%q", tc.options, tc.transform)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for options=%q transform=%q: %v", tc.options, tc.transform, err)
			}
		})
	}
}

func TestValidateRequiresCredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Fetch.Username = "foo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("仅提供 Username 时应报错")
	}

	cfg = validConfig()
	cfg.Hosts[0].Password = "bar"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Host 仅提供 Password 时应报错")
	}
}

func TestValidateRejectsHopByHopHeaders(t *testing.T) {
	cfg := validConfig()
	cfg.Fetch.Headers = map[string]string{"connection": "keep-alive"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "hop-by-hop") {
		t.Fatalf("hop-by-hop 头应被拒绝, got %v", err)
	}
}

func TestValidateHostPatterns(t *testing.T) {
	testCases := []struct {
		name      string
		pattern   string
		shouldErr bool
	}{
		{"exact host", "images.example.com", false},
		{"wildcard", "*.example.com", false},
		{"empty", "", true},
		{"scheme", "https://example.com", true},
		{"path", "example.com/images", true},
		{"bad glob", "[example.com", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Hosts[0].Pattern = tc.pattern
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for pattern %q", tc.pattern)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for pattern %q: %v", tc.pattern, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateHosts(t *testing.T) {
	cfg := validConfig()
	cfg.Hosts = append(cfg.Hosts, cfg.Hosts[0])
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复的 Host Pattern 应报错")
	}
}

func TestHostMatching(t *testing.T) {
	cfg := &Config{Hosts: []HostConfig{
		{Pattern: "*.cdn.example.com", Headers: map[string]string{"X-Token": "wild"}},
		{Pattern: "img.cdn.example.com", Headers: map[string]string{"X-Token": "exact"}},
	}}

	host, ok := cfg.HostFor("IMG.cdn.example.com")
	if !ok || host.Headers["X-Token"] != "wild" {
		t.Fatalf("应按配置顺序返回第一条匹配规则, got %+v ok=%v", host, ok)
	}
	if _, ok := cfg.HostFor("cdn.example.com"); ok {
		t.Fatalf("通配符不应匹配裸域")
	}
	if _, ok := cfg.HostFor("a.b.cdn.example.com"); ok {
		t.Fatalf("* 不应跨越多级子域")
	}
}

func TestCredentialModes(t *testing.T) {
	modes := CredentialModes([]HostConfig{
		{Pattern: "a.example.com", Username: "u", Password: "p"},
		{Pattern: "b.example.com"},
	})
	if len(modes) != 2 || modes[0] != "a.example.com:credentialed" || modes[1] != "b.example.com:inherit" {
		t.Fatalf("unexpected credential modes: %v", modes)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort: 5000,
			LogLevel:   "info",
		},
		Cache: CacheConfig{
			Name:               "default",
			MemoryCostLimit:    1,
			MemoryTrimInterval: Duration(time.Second),
			DiskTrimInterval:   Duration(time.Minute),
		},
		Fetch: FetchConfig{
			Timeout: Duration(time.Second),
		},
		Hosts: []HostConfig{
			{Pattern: "*.example.com"},
		},
	}
}
