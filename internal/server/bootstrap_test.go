package server

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/pixelhub/pixelhub/internal/config"
	"github.com/pixelhub/pixelhub/internal/fetch"
	"github.com/pixelhub/pixelhub/internal/version"
)

func TestHeaderFilterAppliesFirstMatchingHost(t *testing.T) {
	filter := HeaderFilter([]config.HostConfig{
		{Pattern: "*.cdn.example.com", Username: "reader", Password: "secret", Headers: map[string]string{"x-token": "abc"}},
		{Pattern: "img.cdn.example.com", Headers: map[string]string{"x-token": "shadowed"}},
	})

	u, _ := url.Parse("https://img.cdn.example.com:8443/a.png")
	headers := filter(u, http.Header{"Accept": {"image/*"}})
	if got := headers.Get("X-Token"); got != "abc" {
		t.Fatalf("expected first rule header, got %q", got)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("reader:secret"))
	if got := headers.Get("Authorization"); got != want {
		t.Fatalf("expected basic auth override, got %q", got)
	}
	if headers.Get("Accept") != "image/*" {
		t.Fatalf("existing headers should be kept")
	}

	other, _ := url.Parse("https://example.org/a.png")
	if got := filter(other, http.Header{}); len(got) != 0 {
		t.Fatalf("non-matching host should be untouched, got %v", got)
	}
}

func TestDefaultHeadersKeepAccept(t *testing.T) {
	headers := DefaultHeaders(map[string]string{"user-agent": "pixelhub/1"})
	if headers.Get("Accept") != fetch.DefaultAccept {
		t.Fatalf("Accept should default to %q", fetch.DefaultAccept)
	}
	if headers.Get("User-Agent") != "pixelhub/1" {
		t.Fatalf("configured headers should be canonicalised and kept")
	}
	if got := DefaultHeaders(nil).Get("User-Agent"); got != version.UserAgent() {
		t.Fatalf("User-Agent should default to %q, got %q", version.UserAgent(), got)
	}
}

func TestBootstrapBuildsRuntime(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000, LogLevel: "info"},
		Cache: config.CacheConfig{
			Name:               "test",
			Path:               t.TempDir(),
			MemoryCostLimit:    1 << 20,
			MemoryTrimInterval: config.Duration(time.Second),
			DiskTrimInterval:   config.Duration(time.Minute),
		},
		Fetch: config.FetchConfig{
			Timeout:          config.Duration(time.Second),
			MaxConcurrent:    2,
			DefaultOptions:   "skip-disk,refresh",
			DefaultTransform: "",
		},
	}

	rt, err := Bootstrap(cfg, discardLogger())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer rt.Close()

	if rt.Cache.Name() != "test" || rt.Cache.Disk().Path() != cfg.Cache.Path {
		t.Fatalf("cache not built from config: %s %s", rt.Cache.Name(), rt.Cache.Disk().Path())
	}
	if rt.Manager.Timeout() != time.Second {
		t.Fatalf("manager timeout should come from config, got %s", rt.Manager.Timeout())
	}
	if !rt.DefaultOptions.Has(fetch.OptionIgnoreDiskCache) || !rt.DefaultOptions.Has(fetch.OptionRefresh) {
		t.Fatalf("default options not parsed: %s", rt.DefaultOptions)
	}
	if rt.Metrics == nil || rt.Monitor == nil {
		t.Fatalf("metrics and pressure monitor should be created")
	}
}

func TestBuildManagerRejectsUnknownTransform(t *testing.T) {
	cfg := &config.Config{Fetch: config.FetchConfig{DefaultTransform: "sepia"}}
	if _, _, err := BuildManager(cfg, nil, discardLogger(), nil); err == nil {
		t.Fatalf("unknown transform should fail")
	}
}
