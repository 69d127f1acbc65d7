package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/pixelhub/pixelhub/internal/config"
	"github.com/pixelhub/pixelhub/internal/server"
)

// TestFetchFlowSurvivesRestart 覆盖 "远端 → 内存 → 重启后磁盘" 的完整链路。
func TestFetchFlowSurvivesRestart(t *testing.T) {
	payload := encodePNG(t, 64, 48)
	var hits atomic.Int32
	var sawToken atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Token") == "abc" {
			sawToken.Store(true)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer upstream.Close()

	cacheDir := filepath.Join(t.TempDir(), "cache")
	configPath := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
LogLevel = "warn"

[Cache]
Name = "integration"
Path = "%s"
MemoryCostLimit = 1048576

[Fetch]
Timeout = "5s"
DefaultTransform = "thumbnail"

[[Host]]
Pattern = "127.0.0.1"

[Host.Headers]
X-Token = "abc"
`, cacheDir))

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	target := "/-/fetch?url=" + url.QueryEscape(upstream.URL+"/photo.png")

	first := serveOnce(t, cfg, logger, target, target)
	if first[0] != "remote" || first[1] != "memory-fast" {
		t.Fatalf("expected remote then memory-fast, got %v", first)
	}
	if !sawToken.Load() {
		t.Fatalf("host rule headers should reach the upstream")
	}

	second := serveOnce(t, cfg, logger, target)
	if second[0] != "disk" {
		t.Fatalf("after restart the entry should come from disk, got %v", second)
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream should be hit exactly once, got %d", hits.Load())
	}
}

// serveOnce 启动一套运行时，依次请求 targets 并返回每次的 X-Pixelhub-From，结束时关闭运行时。
func serveOnce(t *testing.T, cfg *config.Config, logger *logrus.Logger, targets ...string) []string {
	t.Helper()
	rt, err := server.Bootstrap(cfg, logger)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			t.Fatalf("close runtime: %v", err)
		}
	}()

	app, err := buildApp(cfg, rt, logger)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}

	var sources []string
	for _, target := range targets {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		if err != nil {
			t.Fatalf("request %s: %v", target, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %s returned %d: %s", target, resp.StatusCode, body)
		}
		decoded, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("response should be an image: %v", err)
		}
		if b := decoded.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
			t.Fatalf("thumbnail should keep small images unchanged, got %v", b)
		}
		sources = append(sources, resp.Header.Get("X-Pixelhub-From"))
	}
	return sources
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, B: 90, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
