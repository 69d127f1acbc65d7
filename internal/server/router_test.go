package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterSetsRequestID(t *testing.T) {
	app := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString(RequestID(c))
	})
	UseNotFound(app, discardLogger())

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if string(body) != reqID {
		t.Fatalf("handler should see the same request id, got %q vs %q", body, reqID)
	}

	req := httptest.NewRequest("GET", "/-/ping", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "upstream-id" {
		t.Fatalf("incoming request id should be kept, got %q", got)
	}
}

func TestRouterReturns404ForUnknownPath(t *testing.T) {
	app := newTestApp(t)
	UseNotFound(app, discardLogger())

	resp, err := app.Test(httptest.NewRequest("GET", "/unknown", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error, got %s", string(body))
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	app := newTestApp(t)
	app.Get("/-/boom", func(fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/boom", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{ListenPort: 5000}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: discardLogger()}); err == nil {
		t.Fatalf("invalid port should fail")
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	app, err := NewApp(AppOptions{Logger: discardLogger(), ListenPort: 5000})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
