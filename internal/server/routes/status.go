package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/pixelhub/pixelhub/internal/cache"
	"github.com/pixelhub/pixelhub/internal/fetch"
	"github.com/pixelhub/pixelhub/internal/metrics"
	"github.com/pixelhub/pixelhub/internal/server"
	"github.com/pixelhub/pixelhub/internal/transform"
	"github.com/pixelhub/pixelhub/internal/version"
)

type tierPayload struct {
	Count int   `json:"count"`
	Cost  int64 `json:"cost"`
}

type statsPayload struct {
	Version    string      `json:"version"`
	Cache      string      `json:"cache"`
	Path       string      `json:"path"`
	Memory     tierPayload `json:"memory"`
	Disk       tierPayload `json:"disk"`
	Active     int         `json:"active_fetches"`
	Denylisted int         `json:"denylisted"`
	Transforms []string    `json:"transforms"`
}

// RegisterStatusRoutes 暴露 /-/stats 与 /-/denylist 诊断接口。
func RegisterStatusRoutes(app *fiber.App, c *cache.Cache, manager *fetch.Manager, logger *logrus.Logger) {
	if app == nil || c == nil || manager == nil {
		return
	}

	app.Get("/-/stats", func(ctx fiber.Ctx) error {
		return ctx.JSON(buildStats(c, manager))
	})

	app.Get("/-/denylist", func(ctx fiber.Ctx) error {
		urls := manager.Denylist().List()
		sort.Strings(urls)
		return ctx.JSON(fiber.Map{"urls": urls})
	})

	app.Delete("/-/denylist", func(ctx fiber.Ctx) error {
		cleared := manager.ClearDenylist()
		logger.WithFields(logrus.Fields{
			"action":     "denylist_clear",
			"cleared":    cleared,
			"request_id": server.RequestID(ctx),
		}).Info("denylist_cleared")
		return ctx.JSON(fiber.Map{"cleared": cleared})
	})
}

// RegisterMetricsRoutes 以 Prometheus 文本格式暴露 /-/metrics。
func RegisterMetricsRoutes(app *fiber.App, reg *metrics.Registry) {
	if app == nil || reg == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(reg.Handler()))
}

func buildStats(c *cache.Cache, manager *fetch.Manager) statsPayload {
	return statsPayload{
		Version: version.Full(),
		Cache:   c.Name(),
		Path:    c.Disk().Path(),
		Memory: tierPayload{
			Count: c.Memory().TotalCount(),
			Cost:  c.Memory().TotalCost(),
		},
		Disk: tierPayload{
			Count: c.Disk().TotalCount(),
			Cost:  c.Disk().TotalCost(),
		},
		Active:     manager.Active(),
		Denylisted: manager.Denylist().Len(),
		Transforms: transform.Keys(),
	}
}
