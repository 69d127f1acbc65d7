package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/pixelhub/pixelhub/internal/cache"
	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/logging"
	"github.com/pixelhub/pixelhub/internal/server"
)

// RegisterCacheRoutes 暴露缓存的直接读写接口：
//   - GET|HEAD /-/cache?key=   读取条目（HEAD 只判断存在，不回填内存层）
//   - DELETE   /-/cache?key=   删除单个条目
//   - DELETE   /-/cache        清空两级缓存
//   - POST     /-/cache/signal?type=memory-warning|background  转发生命周期信号
func RegisterCacheRoutes(app *fiber.App, c *cache.Cache, logger *logrus.Logger) {
	if app == nil || c == nil {
		return
	}

	app.Get("/-/cache", func(ctx fiber.Ctx) error {
		key := ctx.Query("key")
		if key == "" {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		if ctx.Method() == fiber.MethodHead {
			if !c.Contains(key) {
				return ctx.SendStatus(fiber.StatusNotFound)
			}
			return ctx.SendStatus(fiber.StatusOK)
		}

		value, tier, ok := c.Lookup(key)
		if !ok {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		ctx.Set("X-Pixelhub-Tier", tier.String())
		switch v := value.(type) {
		case *imaging.Image:
			writeImage(ctx, v)
			return ctx.Send(v.Data)
		case []byte:
			ctx.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
			return ctx.Send(v)
		default:
			return ctx.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{"error": "unsupported_value"})
		}
	})

	app.Delete("/-/cache", func(ctx fiber.Ctx) error {
		fields := logging.CacheFields(c.Name(), c.Disk().Path(), c.Memory().TotalCost(), c.Disk().TotalCost())
		fields["request_id"] = server.RequestID(ctx)

		if key := ctx.Query("key"); key != "" {
			if err := c.Remove(key); err != nil {
				return err
			}
			fields["action"] = "cache_remove"
			fields["key"] = key
			logger.WithFields(fields).Info("cache_entry_removed")
			return ctx.SendStatus(fiber.StatusNoContent)
		}

		removed, err := removeAll(c, func(n, total int) {
			logger.WithFields(logrus.Fields{"action": "cache_clear", "removed": n, "total": total}).Debug("cache_clear_progress")
		})
		if err != nil {
			return err
		}
		fields["action"] = "cache_clear"
		fields["removed"] = removed
		logger.WithFields(fields).Info("cache_cleared")
		return ctx.JSON(fiber.Map{"removed": removed})
	})

	app.Post("/-/cache/signal", func(ctx fiber.Ctx) error {
		signal := strings.ToLower(strings.TrimSpace(ctx.Query("type")))
		switch signal {
		case "memory-warning":
			c.HandleMemoryWarning()
		case "background":
			c.HandleBackground()
		default:
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_signal"})
		}
		logger.WithFields(logrus.Fields{
			"action":     "cache_signal",
			"signal":     signal,
			"cache":      c.Name(),
			"request_id": server.RequestID(ctx),
		}).Info("cache_signal_handled")
		return ctx.JSON(fiber.Map{
			"signal":       signal,
			"memory_count": c.Memory().TotalCount(),
			"memory_cost":  c.Memory().TotalCost(),
		})
	})
}

// removeAll 排在所有已提交的异步操作之后清空缓存，阻塞直到磁盘层报告结束。
func removeAll(c *cache.Cache, progress func(removed, total int)) (int, error) {
	type result struct {
		total int
		err   error
	}
	done := make(chan result, 1)
	var total int
	c.RemoveAllAsync(func(removed, all int) {
		total = all
		if progress != nil {
			progress(removed, all)
		}
	}, func(err error) {
		done <- result{total: total, err: err}
	})
	res := <-done
	return res.total, res.err
}
