package routes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/pixelhub/pixelhub/internal/fetch"
	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/logging"
	"github.com/pixelhub/pixelhub/internal/server"
	"github.com/pixelhub/pixelhub/internal/transform"
)

// RegisterFetchRoutes 暴露 GET /-/fetch?url=&options=&transform=：
// 经 Manager 抓取图片并原样返回字节，X-Pixelhub-From 标明结果来源。
// options 与配置中的默认选项按位合并。
func RegisterFetchRoutes(app *fiber.App, manager *fetch.Manager, defaults fetch.Options, logger *logrus.Logger) {
	if app == nil || manager == nil {
		return
	}

	app.Get("/-/fetch", func(c fiber.Ctx) error {
		started := time.Now()
		rawURL := strings.TrimSpace(c.Query("url"))
		if rawURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		options := defaults
		if raw := c.Query("options"); raw != "" {
			parsed, err := fetch.ParseOptions(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_options", "detail": err.Error()})
			}
			options |= parsed
		}

		var fn fetch.TransformFunc
		if raw := c.Query("transform"); raw != "" {
			lookup, err := transform.Lookup(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_transform", "detail": err.Error()})
			}
			fn = lookup
		}

		op := manager.Request(rawURL, options, nil, fn, nil)
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := op.Wait(ctx); err != nil {
			op.Cancel()
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "request_aborted"})
		}

		img, from, err := op.Result()
		status := fiber.StatusOK
		if err != nil {
			status = renderFetchError(c, err)
		} else {
			writeImage(c, img)
			c.Set("X-Pixelhub-From", from.String())
			c.Set("X-Pixelhub-Cache-Key", op.CacheKey())
		}

		fields := logging.FetchFields(rawURL, op.CacheKey(), from.String(), options.String(), status)
		fields["action"] = "fetch_request"
		fields["request_id"] = server.RequestID(c)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("fetch_request_failed")
		} else {
			logger.WithFields(fields).Info("fetch_request_complete")
		}

		if err != nil {
			return nil
		}
		return c.Send(img.Data)
	})
}

// renderFetchError 把抓取错误映射为 HTTP 状态与 JSON 错误体，返回写入的状态码。
func renderFetchError(c fiber.Ctx, err error) int {
	var (
		netErr       *fetch.NetworkError
		transformErr *fetch.TransformError
		status       int
		body         fiber.Map
	)
	switch {
	case errors.Is(err, fetch.ErrInvalidURL):
		status, body = fiber.StatusBadRequest, fiber.Map{"error": "invalid_url"}
	case errors.Is(err, fetch.ErrDenylisted):
		status, body = fiber.StatusGone, fiber.Map{"error": "denylisted"}
	case errors.Is(err, fetch.ErrManagerClosed), errors.Is(err, fetch.ErrCancelled):
		status, body = fiber.StatusServiceUnavailable, fiber.Map{"error": "cancelled"}
	case errors.As(err, &transformErr):
		status, body = fiber.StatusUnprocessableEntity, fiber.Map{"error": "transform_failed", "stage": transformErr.Stage}
	case errors.As(err, &netErr) && netErr.StatusCode != 0:
		status, body = fiber.StatusBadGateway, fiber.Map{"error": "upstream_status", "upstream_status": netErr.StatusCode}
	case errors.Is(err, context.DeadlineExceeded):
		status, body = fiber.StatusGatewayTimeout, fiber.Map{"error": "upstream_timeout"}
	case errors.As(err, &netErr):
		status, body = fiber.StatusBadGateway, fiber.Map{"error": "upstream_unreachable"}
	default:
		status, body = fiber.StatusInternalServerError, fiber.Map{"error": "fetch_failed"}
	}
	body["detail"] = err.Error()
	_ = c.Status(status).JSON(body)
	return status
}

// writeImage 写入图片相关的响应头，不写响应体。
func writeImage(c fiber.Ctx, img *imaging.Image) {
	c.Set(fiber.HeaderContentType, contentType(img.Format))
	if img.Width > 0 && img.Height > 0 {
		c.Set("X-Pixelhub-Size", strconv.Itoa(img.Width)+"x"+strconv.Itoa(img.Height))
	}
	if img.Frames > 1 {
		c.Set("X-Pixelhub-Frames", strconv.Itoa(img.Frames))
	}
}

func contentType(format string) string {
	switch format {
	case "":
		return fiber.MIMEOctetStream
	case "jpeg", "png", "gif", "webp", "bmp", "tiff":
		return "image/" + format
	default:
		return fiber.MIMEOctetStream
	}
}
