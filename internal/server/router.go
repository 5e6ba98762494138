package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bundlehub/internal/logging"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *BucketRegistry
	ListenPort int
	// BodyLimit 限制单次 PUT 的大小（字节），<= 0 时使用 Fiber 默认值。
	BodyLimit int64
}

const contextKeyRequestID = "_bundlehub_request_id"

// NewApp builds a Fiber application serving the registered buckets.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("bucket registry is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	cfg := fiber.Config{
		CaseSensitive: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = int(opts.BodyLimit)
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	objects := &objectHandler{registry: opts.Registry, logger: opts.Logger}
	app.Get("/b/:bucket", objects.list)
	app.Head("/b/:bucket/*", objects.get)
	app.Get("/b/:bucket/*", objects.get)
	app.Put("/b/:bucket/*", objects.put)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		path := string(c.Request().URI().Path())
		if isDiagnosticsPath(path) {
			return err
		}
		bucket, key := splitObjectPath(path)
		fields := logging.RequestFields(bucket, key, c.Method(), c.Response().StatusCode())
		fields["request_id"] = reqID
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		entry := logger.WithFields(fields)
		if err != nil {
			entry.WithError(err).Warn("request failed")
		} else {
			entry.Info("request served")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// splitObjectPath 从 /b/<bucket>/<key> 中拆出桶名与 key，仅用于日志。
func splitObjectPath(path string) (string, string) {
	rest, ok := strings.CutPrefix(path, "/b/")
	if !ok {
		return "", ""
	}
	bucket, key, _ := strings.Cut(rest, "/")
	return bucket, key
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
