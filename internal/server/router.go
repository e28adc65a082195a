package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/epm-hub/pad-engine/internal/engine"
	"github.com/epm-hub/pad-engine/internal/logging"
	"github.com/epm-hub/pad-engine/internal/repository"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Repository *repository.Repository
	Engine     *engine.Engine
	ListenPort int
	// ReadTimeout/WriteTimeout 为 0 时使用 Fiber 默认值（不限制）。
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	contextKeyRequestID = "_padengine_request_id"
	contextKeyPackage   = "_padengine_package"
)

// NewApp builds a Fiber application with request-id middleware, panic
// recovery, structured access logs and the package routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ReadTimeout:   opts.ReadTimeout,
		WriteTimeout:  opts.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	registerPackageRoutes(app, &packageHandler{
		repo:   opts.Repository,
		engine: opts.Engine,
		logger: opts.Logger,
	})

	return app, nil
}

// RegisterFallback 在所有路由注册完成后调用，未匹配的请求统一返回 JSON 404。
func RegisterFallback(app *fiber.App) {
	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "route_not_found",
		})
	})
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出一条访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		fields := logging.RequestFields(reqID, packageFromContext(c), c.Path(), status)
		fields["action"] = "http_request"
		fields["method"] = c.Method()
		fields["duration_ms"] = time.Since(start).Milliseconds()
		entry := logger.WithFields(fields)
		if status >= fiber.StatusInternalServerError {
			entry.Warn("request_completed")
		} else {
			entry.Debug("request_completed")
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

func packageFromContext(c fiber.Ctx) string {
	if value := c.Locals(contextKeyPackage); value != nil {
		if name, ok := value.(string); ok {
			return name
		}
	}
	return ""
}
