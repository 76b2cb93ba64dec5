package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	fiberzerolog "github.com/gofiber/contrib/v3/zerolog"
	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v3/middleware/recover"
	fiberrequestid "github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/invakid404/pve-openapi/internal/apierror"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/routepath"
	"github.com/rs/zerolog"
)

// FiberServer serves the registry on a Fiber app.
type FiberServer struct {
	app *fiber.App
}

// NewFiber builds the Fiber runtime. A nil config uses DefaultConfig.
func NewFiber(reg *compiler.Registry, docs *Docs, config *Config) (*FiberServer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := RegisterMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	logger := config.Logger

	app := fiber.New(fiber.Config{
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		BodyLimit:    config.BodyLimit,
		ErrorHandler: fiberErrorHandler,
	})

	app.Use(fiberrecover.New())
	app.Use(fiberMetricsMiddleware)
	app.Use(fiberrequestid.New(fiberrequestid.Config{
		Header: requestIDHeader,
	}))
	app.Use(fiberzerolog.New(fiberzerolog.Config{
		Logger: &logger,
		Next: func(c fiber.Ctx) bool {
			path := c.Path()
			return path == "/metrics" || strings.HasPrefix(path, "/_debug")
		},
		Fields: []string{
			fiberzerolog.FieldLatency,
			fiberzerolog.FieldStatus,
			fiberzerolog.FieldMethod,
			fiberzerolog.FieldURL,
			fiberzerolog.FieldRequestID,
			fiberzerolog.FieldError,
		},
	}))

	gatherer := metricsGatherer()
	app.Get("/metrics", func(c fiber.Ctx) error {
		data, err := encodeMetrics(gatherer)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("failed to gather metrics\n")
		}
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		return c.Send(data)
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(health(config.Version))
	})

	if docs != nil {
		app.Get("/openapi.json", func(c fiber.Ctx) error {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(fiber.StatusOK).Send(docs.JSON)
		})
		app.Get("/openapi.yaml", func(c fiber.Ctx) error {
			c.Set(fiber.HeaderContentType, "application/yaml")
			return c.Status(fiber.StatusOK).Send(docs.YAML)
		})
		page := docs.page()
		app.Get("/docs", func(c fiber.Ctx) error {
			c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
			return c.Status(fiber.StatusOK).Send(page)
		})
	}

	if h := debugHandler(reg, logger); h != nil {
		app.All("/_debug/*", fiberadaptor.HTTPHandler(http.StripPrefix("/_debug", h)))
	}

	for _, route := range reg.Routes() {
		path := config.Prefix + routepath.ToRoutePath(route.Path, routepath.ColonSyntax)
		app.Add([]string{string(route.Verb)}, path, fiberRouteHandler(route, logger))
	}

	logger.Debug().Int("routes", reg.Len()).Str("prefix", config.Prefix).Msg("Fiber routes mounted")

	return &FiberServer{app: app}, nil
}

// App exposes the underlying Fiber app, mainly for app.Test.
func (s *FiberServer) App() *fiber.App {
	return s.app
}

func (s *FiberServer) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *FiberServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func fiberRouteHandler(route *compiler.Route, logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		in := compiler.Input{
			Query: c.Queries(),
			Body:  c.Body(),
		}

		if len(route.PathParams) > 0 {
			in.PathParams = make(map[string]string, len(route.PathParams))
			for _, name := range route.PathParams {
				// Fiber matches the raw path, so values are still escaped.
				value, err := url.PathUnescape(c.Params(name))
				if err != nil {
					return writeFiberError(c, fiber.StatusBadRequest, fmt.Sprintf("invalid path parameter %q", name))
				}
				in.PathParams[name] = value
			}
		}

		ctx, cancel := context.WithCancel(c.RequestCtx())
		defer cancel()

		out, err := route.Serve(ctx, in)
		if err != nil {
			status, message := failure(err)
			if status >= fiber.StatusInternalServerError {
				logger.Error().Err(err).Str("method", string(route.Verb)).Str("path", route.Path).Msg("route failed")
			}
			return writeFiberError(c, status, message)
		}

		return c.Status(out.Status).JSON(out.Body)
	}
}

func writeFiberError(c fiber.Ctx, statusCode int, message string) error {
	resp := apierror.New(statusCode, message)
	resp.RequestID = fiberrequestid.FromContext(c)
	return c.Status(statusCode).JSON(resp)
}

// fiberErrorHandler renders errors escaping the handlers (unknown routes,
// recovered panics) with the JSON error envelope.
func fiberErrorHandler(c fiber.Ctx, err error) error {
	statusCode := fiber.StatusInternalServerError
	message := "internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		statusCode = fiberErr.Code
		message = fiberErr.Message
	}

	return writeFiberError(c, statusCode, message)
}

func fiberMetricsMiddleware(c fiber.Ctx) error {
	httpRequestsInflight.Inc()
	defer httpRequestsInflight.Dec()
	start := time.Now()

	err := c.Next()

	statusCode := c.Response().StatusCode()
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			statusCode = fiberErr.Code
			if statusCode == 0 {
				statusCode = fiber.StatusInternalServerError
			}
		} else if statusCode < 400 {
			statusCode = fiber.StatusInternalServerError
		}
	}

	path := c.FullPath()
	if path == "" {
		path = unmatchedPath
	}
	status := strconv.Itoa(statusCode)
	httpRequestsTotal.WithLabelValues(c.Method(), path, status).Inc()
	httpRequestDuration.WithLabelValues(c.Method(), path, status).Observe(time.Since(start).Seconds())

	return err
}
