package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/invakid404/pve-openapi/internal/apierror"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/httplogger"
	"github.com/invakid404/pve-openapi/internal/routepath"
)

// ChiServer serves the registry on a chi router behind net/http.
type ChiServer struct {
	handler http.Handler
	server  *http.Server
}

// NewChi builds the net/http runtime. A nil config uses DefaultConfig.
func NewChi(reg *compiler.Registry, docs *Docs, config *Config) (*ChiServer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := RegisterMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	logger := config.Logger

	r := chi.NewRouter()

	r.Use(chiMetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if reqID := middleware.GetReqID(req.Context()); reqID != "" {
				w.Header().Set(requestIDHeader, reqID)
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Use(httplogger.RequestLogger(logger, &httplogger.Options{
		RecoverPanics: true,
		Skip: func(req *http.Request) bool {
			return req.URL.Path == "/metrics"
		},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Body = http.MaxBytesReader(w, req.Body, int64(config.BodyLimit))
			next.ServeHTTP(w, req)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeChiError(w, req, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeChiError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	gatherer := metricsGatherer()
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		data, err := encodeMetrics(gatherer)
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write(data)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, health(config.Version))
	})

	if docs != nil {
		r.Get("/openapi.json", staticHandler("application/json", docs.JSON))
		r.Get("/openapi.yaml", staticHandler("application/yaml", docs.YAML))
		r.Get("/docs", staticHandler("text/html; charset=utf-8", docs.page()))
	}

	if h := debugHandler(reg, logger); h != nil {
		r.Mount("/_debug", h)
	}

	for _, route := range reg.Routes() {
		path := config.Prefix + routepath.ToRoutePath(route.Path, routepath.BraceSyntax)
		r.MethodFunc(string(route.Verb), path, chiRouteHandler(route))
	}

	logger.Debug().Int("routes", reg.Len()).Str("prefix", config.Prefix).Msg("chi routes mounted")

	return &ChiServer{
		handler: r,
		server: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Handler exposes the router, mainly for httptest.
func (s *ChiServer) Handler() http.Handler {
	return s.handler
}

func (s *ChiServer) Listen(addr string) error {
	s.server.Addr = addr
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *ChiServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func staticHandler(contentType string, data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func chiRouteHandler(route *compiler.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeChiError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeChiError(w, r, http.StatusBadRequest, "failed to read request body")
			return
		}

		in := compiler.Input{Body: body}

		if query := r.URL.Query(); len(query) > 0 {
			in.Query = make(map[string]string, len(query))
			for key := range query {
				in.Query[key] = query.Get(key)
			}
		}

		if len(route.PathParams) > 0 {
			in.PathParams = make(map[string]string, len(route.PathParams))
			for _, name := range route.PathParams {
				value := chi.URLParam(r, name)
				// chi matches RawPath when the request carried one.
				if r.URL.RawPath != "" {
					if value, err = url.PathUnescape(value); err != nil {
						writeChiError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid path parameter %q", name))
						return
					}
				}
				in.PathParams[name] = value
			}
		}

		out, err := route.Serve(r.Context(), in)
		if err != nil {
			status, message := failure(err)
			if status >= http.StatusInternalServerError {
				httplogger.SetError(r.Context(), err)
			}
			writeChiError(w, r, status, message)
			return
		}

		render.Status(r, out.Status)
		render.JSON(w, r, out.Body)
	}
}

func writeChiError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	apierror.WriteJSON(w, message, statusCode, middleware.GetReqID(r.Context()))
}

func chiMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpRequestsInflight.Inc()
		defer httpRequestsInflight.Dec()
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := unmatchedPath
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		httpRequestsTotal.WithLabelValues(r.Method, path, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
	})
}
