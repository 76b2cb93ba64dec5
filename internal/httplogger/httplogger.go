// Package httplogger provides zerolog request logging for net/http servers and
// clients.
package httplogger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gregwebs/go-recovery"
	"github.com/invakid404/pve-openapi/internal/apierror"
	"github.com/rs/zerolog"
)

// Options configures the request logger middleware.
type Options struct {
	// RecoverPanics turns handler panics into a logged error and a JSON 500.
	RecoverPanics bool

	// Skip, when set, bypasses logging for matching requests.
	Skip func(r *http.Request) bool

	// RequestIDFromCtx extracts the request ID. Defaults to middleware.GetReqID.
	RequestIDFromCtx func(ctx context.Context) string

	// LogRequestHeaders lists request headers copied into the log line.
	LogRequestHeaders []string
}

type contextKey struct{}

// RequestLogger creates HTTP request logging middleware using zerolog. The
// request-scoped logger is available to handlers through LogEntry.
func RequestLogger(logger zerolog.Logger, opts *Options) func(http.Handler) http.Handler {
	if opts == nil {
		opts = &Options{}
	}
	requestID := opts.RequestIDFromCtx
	if requestID == nil {
		requestID = middleware.GetReqID
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := requestID(r.Context())
			reqLogger := logger.With().Logger()
			if reqID != "" {
				reqLogger = reqLogger.With().Str("request_id", reqID).Logger()
			}
			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, &reqLogger))

			if opts.RecoverPanics {
				serveRecovering(ww, r, next, &reqLogger, reqID)
			} else {
				next.ServeHTTP(ww, r)
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			var event *zerolog.Event
			switch {
			case status >= 500:
				event = reqLogger.Error()
			case status >= 400:
				event = reqLogger.Warn()
			default:
				event = reqLogger.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start))

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					event.Str("route", pattern)
				}
			}

			for _, header := range opts.LogRequestHeaders {
				if val := r.Header.Get(header); val != "" {
					event.Str("header_"+header, val)
				}
			}

			event.Msg("Request completed")
		})
	}
}

func serveRecovering(w middleware.WrapResponseWriter, r *http.Request, next http.Handler, logger *zerolog.Logger, reqID string) {
	panicErr := recovery.Call(func() error {
		next.ServeHTTP(w, r)
		return nil
	})
	if panicErr == nil {
		return
	}

	// http.ErrAbortHandler must keep unwinding so net/http drops the connection.
	if errors.Is(panicErr, http.ErrAbortHandler) {
		panic(http.ErrAbortHandler)
	}

	logger.Error().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("stack", fmt.Sprintf("%+v", panicErr)).
		Msg("Panic recovered")

	if w.Status() == 0 {
		apierror.WriteJSON(w, "internal server error", http.StatusInternalServerError, reqID)
	}
}

// LogEntry returns the request-scoped logger, or nil outside RequestLogger.
func LogEntry(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*zerolog.Logger); ok {
		return logger
	}
	return nil
}

// SetError attaches err to the request's completion log line.
func SetError(ctx context.Context, err error) {
	if logger := LogEntry(ctx); logger != nil {
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Err(err)
		})
	}
}
