// Package server mounts a compiled route registry on an HTTP runtime, next to
// the health, metrics and documentation endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/openapidoc"
	"github.com/rs/zerolog"
)

const (
	serviceName     = "pve-openapi"
	requestIDHeader = "X-Request-Id"
	metricsPrefix   = "pveopenapi_"
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Config holds the settings shared by both runtimes.
type Config struct {
	// Prefix is prepended to every compiled route path.
	Prefix string
	// BodyLimit caps request bodies in bytes.
	BodyLimit int
	// Version is reported by the health endpoint.
	Version string
	Logger  zerolog.Logger
}

// DefaultConfig returns a Config mounting routes under /api2/json.
func DefaultConfig() *Config {
	return &Config{
		Prefix:    "/api2/json",
		BodyLimit: 4 * 1024 * 1024,
		Version:   openapidoc.DefaultInfo().Version,
		Logger:    zerolog.Nop(),
	}
}

// Docs is the rendered OpenAPI document served by the runtimes.
type Docs struct {
	Title string
	JSON  []byte
	YAML  []byte
}

// NewDocs renders doc once for serving.
func NewDocs(doc *openapi3.T) (*Docs, error) {
	jsonData, yamlData, err := openapidoc.Render(doc)
	if err != nil {
		return nil, err
	}

	title := serviceName
	if doc.Info != nil && doc.Info.Title != "" {
		title = doc.Info.Title
	}
	return &Docs{Title: title, JSON: jsonData, YAML: yamlData}, nil
}

// page is a Scalar API reference pointing at /openapi.json.
func (d *Docs) page() []byte {
	return fmt.Appendf(nil, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%s</title>
</head>
<body>
<script id="api-reference" data-url="/openapi.json"></script>
<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`, html.EscapeString(d.Title))
}

// Server is a runtime that can be started and gracefully stopped.
type Server interface {
	Listen(addr string) error
	Shutdown(ctx context.Context) error
}

func health(version string) openapidoc.Health {
	return openapidoc.Health{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(timestampLayout),
		Service:   serviceName,
		Version:   version,
	}
}

// failure maps an error returned by compiler.Route.Serve to a status code and
// client-facing message.
func failure(err error) (int, string) {
	var verr *compiler.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "request canceled"
	default:
		return http.StatusInternalServerError, "failed to process request"
	}
}
