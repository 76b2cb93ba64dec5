//go:build debug

package server

import (
	"bytes"
	"net/http"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/rs/zerolog"
)

type debugRoute struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	OperationID string   `json:"operation_id"`
	Tag         string   `json:"tag"`
	PathParams  []string `json:"path_params,omitempty"`
	Body        bool     `json:"body_contract"`
	Query       bool     `json:"query_contract"`
	Response    bool     `json:"response_contract"`
}

// debugHandler serves the /_debug endpoints, relative to their mount point.
func debugHandler(reg *compiler.Registry, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Dump the compiled registry and every collision resolved while building it.
	r.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
		routes := make([]debugRoute, 0, reg.Len())
		for _, route := range reg.Routes() {
			routes = append(routes, debugRoute{
				Method:      string(route.Verb),
				Path:        route.Path,
				OperationID: route.OperationID,
				Tag:         route.Tag,
				PathParams:  route.PathParams,
				Body:        route.Body != nil,
				Query:       route.Query != nil,
				Response:    route.Response != nil,
			})
		}

		render.JSON(w, r, map[string]any{
			"status":     "ok",
			"count":      len(routes),
			"routes":     routes,
			"collisions": reg.Collisions(),
		})
	})
	logger.Info().Msg("Debug endpoints enabled: /_debug/routes")

	// Goroutine stacks, optionally filtered by comma-separated case-insensitive
	// patterns. Patterns prefixed with - exclude matching stacks.
	r.Get("/goroutines", func(w http.ResponseWriter, r *http.Request) {
		debugLevel := 2
		if lvl := r.URL.Query().Get("debug"); lvl != "" {
			if parsed, err := strconv.Atoi(lvl); err == nil {
				debugLevel = parsed
			}
		}

		var buf bytes.Buffer
		if err := pprof.Lookup("goroutine").WriteTo(&buf, debugLevel); err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]any{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}

		response := map[string]any{
			"status":      "ok",
			"total_count": runtime.NumGoroutine(),
		}

		filter := r.URL.Query().Get("filter")
		if filter == "" {
			response["stacks"] = buf.String()
			render.JSON(w, r, response)
			return
		}

		include, exclude := splitPatterns(filter)
		var matched []string
		for _, stack := range strings.Split(buf.String(), "goroutine ") {
			lower := strings.ToLower(stack)
			if stack == "" || (len(include) > 0 && !containsAny(lower, include)) || containsAny(lower, exclude) {
				continue
			}
			if len(stack) > 1000 {
				stack = stack[:1000] + "..."
			}
			matched = append(matched, "goroutine "+stack)
		}

		response["filter"] = filter
		response["match_count"] = len(matched)
		response["matched_stacks"] = matched
		render.JSON(w, r, response)
	})
	logger.Info().Msg("Debug endpoints enabled: /_debug/goroutines")

	r.Get("/gc", func(w http.ResponseWriter, r *http.Request) {
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		runtime.GC()
		debug.FreeOSMemory()
		runtime.ReadMemStats(&after)

		render.JSON(w, r, map[string]any{
			"status":            "ok",
			"heap_alloc_before": before.HeapAlloc,
			"heap_alloc_after":  after.HeapAlloc,
			"heap_released":     after.HeapReleased,
			"memory_limit":      debug.SetMemoryLimit(-1),
		})
	})
	logger.Info().Msg("Debug endpoints enabled: /_debug/gc")

	return r
}

func splitPatterns(filter string) (include, exclude []string) {
	for _, pattern := range strings.Split(filter, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "", pattern == "-":
		case strings.HasPrefix(pattern, "-"):
			exclude = append(exclude, pattern[1:])
		default:
			include = append(include, pattern)
		}
	}
	return include, exclude
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
