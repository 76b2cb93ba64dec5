//go:build debug

package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const debugSchema = `[
  {"path": "/version", "info": {"GET": {"returns": {"type": "object"}}}},
  {"path": "/nodes/{node}/qemu/{vmid}", "info": {
    "DELETE": {"parameters": {"properties": {
      "node": {"type": "string"},
      "vmid": {"type": "integer"},
      "purge": {"type": "boolean", "optional": 1}
    }}}
  }},
  {"path": "/nodes/{name}/qemu/{id}", "info": {"DELETE": {}}}
]`

func newDebugRuntimes(t *testing.T) []testRuntime {
	t.Helper()

	nodes, err := pveschema.Parse([]byte(debugSchema))
	require.NoError(t, err)
	reg := compiler.New(nil, nil).Build(nodes)

	fiberServer, err := NewFiber(reg, nil, nil)
	require.NoError(t, err)
	chiServer, err := NewChi(reg, nil, nil)
	require.NoError(t, err)

	return []testRuntime{
		{
			name: "fiber",
			do: func(t *testing.T, req *http.Request) *http.Response {
				resp, err := fiberServer.App().Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
				require.NoError(t, err)
				return resp
			},
		},
		{
			name: "chi",
			do: func(_ *testing.T, req *http.Request) *http.Response {
				rec := httptest.NewRecorder()
				chiServer.Handler().ServeHTTP(rec, req)
				return rec.Result()
			},
		},
	}
}

func TestDebugRoutes(t *testing.T) {
	for _, rt := range newDebugRuntimes(t) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/_debug/routes", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)

			body := decode(t, resp)
			assert.Equal(t, "ok", body["status"])
			assert.Equal(t, float64(2), body["count"])

			routes, ok := body["routes"].([]any)
			require.True(t, ok)
			require.Len(t, routes, 2)

			version := routes[0].(map[string]any)
			assert.Equal(t, "GET", version["method"])
			assert.Equal(t, "/version", version["path"])
			assert.Equal(t, true, version["response_contract"])
			assert.Equal(t, false, version["body_contract"])
			assert.NotContains(t, version, "path_params")

			del := routes[1].(map[string]any)
			assert.Equal(t, "DELETE", del["method"])
			assert.Equal(t, "/nodes/{name}/qemu/{id}", del["path"])
			assert.Equal(t, []any{"id", "name"}, del["path_params"])
			assert.Equal(t, false, del["query_contract"])

			assert.Equal(t, []any{
				map[string]any{
					"method":   "DELETE",
					"path":     "/nodes/{name}/qemu/{id}",
					"replaced": "/nodes/{node}/qemu/{vmid}",
				},
			}, body["collisions"])
		})
	}
}

func TestDebugGoroutines(t *testing.T) {
	for _, rt := range newDebugRuntimes(t) {
		t.Run(rt.name, func(t *testing.T) {
			t.Run("unfiltered", func(t *testing.T) {
				resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/_debug/goroutines", nil))
				require.Equal(t, http.StatusOK, resp.StatusCode)

				body := decode(t, resp)
				assert.Equal(t, "ok", body["status"])
				assert.Greater(t, body["total_count"], float64(0))
				stacks, ok := body["stacks"].(string)
				require.True(t, ok)
				assert.Contains(t, stacks, "goroutine ")
			})

			t.Run("include", func(t *testing.T) {
				target := "/_debug/goroutines?filter=" + url.QueryEscape("Testing.tRunner")
				body := decode(t, rt.do(t, httptest.NewRequest(http.MethodGet, target, nil)))

				assert.Equal(t, "Testing.tRunner", body["filter"])
				assert.Greater(t, body["match_count"], float64(0))
				assert.NotContains(t, body, "stacks")

				matched, ok := body["matched_stacks"].([]any)
				require.True(t, ok)
				assert.Len(t, matched, int(body["match_count"].(float64)))
				for _, stack := range matched {
					assert.True(t, strings.HasPrefix(stack.(string), "goroutine "))
				}
			})

			t.Run("exclude wins", func(t *testing.T) {
				target := "/_debug/goroutines?filter=" + url.QueryEscape("testing.tRunner,-testing.tRunner")
				body := decode(t, rt.do(t, httptest.NewRequest(http.MethodGet, target, nil)))

				assert.Equal(t, float64(0), body["match_count"])
			})
		})
	}
}

func TestDebugGC(t *testing.T) {
	for _, rt := range newDebugRuntimes(t) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/_debug/gc", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)

			body := decode(t, resp)
			assert.Equal(t, "ok", body["status"])
			for _, key := range []string{"heap_alloc_before", "heap_alloc_after", "heap_released", "memory_limit"} {
				assert.Contains(t, body, key)
			}
			assert.Greater(t, body["memory_limit"], float64(0))
		})
	}
}

func TestSplitPatterns(t *testing.T) {
	include, exclude := splitPatterns(" Pool ,-GC, ,-,worker")
	assert.Equal(t, []string{"pool", "worker"}, include)
	assert.Equal(t, []string{"gc"}, exclude)
}
