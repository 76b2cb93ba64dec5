package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/doctags"
	"github.com/invakid404/pve-openapi/internal/openapidoc"
	"github.com/invakid404/pve-openapi/internal/pve"
	"github.com/invakid404/pve-openapi/internal/pve/pvetest"
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `[
  {
    "path": "/version",
    "text": "version",
    "leaf": 1,
    "info": {
      "GET": {
        "name": "version",
        "description": "API version details.",
        "returns": {
          "type": "object",
          "properties": {
            "version": {"type": "string"},
            "release": {"type": "string"}
          }
        }
      }
    }
  },
  {
    "path": "/nodes",
    "text": "nodes",
    "children": [
      {
        "path": "/nodes/{node}/qemu",
        "text": "qemu",
        "info": {
          "POST": {
            "name": "create_vm",
            "description": "Create or restore a virtual machine.",
            "parameters": {
              "properties": {
                "node": {"type": "string"},
                "vmid": {"type": "integer", "minimum": 100},
                "name": {"type": "string", "optional": 1}
              }
            },
            "returns": {"type": "string"}
          }
        }
      },
      {
        "path": "/nodes/{node}/storage/{storage}/content/{volume}",
        "text": "{volume}",
        "info": {
          "DELETE": {
            "name": "delete",
            "description": "Delete volume",
            "parameters": {
              "properties": {
                "node": {"type": "string"},
                "storage": {"type": "string"},
                "volume": {"type": "string"},
                "delay": {"type": "integer", "optional": 1, "minimum": 1, "maximum": 30}
              }
            },
            "returns": {"type": "string", "optional": 1}
          }
        }
      }
    ]
  }
]`

type testRuntime struct {
	name string
	do   func(t *testing.T, req *http.Request) *http.Response
}

func newRuntimes(t *testing.T, upstream *pvetest.Server) []testRuntime {
	t.Helper()

	nodes, err := pveschema.Parse([]byte(testSchema))
	require.NoError(t, err)

	clientConfig := pve.DefaultConfig()
	clientConfig.BaseURL = upstream.BaseURL()
	clientConfig.TokenUser = "root@pam"
	clientConfig.TokenName = "proxy"
	clientConfig.Token = "secret"
	clientConfig.Timeout = 5 * time.Second
	client, err := pve.NewClient(clientConfig)
	require.NoError(t, err)

	reg := compiler.New(client, nil).Build(nodes)

	doc, err := openapidoc.Build(openapidoc.DefaultInfo(), "/api2/json", reg, doctags.List(nodes), doctags.ListGroups(nodes))
	require.NoError(t, err)
	docs, err := NewDocs(doc)
	require.NoError(t, err)

	fiberServer, err := NewFiber(reg, docs, nil)
	require.NoError(t, err)
	chiServer, err := NewChi(reg, docs, nil)
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

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)

			body := decode(t, resp)
			assert.Equal(t, "ok", body["status"])
			assert.Equal(t, "pve-openapi", body["service"])
			assert.Equal(t, "2.0.0", body["version"])

			ts, ok := body["timestamp"].(string)
			require.True(t, ok)
			_, err := time.Parse(time.RFC3339Nano, ts)
			assert.NoError(t, err)
		})
	}
}

func TestGetIsProxied(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()
	upstream.Reply(http.MethodGet, "/version", pvetest.Reply{
		Body: map[string]any{"data": map[string]any{"version": "8.2.4", "release": "8.2"}},
	})

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/api2/json/version", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

			assert.Equal(t, map[string]any{
				"data": map[string]any{"version": "8.2.4", "release": "8.2"},
			}, decode(t, resp))

			last, ok := upstream.LastRequest()
			require.True(t, ok)
			assert.Equal(t, "/api2/json/version", last.Path)
			assert.Equal(t, "PVEAPIToken=root@pam!proxy=secret", last.Header.Get("Authorization"))
		})
	}
}

func TestPostForwardsValidatedBody(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()
	upstream.Reply(http.MethodPost, "/nodes/pve1/qemu", pvetest.Reply{
		Body: map[string]any{"data": "UPID:pve1:0000A1B2:qmcreate:100:root@pam:"},
	})

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api2/json/nodes/pve1/qemu", strings.NewReader(`{"vmid":100,"name":"web"}`))
			req.Header.Set("Content-Type", "application/json")

			resp := rt.do(t, req)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "UPID:pve1:0000A1B2:qmcreate:100:root@pam:", decode(t, resp)["data"])

			last, ok := upstream.LastRequest()
			require.True(t, ok)
			assert.Equal(t, http.MethodPost, last.Method)
			assert.Equal(t, "/api2/json/nodes/pve1/qemu", last.Path)
			assert.JSONEq(t, `{"vmid":100,"name":"web"}`, string(last.Body))
		})
	}
}

func TestPostRejectsInvalidBody(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			before := len(upstream.Requests())

			for _, payload := range []string{`{"name":"web"}`, `{"vmid":50}`, `{"vmid":`} {
				req := httptest.NewRequest(http.MethodPost, "/api2/json/nodes/pve1/qemu", strings.NewReader(payload))
				req.Header.Set("Content-Type", "application/json")

				resp := rt.do(t, req)
				require.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)

				body := decode(t, resp)
				assert.Equal(t, "Bad Request", body["error"])
				assert.Contains(t, body["message"], "invalid body")
				assert.NotEmpty(t, body["request_id"])
			}

			assert.Len(t, upstream.Requests(), before)
		})
	}
}

func TestDeleteForwardsQueryAndEscapedPath(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()
	upstream.Reply(http.MethodDelete, "/nodes/pve1/storage/local/content/local:iso%2Fdebian.iso", pvetest.Reply{
		Body: map[string]any{"data": nil},
	})

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodDelete, "/api2/json/nodes/pve1/storage/local/content/local:iso%2Fdebian.iso?delay=5", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			resp.Body.Close()

			last, ok := upstream.LastRequest()
			require.True(t, ok)
			assert.Equal(t, http.MethodDelete, last.Method)
			assert.Equal(t, "/api2/json/nodes/pve1/storage/local/content/local:iso%2Fdebian.iso", last.Path)
			assert.Equal(t, "5", last.Query.Get("delay"))
		})
	}
}

func TestDeleteRejectsInvalidQuery(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodDelete, "/api2/json/nodes/pve1/storage/local/content/vm-100-disk-0?delay=90", nil))
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decode(t, resp)["message"], "invalid query")
			assert.Empty(t, upstream.Requests())
		})
	}
}

func TestUpstreamErrorsAreSurfaced(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()
	upstream.Reply(http.MethodGet, "/version", pvetest.Reply{
		Status: http.StatusForbidden,
		Body:   map[string]any{"data": nil, "message": "Permission check failed (/, Sys.Audit)\n"},
	})

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/api2/json/version", nil))
			require.Equal(t, http.StatusForbidden, resp.StatusCode)
			assert.Equal(t, map[string]any{
				"data":    nil,
				"message": "Permission check failed (/, Sys.Audit)\n",
			}, decode(t, resp))
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/api2/json/does-not-exist", nil))
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, "Not Found", decode(t, resp)["error"])
		})
	}
}

func TestDocsEndpoints(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

			doc := decode(t, resp)
			paths, ok := doc["paths"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, paths, "/api2/json/version")
			assert.Contains(t, paths, "/api2/json/nodes/{node}/qemu")
			assert.Contains(t, paths, "/health")
			assert.NotNil(t, doc["x-tagGroups"])

			resp = rt.do(t, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.Contains(t, string(data), "openapi: 3.0.3")

			resp = rt.do(t, httptest.NewRequest(http.MethodGet, "/docs", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			data, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.Contains(t, string(data), `data-url="/openapi.json"`)
			assert.Contains(t, string(data), "<title>Proxmox VE API Documentation</title>")
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	upstream := pvetest.NewServer()
	defer upstream.Close()

	for _, rt := range newRuntimes(t, upstream) {
		t.Run(rt.name, func(t *testing.T) {
			resp := rt.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
			resp.Body.Close()

			resp = rt.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)

			assert.Contains(t, string(data), "pveopenapi_http_requests_total")
			assert.Contains(t, string(data), `path="/health"`)
		})
	}
}
