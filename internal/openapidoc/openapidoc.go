// Package openapidoc assembles the OpenAPI document describing the compiled
// routes.
package openapidoc

import (
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/goccy/go-json"
	"github.com/invakid404/pve-openapi/internal/apierror"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/doctags"
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"gopkg.in/yaml.v3"
)

const (
	// SystemTag groups the endpoints served by the proxy itself.
	SystemTag = "System"

	errorResponseSchemaName = "ErrorResponse"
	healthSchemaName        = "Health"
)

type Info struct {
	Title       string
	Version     string
	Description string
}

// DefaultInfo returns the document metadata used when none is configured.
func DefaultInfo() Info {
	return Info{
		Title:       "Proxmox VE API Documentation",
		Version:     "2.0.0",
		Description: "Validated proxy for the Proxmox VE API",
	}
}

// Health is the payload of the health endpoint.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version"`
}

// Build assembles an OpenAPI 3.0.3 document with one operation per route of
// reg, mounted under prefix.
func Build(info Info, prefix string, reg *compiler.Registry, tags []doctags.Tag, groups []doctags.Group) (*openapi3.T, error) {
	schemas := make(openapi3.Schemas)

	errorSchema, err := openapi3gen.NewSchemaRefForValue(apierror.Response{}, schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to generate error schema: %w", err)
	}
	errorSchema.Value.Description = "Error response returned for failed requests"
	schemas[errorResponseSchemaName] = errorSchema

	healthSchema, err := openapi3gen.NewSchemaRefForValue(Health{}, schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to generate health schema: %w", err)
	}
	schemas[healthSchemaName] = healthSchema

	paths := openapi3.NewPaths()
	paths.Set("/health", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{SystemTag},
			Summary:     "Health check",
			OperationID: "getHealth",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
					Value: openapi3.NewResponse().
						WithDescription("Service is healthy").
						WithJSONSchemaRef(componentRef(healthSchemaName)),
				}),
			),
		},
	})

	for _, route := range reg.Routes() {
		path := prefix + route.Path
		item := paths.Value(path)
		if item == nil {
			item = &openapi3.PathItem{}
			paths.Set(path, item)
		}
		item.SetOperation(string(route.Verb), operation(route))
	}

	docTags := make(openapi3.Tags, 0, len(tags)+1)
	for _, tag := range tags {
		docTags = append(docTags, &openapi3.Tag{Name: tag.Name, Description: tag.Description})
	}
	docTags = append(docTags, &openapi3.Tag{Name: SystemTag, Description: "Proxy endpoints"})

	groups = slices.Concat(groups, []doctags.Group{{Name: SystemTag, Tags: []string{SystemTag}}})

	return &openapi3.T{
		Extensions: map[string]any{
			"x-tagGroups": groups,
		},
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       info.Title,
			Version:     info.Version,
			Description: info.Description,
		},
		Tags: docTags,
		Components: &openapi3.Components{
			Schemas: schemas,
		},
		Paths: paths,
	}, nil
}

func operation(route *compiler.Route) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{route.Tag},
		Summary:     route.Summary,
		Description: route.Description,
		OperationID: route.OperationID,
	}

	for _, name := range route.PathParams {
		param := openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema())
		if p := route.Method.Properties()[name]; p != nil {
			param.Description = p.Description
		}
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: param})
	}

	if route.Query != nil {
		for _, name := range slices.Sorted(maps.Keys(route.Query.Schema.Properties)) {
			schema := route.Query.Schema.Properties[name].Value
			param := openapi3.NewQueryParameter(name).
				WithSchema(schema).
				WithDescription(schema.Description).
				WithRequired(slices.Contains(route.Query.Schema.Required, name))
			op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: param})
		}
	}

	if route.Body != nil {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(len(route.Body.Schema.Required) > 0).
				WithJSONSchemaRef(route.Body.Ref()),
		}
	}

	success := openapi3.NewResponse().WithDescription("Successful response")
	if route.Response != nil {
		success = success.WithJSONSchemaRef(route.Response.Ref())
	}

	responses := openapi3.NewResponses()
	responses.Delete("default") // Remove empty default response added by NewResponses()
	responses.Set("200", &openapi3.ResponseRef{Value: success})
	if route.Body != nil || route.Query != nil {
		responses.Set("400", &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Bad request - the input does not match the endpoint's parameters").
				WithJSONSchemaRef(componentRef(errorResponseSchemaName)),
		})
	}
	responses.Set("default", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription("Error returned by the proxy or by Proxmox VE").
			WithJSONSchemaRef(componentRef(errorResponseSchemaName)),
	})
	op.Responses = responses

	if method := route.Method; method != nil {
		op.Extensions = permissionExtensions(method)
	}

	return op
}

func permissionExtensions(method *pveschema.MethodSpec) map[string]any {
	ext := make(map[string]any)
	if method.Permissions != nil {
		ext["x-pve-permissions"] = method.Permissions
	}
	if method.Protected {
		ext["x-pve-protected"] = true
	}
	if method.AllowToken {
		ext["x-pve-allowtoken"] = true
	}
	if len(ext) == 0 {
		return nil
	}
	return ext
}

func componentRef(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: fmt.Sprintf("#/components/schemas/%s", name)}
}

// Render encodes doc as indented JSON and as YAML.
func Render(doc *openapi3.T) (jsonData, yamlData []byte, err error) {
	jsonData, err = json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate OpenAPI JSON: %w", err)
	}

	yamlData, err = yaml.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate OpenAPI YAML: %w", err)
	}

	return jsonData, yamlData, nil
}
