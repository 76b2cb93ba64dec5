// Package compiler turns the Proxmox endpoint tree into a registry of
// validated routes that forward to an upstream API.
package compiler

import (
	"context"
	"maps"

	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/invakid404/pve-openapi/internal/routepath"
	"github.com/invakid404/pve-openapi/internal/typeconv"
	"github.com/rs/zerolog"
)

// Config holds the compiler configuration
type Config struct {
	// Logger receives collision reports and response contract warnings
	Logger zerolog.Logger
	// ValidateResponses checks successful upstream payloads against the
	// declared return schema and logs mismatches
	ValidateResponses bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{Logger: zerolog.Nop()}
}

type Compiler struct {
	upstream Upstream
	config   *Config
}

func New(up Upstream, config *Config) *Compiler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Compiler{upstream: up, config: config}
}

// Build compiles nodes and their descendants, in document order, into a new
// registry. Children are compiled in isolation and merged into their parent's
// registry before it is merged into the result; paths are never prefixed.
func (c *Compiler) Build(nodes []*pveschema.EndpointNode) *Registry {
	reg := c.build(nodes)
	for _, collision := range reg.Collisions() {
		c.config.Logger.Warn().
			Str("method", string(collision.Verb)).
			Str("path", collision.Path).
			Str("replaced", collision.Replaced).
			Msg("duplicate route replaced an earlier registration")
	}
	return reg
}

func (c *Compiler) build(nodes []*pveschema.EndpointNode) *Registry {
	result := NewRegistry()
	for _, node := range nodes {
		if node == nil {
			continue
		}

		sub := NewRegistry()
		c.Compile(sub, node)
		if len(node.Children) > 0 {
			sub.Merge(c.build(node.Children))
		}
		result.Merge(sub)
	}
	return result
}

// Compile registers one route per verb declared on node. Children are not
// visited.
func (c *Compiler) Compile(reg *Registry, node *pveschema.EndpointNode) {
	if node == nil || node.Methods == nil {
		return
	}

	node.Methods.Each(func(verb pveschema.Verb, method *pveschema.MethodSpec) {
		reg.Add(c.compileMethod(node, verb, method))
	})
}

func (c *Compiler) compileMethod(node *pveschema.EndpointNode, verb pveschema.Verb, method *pveschema.MethodSpec) *Route {
	pathParams := routepath.ExtractParamNames(node.Path)

	route := &Route{
		Verb:              verb,
		Path:              node.Path,
		Summary:           method.Name,
		Description:       describe(node, verb, method),
		Tag:               routepath.TagFor(node.Path),
		OperationID:       routepath.OperationID(string(verb), node.Path),
		PathParams:        pathParams,
		Method:            method,
		logger:            c.config.Logger,
		validateResponses: c.config.ValidateResponses,
	}

	switch verb {
	case pveschema.VerbGet:
		route.Response = responseContract(method)
		route.handler = func(ctx context.Context, pathParams, _ map[string]string, _ any) Outcome {
			return c.upstream.Fetch(ctx, node.Path, pathParams)
		}

	case pveschema.VerbPost, pveschema.VerbPut, pveschema.VerbPatch:
		route.Body = paramContract(method, pathParams)
		route.Response = responseContract(method)
		route.handler = func(ctx context.Context, pathParams, _ map[string]string, body any) Outcome {
			return c.upstream.Mutate(ctx, node.Path, verb, pathParams, body)
		}

	case pveschema.VerbDelete:
		route.Query = paramContract(method, pathParams)
		route.handler = func(ctx context.Context, pathParams, query map[string]string, _ any) Outcome {
			params := make(map[string]string, len(pathParams)+len(query))
			maps.Copy(params, pathParams)
			maps.Copy(params, query)
			return c.upstream.Mutate(ctx, node.Path, verb, params, nil)
		}
	}

	return route
}

// paramContract converts the declared parameters that are not path
// placeholders into a record. It is nil when no parameters are declared.
func paramContract(method *pveschema.MethodSpec, pathParams []string) *typeconv.Validator {
	declared := method.Properties()
	if declared == nil {
		return nil
	}

	excluded := make(map[string]struct{}, len(pathParams))
	for _, name := range pathParams {
		excluded[name] = struct{}{}
	}

	props := make(map[string]*typeconv.Validator, len(declared))
	for name, param := range declared {
		if _, ok := excluded[name]; ok {
			continue
		}
		props[name] = typeconv.Convert(param)
	}

	return typeconv.Object("", props)
}

// responseContract is {data: returns}, or nil when nothing or null is
// returned.
func responseContract(method *pveschema.MethodSpec) *typeconv.Validator {
	returns := method.Returns
	if returns == nil || returns.Type == "null" {
		return nil
	}

	return typeconv.Object("", map[string]*typeconv.Validator{
		"data": typeconv.Convert(returns),
	})
}

func describe(node *pveschema.EndpointNode, verb pveschema.Verb, method *pveschema.MethodSpec) string {
	if method.Description != "" {
		return method.Description
	}

	subject := node.Text
	if subject == "" {
		subject = node.Path
	}

	switch verb {
	case pveschema.VerbGet:
		return "Get " + subject
	case pveschema.VerbPost:
		return "Create " + subject
	case pveschema.VerbPut, pveschema.VerbPatch:
		return "Update " + subject
	case pveschema.VerbDelete:
		return "Delete " + subject
	}
	return subject
}
