package compiler

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/invakid404/pve-openapi/internal/typeconv"
	"github.com/rs/zerolog"
)

// Outcome is the status and decoded JSON payload produced by the upstream.
type Outcome struct {
	Status int
	Body   any
}

// Fetcher performs read requests against the upstream API.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params map[string]string) Outcome
}

// Mutator performs write requests against the upstream API.
type Mutator interface {
	Mutate(ctx context.Context, path string, verb pveschema.Verb, params map[string]string, body any) Outcome
}

// Upstream is the full set of collaborators routes forward to.
type Upstream interface {
	Fetcher
	Mutator
}

// Input is one inbound request as seen by a route.
type Input struct {
	PathParams map[string]string
	Query      map[string]string
	Body       []byte
}

// ValidationError reports request input rejected by a route's contract.
type ValidationError struct {
	Location string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Location, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type handlerFunc func(ctx context.Context, pathParams, query map[string]string, body any) Outcome

// Route is one compiled method+path pair.
type Route struct {
	Verb        pveschema.Verb
	Path        string
	Summary     string
	Description string
	Tag         string
	OperationID string
	PathParams  []string

	// Body validates request bodies (POST, PUT, PATCH), Query validates query
	// parameters (DELETE) and Response describes the success payload. Any of
	// them may be nil.
	Body     *typeconv.Validator
	Query    *typeconv.Validator
	Response *typeconv.Validator

	Method *pveschema.MethodSpec

	handler           handlerFunc
	logger            zerolog.Logger
	validateResponses bool
}

// Serve validates in against the route's contract and forwards it upstream.
// Rejected input is reported as a *ValidationError and never reaches the
// upstream.
func (r *Route) Serve(ctx context.Context, in Input) (Outcome, error) {
	var body any
	if len(bytes.TrimSpace(in.Body)) > 0 {
		if err := json.Unmarshal(in.Body, &body); err != nil {
			return Outcome{}, &ValidationError{Location: "body", Err: fmt.Errorf("malformed JSON: %w", err)}
		}
	}

	if r.Body != nil {
		if body == nil {
			body = map[string]any{}
		}
		if err := r.Body.Validate(body); err != nil {
			return Outcome{}, &ValidationError{Location: "body", Err: err}
		}
	}

	if r.Query != nil {
		if err := r.Query.Validate(r.Query.CoerceQuery(in.Query)); err != nil {
			return Outcome{}, &ValidationError{Location: "query", Err: err}
		}
	}

	out := r.handler(ctx, r.pathValues(in.PathParams), in.Query, body)

	if r.validateResponses && r.Response != nil && out.Status >= 200 && out.Status < 300 {
		if err := r.Response.Validate(out.Body); err != nil {
			r.logger.Warn().
				Err(err).
				Str("method", string(r.Verb)).
				Str("path", r.Path).
				Msg("upstream response does not match contract")
		}
	}

	return out, nil
}

// pathValues keeps only the placeholders the route declares. It returns nil
// when the route has none.
func (r *Route) pathValues(params map[string]string) map[string]string {
	if len(r.PathParams) == 0 {
		return nil
	}

	out := make(map[string]string, len(r.PathParams))
	for _, name := range r.PathParams {
		if value, ok := params[name]; ok {
			out[name] = value
		}
	}
	return out
}
