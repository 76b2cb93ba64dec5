// Package pve is a minimal client for the Proxmox VE REST API. It implements
// the upstream collaborators used by compiled routes.
package pve

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/invakid404/pve-openapi/internal/apierror"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/httplogger"
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/invakid404/pve-openapi/internal/routepath"
	"github.com/rs/zerolog"
)

var (
	ErrMissingURL   = errors.New("pve: API URL is required")
	ErrMissingToken = errors.New("pve: token user, token name and token secret are required")
)

// Config holds the client configuration
type Config struct {
	// BaseURL is the API root, for example https://pve.example:8006/api2/json
	BaseURL string
	// TokenUser is the user owning the API token, for example root@pam
	TokenUser string
	// TokenName is the token identifier
	TokenName string
	// Token is the token secret
	Token string
	// InsecureSkipVerify disables TLS certificate verification
	InsecureSkipVerify bool
	// Timeout bounds every upstream request (0 = no timeout)
	Timeout time.Duration
	// NormalizeBooleans rewrites 0/1 values in successful responses to booleans
	NormalizeBooleans bool
	// Logger receives one entry per outbound request
	Logger zerolog.Logger
	// Transport overrides the underlying round tripper (used in tests)
	Transport http.RoundTripper
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		InsecureSkipVerify: true,
		Timeout:            30 * time.Second,
		NormalizeBooleans:  true,
		Logger:             zerolog.Nop(),
	}
}

// Client forwards requests to a Proxmox VE node or cluster.
type Client struct {
	baseURL           string
	authorization     string
	normalizeBooleans bool
	http              *http.Client
}

var _ compiler.Upstream = (*Client)(nil)

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if config.BaseURL == "" {
		return nil, ErrMissingURL
	}
	if config.TokenUser == "" || config.TokenName == "" || config.Token == "" {
		return nil, ErrMissingToken
	}

	base := config.Transport
	if base == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if config.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		base = transport
	}

	return &Client{
		baseURL:           strings.TrimSuffix(config.BaseURL, "/"),
		authorization:     fmt.Sprintf("PVEAPIToken=%s!%s=%s", config.TokenUser, config.TokenName, config.Token),
		normalizeBooleans: config.NormalizeBooleans,
		http: &http.Client{
			Timeout: config.Timeout,
			Transport: &httplogger.Transport{
				Base:   base,
				Logger: config.Logger,
			},
		},
	}, nil
}

// Fetch issues a GET for path with its placeholders resolved from params.
func (c *Client) Fetch(ctx context.Context, path string, params map[string]string) compiler.Outcome {
	return c.do(ctx, pveschema.VerbGet, path, params, nil)
}

// Mutate issues a non-GET request. Parameters that are not placeholders of
// path are sent as the query string.
func (c *Client) Mutate(ctx context.Context, path string, verb pveschema.Verb, params map[string]string, body any) compiler.Outcome {
	return c.do(ctx, verb, path, params, body)
}

func (c *Client) do(ctx context.Context, verb pveschema.Verb, path string, params map[string]string, body any) compiler.Outcome {
	start := time.Now()
	out, err := c.send(ctx, verb, path, params, body)
	if err != nil {
		out = compiler.Outcome{
			Status: http.StatusInternalServerError,
			Body:   apierror.New(http.StatusInternalServerError, err.Error()),
		}
	}

	status := strconv.Itoa(out.Status)
	upstreamRequestsTotal.WithLabelValues(string(verb), status).Inc()
	upstreamRequestDuration.WithLabelValues(string(verb), status).Observe(time.Since(start).Seconds())

	return out
}

func (c *Client) send(ctx context.Context, verb pveschema.Verb, path string, params map[string]string, body any) (compiler.Outcome, error) {
	resolved, rest := routepath.Resolve(path, params)

	target := c.baseURL + resolved
	if len(rest) > 0 {
		query := make(url.Values, len(rest))
		for key, value := range rest {
			query.Set(key, value)
		}
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return compiler.Outcome{}, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, string(verb), target, reader)
	if err != nil {
		return compiler.Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return compiler.Outcome{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return compiler.Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	payload := decodePayload(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return compiler.Outcome{Status: resp.StatusCode, Body: payload}, nil
	}

	if c.normalizeBooleans {
		payload = NormalizeBooleans(payload)
	}

	return compiler.Outcome{Status: resp.StatusCode, Body: payload}, nil
}

// decodePayload decodes a JSON body. Bodies that are not JSON, such as the
// plain-text errors Proxmox returns for some failures, are kept as strings.
func decodePayload(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return string(raw)
	}
	return payload
}
