package httplogger

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Transport is an http.RoundTripper that logs every outbound request.
type Transport struct {
	// Base performs the request. If nil, http.DefaultTransport is used.
	Base   http.RoundTripper
	Logger zerolog.Logger
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.Logger.Error().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.Redacted()).
			Dur("duration", duration).
			Msg("Upstream request failed")
		return nil, err
	}

	var event *zerolog.Event
	switch {
	case resp.StatusCode >= 500:
		event = t.Logger.Error()
	case resp.StatusCode >= 400:
		event = t.Logger.Warn()
	default:
		event = t.Logger.Debug()
	}

	event.
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("Upstream request completed")

	return resp, nil
}
