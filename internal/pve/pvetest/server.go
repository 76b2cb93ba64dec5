// Package pvetest provides a scripted fake of the Proxmox VE API for tests.
package pvetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
)

// Reply is a scripted answer. Body is encoded as JSON unless it is a []byte,
// which is written as is.
type Reply struct {
	Status int
	Body   any
}

// CapturedRequest is a request received by the fake.
type CapturedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Server is a fake Proxmox VE API. Replies are keyed by "METHOD /path" where
// the path is the resolved request path, without the query string.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	replies  map[string]Reply
	requests []CapturedRequest
}

// NewServer starts a TLS fake with a self-signed certificate, like a fresh
// Proxmox VE install.
func NewServer() *Server {
	s := &Server{replies: make(map[string]Reply)}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL is the API root to hand to a client.
func (s *Server) BaseURL() string {
	return s.URL + "/api2/json"
}

// Reply scripts the answer for method and path, relative to the API root.
func (s *Server) Reply(method, path string, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[method+" /api2/json"+path] = reply
}

// Requests returns every request received so far.
func (s *Server) Requests() []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent request, if any.
func (s *Server) LastRequest() (CapturedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return CapturedRequest{}, false
	}
	return s.requests[len(s.requests)-1], true
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, CapturedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	reply, ok := s.replies[r.Method+" "+r.URL.EscapedPath()]
	s.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotImplemented)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":   nil,
			"errors": map[string]string{"path": "Method '" + r.Method + " " + r.URL.Path + "' not implemented"},
		})
		return
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}

	if raw, isRaw := reply.Body.([]byte); isRaw {
		w.WriteHeader(status)
		_, _ = w.Write(raw)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply.Body)
}
