// Package apitest provides an in-process fake of the remote generation
// service for tests.
//
// The fake serves the three endpoints the client uses (model listing, job
// submission and the per-task progress stream) and records every request so
// tests can assert on headers or on the absence of network calls.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    srv := apitest.New(t, apitest.WithStream(
//	        apitest.Data(`{"status":"processing","progress":40,"remark":"rendering"}`),
//	        apitest.Data(`{"status":"completed","url":"https://x/v.mp4"}`),
//	        apitest.Done(),
//	    ))
//	    client, _ := jobapi.New(jobapi.Config{BaseURL: srv.URL})
//	    // ... test code ...
//	}
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Request is a recorded inbound request.
type Request struct {
	Method        string
	Path          string
	Authorization string
	Body          string
}

// Server is a fake generation service backed by httptest.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request

	apiKey       string
	variants     []string
	listStatus   int
	listBody     string
	submitStatus int
	submitBody   string
	taskID       string
	frames       []string
	holdOpen     bool
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey makes every endpoint require "Authorization: Bearer <key>".
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithVariants sets the model ids returned by the listing endpoint.
func WithVariants(ids ...string) Option {
	return func(s *Server) { s.variants = ids }
}

// WithListResponse overrides the listing endpoint's status and raw body.
func WithListResponse(status int, body string) Option {
	return func(s *Server) {
		s.listStatus = status
		s.listBody = body
	}
}

// WithSubmitResponse overrides the submission endpoint's status and raw body.
func WithSubmitResponse(status int, body string) Option {
	return func(s *Server) {
		s.submitStatus = status
		s.submitBody = body
	}
}

// WithTaskID fixes the task id returned by a successful submission.
func WithTaskID(id string) Option {
	return func(s *Server) { s.taskID = id }
}

// WithStream sets the raw frames written to every stream subscriber.
// When the frames run out the handler returns, closing the connection.
func WithStream(frames ...string) Option {
	return func(s *Server) { s.frames = frames }
}

// WithHoldOpen keeps the stream open after the scripted frames until the
// client goes away.
func WithHoldOpen() Option {
	return func(s *Server) { s.holdOpen = true }
}

// Data formats payload as a single SSE data frame.
func Data(payload string) string {
	return "data: " + payload + "\n\n"
}

// Done is the end-of-stream sentinel frame.
func Done() string {
	return Data("[DONE]")
}

// New starts a fake service and registers its shutdown with t.Cleanup.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		variants:     []string{"sora-2-free"},
		listStatus:   http.StatusOK,
		submitStatus: http.StatusOK,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.auth)
	r.Get("/v1/models", s.handleList)
	r.Post("/v1/images/generations", s.handleSubmit)
	r.Get("/v1/tasks/{taskID}/stream", s.handleStream)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Requests returns a copy of all recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests received so far.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          string(body),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.listBody != "" {
		writeRaw(w, s.listStatus, s.listBody)
		return
	}
	data := make([]map[string]string, 0, len(s.variants))
	for _, id := range s.variants {
		data = append(data, map[string]string{"id": id, "object": "model", "owned_by": "apitest"})
	}
	writeJSON(w, s.listStatus, map[string]any{"object": "list", "data": data})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.submitBody != "" {
		writeRaw(w, s.submitStatus, s.submitBody)
		return
	}
	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "prompt must not be empty"})
		return
	}
	id := s.taskID
	if id == "" {
		id = uuid.New().String()
	}
	writeJSON(w, s.submitStatus, map[string]string{"task_id": id})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for _, frame := range s.frames {
		if _, err := fmt.Fprint(w, frame); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if s.holdOpen {
		<-r.Context().Done()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
