// Package api serves the task viewer pages and JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hochfrequenz/task-viewer/internal/catalog"
	"github.com/hochfrequenz/task-viewer/internal/config"
	"github.com/hochfrequenz/task-viewer/internal/domain"
	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
	"github.com/hochfrequenz/task-viewer/internal/review"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
	"github.com/hochfrequenz/task-viewer/internal/viewer"
)

// Launcher starts local trace viewers
type Launcher interface {
	Launch(ctx context.Context, taskID int) (string, error)
	Status() []viewer.Status
}

// Deps is the state shared by all handlers, owned by the caller
type Deps struct {
	Catalog   *catalog.Loader
	Traces    *traceindex.Index
	TraceDir  string
	Reviews   review.Store
	Sites     domain.SiteResolver
	TraceMode config.TraceMode
	// Launcher is used in launch mode
	Launcher Launcher
	// Linker builds hosted viewer URLs in link mode
	Linker viewer.Linker
	Logger *slog.Logger
}

// Server is the HTTP server
type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
	http   *http.Server
}

// NewServer creates a new server listening on addr
func NewServer(deps Deps, addr string) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	// Pages
	s.mux.HandleFunc("GET /{$}", s.indexHandler())
	s.mux.HandleFunc("GET /task/{id}", s.taskDetailHandler())

	// API routes
	s.mux.HandleFunc("GET /api/task-files", s.taskFilesHandler())
	s.mux.HandleFunc("GET /api/tasks", s.listTasksHandler())
	s.mux.HandleFunc("GET /api/stats", s.statsHandler())
	s.mux.HandleFunc("GET /healthz", s.healthHandler())

	// Review state
	s.mux.HandleFunc("POST /reviewed/{id}", s.setReviewedHandler())
	s.mux.HandleFunc("GET /notes/{id}", s.getNotesHandler())
	s.mux.HandleFunc("POST /notes/{id}", s.setNotesHandler())

	// Traces
	s.mux.HandleFunc("GET /launch-trace/{id}", s.launchTraceHandler())
	s.mux.HandleFunc("GET /trace-status", s.traceStatusHandler())
	s.mux.HandleFunc("GET /traces/{filename}", cors(s.traceFileHandler()))
	s.mux.HandleFunc("OPTIONS /traces/{filename}", cors(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// cors lets externally hosted viewers fetch trace artifacts
func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		h(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// apiError is the JSON error body
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// handleError writes err as JSON with the status mapped from its code
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Error: err.Error(), Code: code})
}

// pageError writes err as plain text for HTML routes
func (s *Server) pageError(w http.ResponseWriter, err error) {
	status, _ := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("page failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func classify(err error) (int, string) {
	var vErr *vierr.Error
	if errors.As(err, &vErr) {
		return vErr.HTTPStatus(), string(vErr.Code)
	}
	return http.StatusInternalServerError, ""
}
