// Package web provides the HTTP API for triggering pipeline runs and
// reading their reports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/flatetl/internal/ledger"
	"github.com/JonMunkholm/flatetl/internal/runner"
	"github.com/JonMunkholm/flatetl/internal/trigger"
	webmw "github.com/JonMunkholm/flatetl/internal/web/middleware"
)

// Pipeline is the part of the pipeline runner the API drives.
type Pipeline interface {
	Run(ctx context.Context) (*runner.PipelineRun, error)
	Recent() []*runner.PipelineRun
	Latest() *runner.PipelineRun
	Lookup(runID string) (*runner.PipelineRun, bool)
	Running(runID string) (runner.ActiveRun, bool)
}

// History reads stored runs. *ledger.Ledger implements it.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*ledger.RunSummary, error)
}

// Options configures the server.
type Options struct {
	// ReportDir holds last_run.json, read when no run has completed in
	// this process.
	ReportDir string

	// History serves run listings when set; otherwise the runner's
	// in-memory recent runs are used.
	History History

	TrustedProxies []string
	APIKeys        []string

	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// Server is the HTTP server for the pipeline API.
type Server struct {
	ctx      context.Context
	pipeline Pipeline
	guard    *trigger.Guard
	opts     Options
	router   *chi.Mux
	server   *http.Server

	// pending holds API runs accepted but not yet finished, so their
	// Location resolves before the runner has registered them.
	mu      sync.Mutex
	pending map[string]time.Time
}

// NewServer creates a Server. Runs started through the API inherit ctx, so
// cancelling it cancels them.
func NewServer(ctx context.Context, pipeline Pipeline, guard *trigger.Guard, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		ctx:      ctx,
		pipeline: pipeline,
		guard:    guard,
		opts:     opts,
		router:   chi.NewRouter(),
		pending:  make(map[string]time.Time),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.opts.RequestTimeout))
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/runs/{runID}", s.handleGetRun)

		r.With(webmw.APIKeyAuth(s.opts.APIKeys)).Post("/runs", s.handleStartRun)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
