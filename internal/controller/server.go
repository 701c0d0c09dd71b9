// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"jobrunner/internal/controller/handlers"
	"jobrunner/internal/controller/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	Addr string

	// APIToken guards the /jobs routes when non-empty.
	APIToken string

	// Submissions per second per client; 0 disables limiting.
	RateLimit      float64
	RateLimitBurst int

	// Served on /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new controller server.
func New(opts Options, h *handlers.Handlers, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      Routes(opts, h, log),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// Routes builds the full handler tree.
func Routes(opts Options, h *handlers.Handlers, log *slog.Logger) http.Handler {
	protect := func(next http.Handler) http.Handler { return next }
	if opts.APIToken != "" {
		protect = middleware.RequireToken(opts.APIToken)
	}
	limit := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst).Middleware()

	mux := http.NewServeMux()

	mux.Handle("POST /jobs", protect(limit(http.HandlerFunc(h.SubmitJob))))
	mux.Handle("GET /jobs", protect(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /jobs/available", protect(http.HandlerFunc(h.ListAvailable)))
	mux.Handle("GET /jobs/{id}", protect(http.HandlerFunc(h.GetJob)))
	mux.Handle("PATCH /jobs/{id}", protect(http.HandlerFunc(h.UpdateJob)))
	mux.Handle("GET /jobs/{id}/dependencies", protect(http.HandlerFunc(h.GetDependencies)))

	// Probes and metrics stay open for the orchestrator.
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return middleware.RequestID(middleware.AccessLog(log)(mux))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("controller listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
