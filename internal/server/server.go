// Package server exposes the job API over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/agbru/primecount/internal/logging"
	"github.com/agbru/primecount/internal/metrics"
	"github.com/agbru/primecount/internal/orchestration"
)

// JobService submits jobs and reports their status.
type JobService interface {
	Submit(ctx context.Context, n uint64, chunks int) (string, error)
	Status(ctx context.Context, jobID string) (orchestration.JobStatus, error)
}

// Backend reports the health of the shared store and the worker fleet.
type Backend interface {
	Ping(ctx context.Context) error
	Workers(ctx context.Context) (int, error)
}

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
	healthTimeout     = 2 * time.Second
)

// Server is the HTTP front door: job submission, job status, health, an
// index and Prometheus metrics.
type Server struct {
	addr     string
	jobs     JobService
	backend  Backend
	metrics  *metrics.Collectors
	logger   logging.Logger
	security SecurityConfig
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics sets the collectors; New creates private ones otherwise.
func WithMetrics(m *metrics.Collectors) Option { return func(s *Server) { s.metrics = m } }

// WithSecurity sets the CORS and header policy.
func WithSecurity(c SecurityConfig) Option { return func(s *Server) { s.security = c } }

// WithVersion sets the version reported by the index and health endpoints.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// New returns a Server listening on addr once started.
func New(addr string, jobs JobService, backend Backend, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		jobs:     jobs,
		backend:  backend,
		logger:   logging.Nop{},
		security: DefaultSecurityConfig(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/count-primes", s.handleCountPrimes)
	mux.HandleFunc("GET /api/jobs/{job_id}", s.handleJobStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("/metrics", s.handleMetrics)

	return SecurityMiddleware(s.security, s.metricsMiddleware(s.loggingMiddleware(mux.ServeHTTP)))
}

// ListenAndServe serves until ctx is canceled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("api listening", logging.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
