// Package httpapi is the HTTP front controller: it maps
// GET/POST/PUT/DELETE /{project}/{resource} onto the resource's read, create,
// update and delete operations and serializes the result as JSON, CSV or XML.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roach88/parlapi/internal/resource"
)

// DefaultNullToken is the query value decoded to NULL when none is configured.
const DefaultNullToken = `\N`

// Config contains the dependencies of a Server.
type Config struct {
	// Listen is the TCP address to serve on.
	Listen string

	// Registry resolves resource names for every request.
	Registry *resource.Registry

	// ReadRegistry, when set, serves GET requests instead of Registry, so
	// reads can run as a restricted database role.
	ReadRegistry *resource.Registry

	// NullToken is the query value decoded to NULL.
	NullToken string

	// Project restricts the first path segment. Empty accepts any.
	Project string

	// Metrics records request metrics (optional).
	Metrics *Metrics

	// Gatherer, when set, is exposed on /metrics.
	Gatherer prometheus.Gatherer

	Logger zerolog.Logger
}

// Server is the API server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("httpapi: registry is required")
	}
	if cfg.NullToken == "" {
		cfg.NullToken = DefaultNullToken
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "httpapi").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the routing handler wrapped in request ID and access log
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /{$}", s.serveIndex)
	mux.HandleFunc("/{project}/{resource}", s.serveResource)

	return withRequestID(withAccessLog(s.logger, s.cfg.Metrics, mux))
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve runs the server until ctx is cancelled, then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("serving API")
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("shutting down API")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
