package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server exposes /metrics and /health of an optimizer process
type Server struct {
	port     int
	checks   []HealthCheck
	listener net.Listener
	server   *http.Server
	log      zerolog.Logger
}

// NewServer creates a metrics server on port (0 picks a free port).
// checks gate the /health answer, e.g. database reachability.
func NewServer(port int, log zerolog.Logger, checks ...HealthCheck) *Server {
	return &Server{
		port:   port,
		checks: checks,
		log:    log.With().Str("component", "metrics_server").Logger(),
	}
}

// Start binds the port and serves in the background. Bind failures are
// returned instead of surfacing later from the serving goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on port %d: %w", s.port, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	RegisterHandlers(mux, s.checks...)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.Addr()).Int("health_checks", len(s.checks)).Msg("Starting metrics server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.log.Info().Msg("Metrics server stopped")
	return nil
}
