package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/audit"
	"github.com/ajitpratap0/paramforge/internal/metrics"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the REST API server
type Server struct {
	router   *gin.Engine
	manager  *RunManager
	table    evolution.StaticDomainTable
	defaults evolution.Config
	db       HealthChecker
	audit    *audit.Logger
	addr     string
	server   *http.Server
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	Manager        *RunManager
	Domains        evolution.StaticDomainTable
	Defaults       evolution.Config // base config that request overrides apply to
	DB             HealthChecker    // optional
	Audit          *audit.Logger    // optional, defaults to a log-only audit trail
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	auditLog := config.Audit
	if auditLog == nil {
		auditLog = audit.NewLogger(nil, true)
	}

	server := &Server{
		router:   router,
		manager:  config.Manager,
		table:    config.Domains,
		defaults: config.Defaults,
		db:       config.DB,
		audit:    auditLog,
		addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server and the runs it started
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			return err
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
