package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/events"
	"github.com/quantledger/backtester/internal/job"
)

// Server is the backtester's status/streaming HTTP surface: submit a run,
// poll its status, and stream its portfolio events over a websocket.
type Server struct {
	router    *gin.Engine
	jobs      *job.Manager
	publisher *events.Publisher
	addr      string
	server    *http.Server
	authStore *APIKeyStore
	authCfg   *AuthConfig
}

// Config configures a Server. DB and Auth are optional: when Auth is nil or
// Auth.Enabled is false, the runs group is served unauthenticated.
type Config struct {
	Host      string
	Port      int
	Jobs      *job.Manager
	Publisher *events.Publisher
	DB        *pgxpool.Pool
	Auth      *AuthConfig
}

// NewServer builds a Server with CORS, recovery, and request logging wired
// in, and routes registered.
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	authCfg := config.Auth
	if authCfg == nil {
		authCfg = DefaultAuthConfig()
	}

	s := &Server{
		router:    router,
		jobs:      config.Jobs,
		publisher: config.Publisher,
		addr:      fmt.Sprintf("%s:%d", config.Host, config.Port),
		authStore: NewAPIKeyStore(config.DB, authCfg.Enabled && config.DB != nil),
		authCfg:   authCfg,
	}
	s.setupRoutes()
	return s
}

// Start runs the HTTP server until it is stopped.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("starting api server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("stopping api server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs each request's method, path, status, and latency.
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
		logEvent.Msg("api request")
	}
}
