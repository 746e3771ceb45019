package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
	"github.com/precise-hbr-server/internal/middleware"
	"github.com/precise-hbr-server/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	engine        domain.RiskEngine
	cds           *service.CDSHooksService
	logger        *logrus.Logger
	memo          *resultMemo
	router        *gin.Engine
	server        *http.Server
	startedAt     time.Time
	now           func() time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, engine domain.RiskEngine, logger *logrus.Logger) (*Server, error) {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	router.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	if cfg.RateLimit.Enabled {
		limiter, err := middleware.NewRateLimiter(cfg.RateLimit, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		router.Use(limiter.Middleware())
	}

	server := &Server{
		configManager: configManager,
		engine:        engine,
		cds:           service.NewCDSHooksService(engine, logger),
		logger:        logger,
		memo:          newResultMemo(cfg.Cache),
		router:        router,
		startedAt:     time.Now(),
		now:           time.Now,
	}

	server.setupRoutes()

	return server, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/precise-hbr", s.handlePreciseHBR)
		v1.POST("/tradeoff", s.handleTradeoff)
		v1.POST("/assess", s.handleAssess)
		v1.POST("/tradeoff/interactive", s.handleInteractiveTradeoff)
		v1.GET("/tradeoff/factors", s.handleTradeoffFactors)
	}

	cds := s.router.Group("/cds-services")
	{
		cds.GET("", s.handleCDSDiscovery)
		cds.POST("/:id", s.handleCDSInvoke)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.configManager.GetConfig()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
		"version":   cfg.MCP.ServerVersion,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"cache":     s.memo.len(),
	})
}
