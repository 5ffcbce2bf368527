package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/api/handlers"
	"example.com/dompay/services/esocial/internal/metrics"
	"example.com/dompay/services/esocial/internal/scheduler"
	"example.com/dompay/services/esocial/internal/services"
)

// Server represents the HTTP server
type Server struct {
	config       config.Config
	router       *gin.Engine
	httpServer   *http.Server
	eventService *services.EventService
	scheduler    *scheduler.Scheduler
	collector    *metrics.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, eventService *services.EventService, sched *scheduler.Scheduler, collector *metrics.Metrics) *Server {
	server := &Server{
		config:       cfg,
		eventService: eventService,
		scheduler:    sched,
		collector:    collector,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(gin.Recovery())

	eventHandler := handlers.NewEventHandler(s.eventService, s.scheduler)
	eventHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.collector)
	metricsHandler.RegisterRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
