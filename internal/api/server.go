// Package api exposes the HTTP surface: the mention webhook, a direct
// chat proxy, health, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tagai-dao/tagclaw/internal/ai"
	"github.com/tagai-dao/tagclaw/pkg/models"
)

// EventSink receives normalized mention events, implemented by the bot
// manager. OnEvent must not block.
type EventSink interface {
	OnEvent(event *models.Event)
}

// Deps carries everything the server's handlers need.
type Deps struct {
	Bot       EventSink
	Completer ai.Provider
	// APIKey guards POST /webhook via the x-api-key header. Empty
	// disables the check.
	APIKey string
	// HealthCheck reports backend readiness, typically a DB ping.
	// Nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.liveness)
	s.echo.POST("/", s.liveness)
	s.echo.POST("/webhook", s.handleWebhook)
	s.echo.POST("/chat", s.handleChat)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "tagclaw",
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.HealthCheck(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Start begins the API server
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
