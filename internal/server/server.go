// Package server exposes the dashboard API: a small REST surface plus a
// websocket feed of live ticks and actions.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
	"github.com/maxx-ecosystem/maxxbot/internal/server/handler"
	"github.com/maxx-ecosystem/maxxbot/internal/server/middleware"
	"github.com/maxx-ecosystem/maxxbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the API; empty disables authentication.
	APIKey string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

// Handlers aggregates the endpoints the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Actions *handler.ActionHandler
	Price   *handler.PriceHandler
}

// Server is the dashboard HTTP + websocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain. Handlers and
// the hub may be nil when their backing dependency is not configured; the
// matching routes are simply not registered.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health stays reachable without auth.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Actions != nil {
		mux.HandleFunc("GET /api/actions", handlers.Actions.ListActions)
	}
	if handlers.Price != nil {
		mux.HandleFunc("GET /api/price", handlers.Price.GetPrice)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
