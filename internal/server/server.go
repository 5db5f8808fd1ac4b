// Package server hosts the HTTP surface: the TradingView webhook intake and
// the authenticated admin/observability API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/server/handler"
	"github.com/alanyoungcy/bitunixbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // guards the admin API; empty disables auth
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Webhook *handler.WebhookHandler
	Admin   *handler.AdminHandler
	Health  *handler.HealthHandler
}

// Server is the HTTP server for webhook intake and administration.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. The webhook and health
// endpoints stay unauthenticated (TradingView cannot attach headers); the
// admin API sits behind the API key.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	public := http.NewServeMux()
	public.HandleFunc("POST /webhook/{symbol}", handlers.Webhook.Receive)
	public.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/state", handlers.Admin.ListStateKeys)
	admin.HandleFunc("GET /api/state/{symbol}/{direction}", handlers.Admin.GetState)
	admin.HandleFunc("DELETE /api/state/{symbol}/{direction}", handlers.Admin.DeleteState)
	admin.HandleFunc("GET /api/positions", handlers.Admin.ListPositions)
	admin.HandleFunc("GET /api/loss-buffer", handlers.Admin.ListLossBuffers)
	admin.HandleFunc("DELETE /api/loss-buffer/{symbol}/{direction}/{interval}", handlers.Admin.DeleteLossBuffer)
	admin.HandleFunc("POST /api/recon/trigger", handlers.Admin.TriggerRecon)

	public.Handle("/api/", middleware.Auth(cfg.APIKey)(admin))

	h := middleware.Logging(logger)(public)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "server"),
	}
}

// Start listens for HTTP requests until the server errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info("http server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
