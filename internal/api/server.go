package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"

	"github.com/acme/call-dispatch-engine/internal/api/handlers"
	"github.com/acme/call-dispatch-engine/internal/config"
)

// Server wraps the Fiber application.
type Server struct {
	app      *fiber.App
	cfg      config.HTTPConfig
	handlers *handlers.HandlerSet
}

// NewApp builds the fiber application with every route registered.
func NewApp(cfg config.HTTPConfig, h *handlers.HandlerSet) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		ErrorHandler:          h.ErrorHandler,
		Immutable:             true,
		DisableStartupMessage: true,
	})
	app.Use(otelfiber.Middleware())
	h.Register(app)
	return app
}

// NewServer constructs a new HTTP server.
func NewServer(cfg config.HTTPConfig, h *handlers.HandlerSet) *Server {
	return &Server{app: NewApp(cfg, h), cfg: cfg, handlers: h}
}

// Start begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
