package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// shutdownGrace bounds how long in-flight requests get after the context
// ends.
const shutdownGrace = 10 * time.Second

// Server serves the CDP API.
type Server struct {
	addr    string
	handler http.Handler
}

// NewServer wires the routes for cfg.
func NewServer(cfg config.ServerConfig, h *Handlers, health *HealthChecker) *Server {
	if cfg.APIToken == "" {
		logger.Warn("server.api_token is empty; /api/cdp is unauthenticated")
	}
	return &Server{addr: cfg.Addr(), handler: SetupRoutes(h, health, cfg)}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run binds the address, serves until ctx is done, then drains in-flight
// requests. A busy port fails fast, before anything is served.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler: s.handler,
		// Sweeps triggered over HTTP can run for minutes on large datasets.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
