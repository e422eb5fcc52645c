// Package api serves the operator HTTP surface: health, Prometheus
// metrics, position and trade views, and manual close/cancel overrides.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sniperbot/internal/engine"
	"sniperbot/internal/model"
)

// Positions is the engine surface the API drives.
type Positions interface {
	Status() []engine.Status
	ClosePosition(ctx context.Context, symbol string) (model.Position, error)
	CancelPosition(ctx context.Context, symbol string) (model.Position, error)
}

// History reads closed trades.
type History interface {
	ClosedPositions(ctx context.Context, symbol string) ([]model.Position, error)
}

// Config configures the server.
type Config struct {
	Addr            string
	TOTPSecret      string // empty disables the X-TOTP check
	ShutdownTimeout time.Duration
}

// Server wraps the echo instance.
type Server struct {
	echo *echo.Echo
	cfg  Config
	log  zerolog.Logger
}

// NewServer builds the router. health serves /healthz; gatherer backs
// /metrics.
func NewServer(cfg Config, pos Positions, hist History, health http.Handler, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	log = log.With().Str("component", "api").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogging(log))

	e.GET("/healthz", echo.WrapHandler(health))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h := &handlers{pos: pos, hist: hist, log: log}
	g := e.Group("/api")
	g.GET("/positions", h.positions)
	g.GET("/trades/:symbol", h.trades)

	ops := g.Group("/positions/:symbol", requireTOTP(cfg.TOTPSecret))
	ops.POST("/close", h.closePosition)
	ops.POST("/cancel", h.cancelPosition)

	return &Server{echo: e, cfg: cfg, log: log}
}

// Stream mounts a WebSocket handler at path. It bypasses the TOTP gate;
// the stream is read-only.
func (s *Server) Stream(path string, h http.Handler) {
	s.echo.GET(path, echo.WrapHandler(h))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
