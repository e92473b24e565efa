package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// Server owns the HTTP listener and its graceful shutdown.
type Server struct {
	srv             *http.Server
	logger          logging.Logger
	shutdownTimeout time.Duration
}

// NewServer builds a Server for handler from cfg. Zero timeouts fall back to
// the config defaults.
func NewServer(cfg config.ServerConfig, handler http.Handler, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	orDefault := func(d, def time.Duration) time.Duration {
		if d <= 0 {
			return def
		}
		return d
	}
	return &Server{
		logger:          logger,
		shutdownTimeout: orDefault(cfg.ShutdownTimeout, config.DefaultShutdownTimeout),
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadTimeout:       orDefault(cfg.ReadTimeout, config.DefaultReadTimeout),
			ReadHeaderTimeout: orDefault(cfg.ReadTimeout, config.DefaultReadTimeout),
			WriteTimeout:      orDefault(cfg.WriteTimeout, config.DefaultWriteTimeout),
			IdleTimeout:       orDefault(cfg.IdleTimeout, config.DefaultIdleTimeout),
		},
	}
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Handler returns the served handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve accepts connections on l until Stop. A clean stop returns nil.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http server listening", logging.String("addr", l.Addr().String()))
	if err := s.srv.Serve(l); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Start listens on the configured address.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(l)
}

// Stop drains in-flight requests, bounded by the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Run serves on l until ctx is done, then stops gracefully.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(l) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		return <-errCh
	}
}
