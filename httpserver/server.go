package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/engine"
)

// Server is the REST listener. Analyses can take minutes, so the write
// timeout is derived from the container timeout.
type Server struct {
	logger *zap.Logger
	srv    *http.Server
}

// New creates a Server listening on server.rest_port
func New(cfg *config.Config, logger *zap.Logger, analyzer engine.Analyzer) *Server {
	return &Server{
		logger: logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.RESTPort),
			Handler:           NewRouter(logger, cfg, analyzer),
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      cfg.ContainerTimeout() + cfg.KillGrace() + 30*time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	s.logger.Info("starting REST API", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST API stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping REST API")
	return s.srv.Shutdown(ctx)
}
