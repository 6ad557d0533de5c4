// Package server exposes the orchestration pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/onion-salad/persona-lens-sub000/internal/orchestrator"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr string `json:"addr" yaml:"addr"`

	// RequestTimeout bounds one orchestration end to end, covering the
	// whole fan-out barrier. Individual generator calls carry their own
	// shorter timeout.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RequestTimeout: 5 * time.Minute,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   6 * time.Minute,
	}
}

// Server wires the controller behind the HTTP surface.
type Server struct {
	cfg        Config
	controller *orchestrator.Controller
	logger     *zap.Logger
	httpServer *http.Server
}

// New creates a server around the given controller.
func New(cfg Config, controller *orchestrator.Controller, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	s := &Server{
		cfg:        cfg,
		controller: controller,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/generate-expert-proposal", s.handleGenerateExpertProposal)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
