package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codecoach-hq/saturn/pkg/config"
	"codecoach-hq/saturn/pkg/quota"
)

// Server serves the admission API.
type Server struct {
	manager *quota.Manager
	config  config.ServerConfig
	logger  *slog.Logger
	http    *http.Server
}

// New creates an admission server for the given manager.
func New(manager *quota.Manager, cfg config.ServerConfig) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager is required")
	}

	s := &Server{
		manager: manager,
		config:  cfg,
		logger:  slog.Default().With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/check/capability", s.handleCheckCapability)
	mux.HandleFunc("POST /v1/check/lines", s.handleCheckLineCount)
	mux.HandleFunc("POST /v1/check/rate", s.handleCheckRateLimit)
	mux.HandleFunc("POST /v1/usage", s.handleRecordUsage)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving the admission API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admission server listening", "address", s.config.ListenAddress)

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
