package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is a metrics set the server can expose
type Source interface {
	Registry() *prometheus.Registry
	GetStats() map[string]interface{}
}

// Server exposes training metrics over HTTP
type Server struct {
	server  *http.Server
	metrics Source
	config  config.MetricsConfig
	addr    string
}

// NewServer creates the metrics HTTP server
func NewServer(cfg config.MetricsConfig, metrics Source) *Server {
	mux := http.NewServeMux()

	s := &Server{
		metrics: metrics,
		config:  cfg,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts serving in the background
func (s *Server) Start() error {
	if !s.config.Enabled {
		logger.GetLogger().Info("Metrics server disabled")
		return nil
	}

	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.server.Addr, err)
	}
	s.addr = lis.Addr().String()
	logger.GetLogger().Infof("Starting metrics server on %s", s.addr)

	go func() {
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			logger.GetLogger().Errorf("Metrics server error: %v", err)
		}
	}()

	return nil
}

// Addr is the bound address once started
func (s *Server) Addr() string {
	return s.addr
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	logger.GetLogger().Info("Stopping metrics server...")
	return s.server.Shutdown(ctx)
}

// handleHealth serves a simple health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"stats":     s.metrics.GetStats(),
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		logger.GetLogger().Errorf("Failed to encode health: %v", err)
	}
}
