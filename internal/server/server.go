// Package server hosts the admin HTTP surface: Prometheus /metrics plus
// /healthz and /readyz liveness/readiness probes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/idswatch/sentinel/internal/health"
	"github.com/idswatch/sentinel/internal/logging"
)

// Server is the single admin HTTP server exposing metrics and health probes
// on one address, separate from the UDP ingress socket.
type Server struct {
	http   *http.Server
	logger *logging.Logger
}

// Config holds server configuration.
type Config struct {
	Address         string
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// New builds the admin server. It does not start listening until Start is
// called.
func New(cfg Config) *Server {
	mux := http.NewServeMux()

	if cfg.MetricsRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	if cfg.HealthChecker != nil {
		mux.HandleFunc("/healthz", cfg.HealthChecker.LivenessHandler())
		mux.HandleFunc("/readyz", cfg.HealthChecker.ReadinessHandler())
		mux.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())
	}

	return &Server{
		logger: cfg.Logger,
		http: &http.Server{
			Addr:         cfg.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start launches the server in the background. It returns promptly; a
// startup error (e.g. address already in use) is reported on the returned
// channel rather than blocking the caller.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.http.Addr).Msg("starting admin server")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()
	return errCh
}

// Stop gracefully shuts down the server within the bounds of ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down admin server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
