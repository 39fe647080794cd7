// Package server implements the HTTP servers for health checks and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	logger        *slog.Logger
}

// NewServer creates the health and metrics servers. Ports must be distinct
// and positive.
func NewServer(
	healthPort int,
	metricsPort int,
	healthChecker HealthChecker,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) (*Server, error) {
	if healthPort <= 0 || healthPort > 65535 {
		return nil, fmt.Errorf("invalid health port: %d", healthPort)
	}
	if metricsPort <= 0 || metricsPort > 65535 {
		return nil, fmt.Errorf("invalid metrics port: %d", metricsPort)
	}
	if healthPort == metricsPort {
		return nil, fmt.Errorf("health and metrics ports must differ: %d", healthPort)
	}

	return &Server{
		healthServer:  newHTTPServer(healthPort, HealthMux(healthChecker, logger)),
		metricsServer: newHTTPServer(metricsPort, MetricsMux(gatherer)),
		logger:        logger,
	}, nil
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// HealthMux routes /health/live and /health/ready. Only GET and HEAD are
// accepted.
func HealthMux(checker HealthChecker, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", LivenessHandler(checker, logger))
	mux.HandleFunc("GET /health/ready", ReadinessHandler(checker, logger))
	return mux
}

// MetricsMux serves the Prometheus exposition format on /metrics.
func MetricsMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves both servers until ctx is cancelled, then shuts them down
// within shutdownTimeout. A listener failure stops the other server too.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range []*http.Server{s.healthServer, s.metricsServer} {
		srv := srv
		g.Go(func() error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			s.logger.Info("starting http server", "addr", srv.Addr)
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.healthServer.Shutdown(ctx)
	}()

	go func() {
		errChan <- s.metricsServer.Shutdown(ctx)
	}()

	var lastErr error
	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			lastErr = err
		}
	}

	return lastErr
}
