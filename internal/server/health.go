package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc reports whether a component can serve traffic.
type CheckFunc func(ctx context.Context) error

// Checker is a HealthChecker assembled from named readiness checks.
// It is alive until MarkDead is called.
type Checker struct {
	dead atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
	status map[string]string
}

// NewChecker creates an empty checker. With no checks registered it is ready.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		status: make(map[string]string),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkDead makes liveness fail, so the orchestrator restarts the process.
func (c *Checker) MarkDead() {
	c.dead.Store(true)
}

// Liveness reports whether the process should keep running.
func (c *Checker) Liveness() bool {
	return !c.dead.Load()
}

// Readiness runs every registered check and records its outcome.
func (c *Checker) Readiness(ctx context.Context) bool {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	ready := true
	status := make(map[string]string, len(names))
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return ready
}

// IsHealthy reports liveness and readiness together.
func (c *Checker) IsHealthy() bool {
	return c.Liveness() && c.Readiness(context.Background())
}

// GetStatus returns the outcome of the last readiness run.
func (c *Checker) GetStatus() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", "error", err, "status", response.Status)
	}
}
