package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockHealthChecker implements HealthChecker for testing
type mockHealthChecker struct {
	liveness  bool
	readiness bool
	status    map[string]string
}

func (m *mockHealthChecker) Liveness() bool {
	return m.liveness
}

func (m *mockHealthChecker) Readiness(ctx context.Context) bool {
	return m.readiness
}

func (m *mockHealthChecker) IsHealthy() bool {
	return m.liveness && m.readiness
}

func (m *mockHealthChecker) GetStatus() map[string]string {
	return m.status
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestLivenessHandler(t *testing.T) {
	tests := []struct {
		name       string
		alive      bool
		wantCode   int
		wantStatus string
	}{
		{"alive", true, http.StatusOK, "alive"},
		{"not alive", false, http.StatusServiceUnavailable, "not alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := LivenessHandler(&mockHealthChecker{liveness: tt.alive}, discardLogger())
			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if got := decodeHealth(t, w).Status; got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		wantCode   int
		wantStatus string
	}{
		{"ready", true, http.StatusOK, "ready"},
		{"not ready", false, http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{
				readiness: tt.ready,
				status:    map[string]string{"consumer": "ok", "pipeline": "ok"},
			}
			handler := ReadinessHandler(checker, discardLogger())
			req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			response := decodeHealth(t, w)
			if response.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", response.Status, tt.wantStatus)
			}
			if len(response.Checks) != 2 {
				t.Errorf("len(checks) = %d, want 2", len(response.Checks))
			}
		})
	}
}

func TestChecker(t *testing.T) {
	checker := NewChecker()

	if !checker.Liveness() {
		t.Error("new checker should be alive")
	}
	if !checker.Readiness(context.Background()) {
		t.Error("checker without checks should be ready")
	}

	var pipelineErr error
	checker.Register("pipeline", func(context.Context) error { return pipelineErr })
	checker.Register("consumer", func(context.Context) error { return nil })

	if !checker.IsHealthy() {
		t.Error("checker should be healthy when all checks pass")
	}
	status := checker.GetStatus()
	if status["pipeline"] != "ok" || status["consumer"] != "ok" {
		t.Errorf("GetStatus() = %v", status)
	}

	pipelineErr = errors.New("no partitions assigned")
	if checker.Readiness(context.Background()) {
		t.Error("checker should not be ready when a check fails")
	}
	status = checker.GetStatus()
	if status["pipeline"] != "no partitions assigned" {
		t.Errorf("pipeline status = %q", status["pipeline"])
	}
	if status["consumer"] != "ok" {
		t.Errorf("consumer status = %q", status["consumer"])
	}

	checker.MarkDead()
	if checker.Liveness() {
		t.Error("checker should not be alive after MarkDead")
	}
}

func TestChecker_GetStatusReturnsCopy(t *testing.T) {
	checker := NewChecker()
	checker.Register("storage", func(context.Context) error { return nil })
	checker.Readiness(context.Background())

	status := checker.GetStatus()
	status["storage"] = "tampered"

	if got := checker.GetStatus()["storage"]; got != "ok" {
		t.Errorf("status = %q, want ok", got)
	}
}
