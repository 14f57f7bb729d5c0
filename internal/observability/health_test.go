package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("resp = %+v", resp)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func ready(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady_allHealthy(t *testing.T) {
	code, resp := ready(t, ReadinessChecks{
		RulesLoaded: func() bool { return true },
		RunStore:    &mockHealthChecker{},
		Reasoning:   &mockHealthChecker{},
	})
	if code != http.StatusOK || resp.Status != "ready" {
		t.Fatalf("code = %d, status = %q", code, resp.Status)
	}
	if len(resp.Checks) != 3 {
		t.Errorf("checks = %v, want rules, run_store and reasoning", resp.Checks)
	}
}

func TestHandleReady_rulesNotLoaded(t *testing.T) {
	code, resp := ready(t, ReadinessChecks{})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", code)
	}
	if resp.Checks["rules"].Status != "error" {
		t.Errorf("rules check = %+v", resp.Checks["rules"])
	}
}

func TestHandleReady_storeDown(t *testing.T) {
	code, resp := ready(t, ReadinessChecks{
		RulesLoaded: func() bool { return true },
		RunStore:    &mockHealthChecker{err: errors.New("connection refused")},
	})
	if code != http.StatusServiceUnavailable || resp.Status != "not_ready" {
		t.Fatalf("code = %d, status = %q", code, resp.Status)
	}
	if resp.Checks["run_store"].Error != "connection refused" {
		t.Errorf("run_store check = %+v", resp.Checks["run_store"])
	}
	if _, ok := resp.Checks["reasoning"]; ok {
		t.Error("nil reasoning checker should be skipped")
	}
}
