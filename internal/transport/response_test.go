package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/leanflow/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"key": "value"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options not set")
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["key"] != "value" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteJSON_nilBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusNoContent, nil)
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(w, r, model.NewInputValidationError([]model.FieldError{
		{Field: "rejection_rate", Code: "RANGE", Message: "must be between 0 and 1"},
	}))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Error.Code != model.ErrInputValidation {
		t.Errorf("code = %q", resp.Error.Code)
	}
	if len(resp.Error.Details) != 1 || resp.Error.Details[0].Field != "rejection_rate" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	err := errors.Join(errors.New("context"), model.NewUpstreamTimeoutError("advisor", nil))
	WriteError(w, r, err)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
	if got := decodeError(t, w).Error.Code; got != model.ErrUpstreamTimeout {
		t.Errorf("code = %q", got)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(w, r, errors.New("dial tcp 10.0.0.4:5432: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q", resp.Error.Code)
	}
	if resp.Error.Message == "dial tcp 10.0.0.4:5432: connection refused" {
		t.Error("internal error detail leaked to the client")
	}
}

func TestWriteError_doesNotMutateEnvelope(t *testing.T) {
	env := model.NewConflictError("already completed")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(httptest.NewRecorder(), r, env)
	if env.TraceID != "" {
		t.Errorf("shared envelope TraceID = %q, want untouched", env.TraceID)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrBadRequest, http.StatusBadRequest},
		{model.ErrInputValidation, http.StatusUnprocessableEntity},
		{model.ErrMissingCostData, http.StatusUnprocessableEntity},
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrConflict, http.StatusConflict},
		{model.ErrInvalidTransition, http.StatusConflict},
		{model.ErrCancelled, http.StatusConflict},
		{model.ErrRegistryLoad, http.StatusServiceUnavailable},
		{model.ErrPersistence, http.StatusServiceUnavailable},
		{model.ErrRuleEvaluation, http.StatusInternalServerError},
		{model.ErrQualityGateFailure, http.StatusBadGateway},
		{model.ErrUpstreamSchema, http.StatusBadGateway},
		{model.ErrUpstreamUnavailable, http.StatusBadGateway},
		{model.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{model.ErrRunDeadlineExceeded, http.StatusGatewayTimeout},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.code); got != tt.want {
			t.Errorf("StatusFor(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteNotFound(w, r, "run abc not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if got := decodeError(t, w).Error.Message; got != "run abc not found" {
		t.Errorf("message = %q", got)
	}
}

// --- Test helpers ---

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error == nil {
		t.Fatalf("body has no error envelope: %s", w.Body.String())
	}
	return resp
}
