// Package transport contains the HTTP router, middleware chain, and request
// handlers for the optimization API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:          http.StatusBadRequest,
	model.ErrInputValidation:     http.StatusUnprocessableEntity,
	model.ErrMissingCostData:     http.StatusUnprocessableEntity,
	model.ErrNotFound:            http.StatusNotFound,
	model.ErrConflict:            http.StatusConflict,
	model.ErrInvalidTransition:   http.StatusConflict,
	model.ErrCancelled:           http.StatusConflict,
	model.ErrRegistryLoad:        http.StatusServiceUnavailable,
	model.ErrPersistence:         http.StatusServiceUnavailable,
	model.ErrRuleEvaluation:      http.StatusInternalServerError,
	model.ErrInternalError:       http.StatusInternalServerError,
	model.ErrQualityGateFailure:  http.StatusBadGateway,
	model.ErrUpstreamSchema:      http.StatusBadGateway,
	model.ErrUpstreamUnavailable: http.StatusBadGateway,
	model.ErrUpstreamTimeout:     http.StatusGatewayTimeout,
	model.ErrRunDeadlineExceeded: http.StatusGatewayTimeout,
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Errors without a taxonomy code become a generic 500 so internal detail
// never leaks.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		cp := *env
		env = &cp
	} else {
		observability.LoggerFrom(r.Context(), zap.NewNop()).Error("unclassified error", zap.Error(err))
		env = model.NewInternalError()
	}
	env.TraceID = observability.TraceIDFromContext(r.Context())
	WriteJSON(w, StatusFor(env.Code), errorResponse{Error: env})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, msg string) {
	WriteError(w, r, model.NewNotFoundError(msg))
}
