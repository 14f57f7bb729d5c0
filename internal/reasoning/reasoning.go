// Package reasoning provides the pipeline's external collaborators: the
// normalizer that structures free-text process descriptions, the advisor
// that enriches recommendations, and plan formatters.
//
// Model-backed collaborators talk to a Service, either a JSON-over-HTTP
// endpoint or Gemini through the genai SDK. Every response is validated
// against the contract document before it is decoded.
package reasoning

import (
	"context"
	"fmt"
	"os"

	"github.com/pitabwire/leanflow/internal/config"
)

// Tasks sent to the reasoning service.
const (
	TaskNormalize = "normalize"
	TaskAdvise    = "advise"
	TaskNarrate   = "narrate"
)

// Request is one call to the reasoning service: a fixed instruction for the
// task plus the task-specific prompt.
type Request struct {
	Task        string `json:"task"`
	Instruction string `json:"instruction"`
	Prompt      string `json:"prompt"`
	Schema      string `json:"schema"`
}

// Service is a reasoning backend. Complete returns the raw JSON document
// produced for the request.
type Service interface {
	Complete(ctx context.Context, req Request) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// NewService builds the backend selected by cfg. The passthrough provider
// has no backend and yields nil.
func NewService(ctx context.Context, cfg config.ReasoningConfig) (Service, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch cfg.Provider {
	case config.ProviderPassthrough, "":
		return nil, nil
	case config.ProviderHTTP:
		return NewHTTPService(cfg.BaseURL, apiKey, cfg.Timeout), nil
	case config.ProviderGenAI:
		svc, err := NewGenAIService(ctx, apiKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("reasoning: unknown provider %q", cfg.Provider)
	}
}
