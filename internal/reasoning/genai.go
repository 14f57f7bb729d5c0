package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pitabwire/leanflow/model"
)

// GenAIService runs reasoning tasks on Gemini with JSON output.
type GenAIService struct {
	client *genai.Client
	model  string
}

// NewGenAIService creates a Gemini-backed service.
func NewGenAIService(ctx context.Context, apiKey, modelName string) (*GenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reasoning: GenAI API key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning: create GenAI client: %w", err)
	}
	return &GenAIService{client: client, model: modelName}, nil
}

// Complete implements Service.
func (s *GenAIService) Complete(ctx context.Context, req Request) ([]byte, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, model.NewUpstreamTimeoutError(serviceName, err)
		}
		return nil, model.NewUpstreamUnavailableError(serviceName, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, model.NewUpstreamSchemaError(serviceName, errors.New("empty response"))
	}
	return []byte(stripFence(text)), nil
}

// HealthCheck reports whether the client was configured. Gemini has no cheap
// health endpoint.
func (s *GenAIService) HealthCheck(context.Context) error {
	if s.client == nil {
		return model.NewUpstreamUnavailableError(serviceName, errors.New("client not configured"))
	}
	return nil
}

// stripFence removes a ```json fence that some models add despite the
// requested MIME type.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
