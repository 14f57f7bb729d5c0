package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/model"
)

const serviceName = "reasoning"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// HTTPService calls a reasoning endpoint that accepts a Request as JSON on
// POST /v1/complete and answers {"output": <document>}.
type HTTPService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPService creates a client for baseURL. A non-positive timeout falls
// back to 20s.
func NewHTTPService(baseURL, apiKey string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

type completion struct {
	Output json.RawMessage `json:"output"`
}

// Complete implements Service.
func (s *HTTPService) Complete(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reasoning: build request: %w", err)
	}
	s.setHeaders(ctx, httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	data, status, err := s.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, model.NewUpstreamUnavailableError(serviceName,
			fmt.Errorf("status %d: %s", status, truncate(string(data), 200)))
	}

	var c completion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, model.NewUpstreamSchemaError(serviceName, fmt.Errorf("decode completion: %w", err))
	}
	if len(c.Output) == 0 || string(c.Output) == "null" {
		return nil, model.NewUpstreamSchemaError(serviceName, errors.New("completion has no output"))
	}
	return c.Output, nil
}

// HealthCheck checks GET /healthz.
func (s *HTTPService) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("reasoning: build request: %w", err)
	}
	s.setHeaders(ctx, req)

	_, status, err := s.do(ctx, req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return model.NewUpstreamUnavailableError(serviceName, fmt.Errorf("health status %d", status))
	}
	return nil
}

func (s *HTTPService) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	observability.InjectTraceHeaders(ctx, req.Header)
}

func (s *HTTPService) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, 0, model.NewUpstreamTimeoutError(serviceName, err)
		}
		return nil, 0, model.NewUpstreamUnavailableError(serviceName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, 0, model.NewUpstreamTimeoutError(serviceName, err)
		}
		return nil, 0, model.NewUpstreamUnavailableError(serviceName, fmt.Errorf("read response: %w", err))
	}
	return data, resp.StatusCode, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
