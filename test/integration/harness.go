// Package integration provides a reusable test harness for end-to-end
// testing of the optimizer. It starts the full HTTP API in front of a real
// orchestrator whose reasoning provider is a scripted mock service.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/pipeline"
	"github.com/pitabwire/leanflow/internal/reasoning"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/internal/runstore"
	"github.com/pitabwire/leanflow/internal/transport"
	"github.com/pitabwire/leanflow/model"
)

// TestHarness is a fully wired optimizer with a mock reasoning backend.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	Reasoning    *MockBackend
	Rules        *rules.Holder
	Store        runstore.Store
	Orchestrator *pipeline.Orchestrator
	Metrics      *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	format   string
	store    runstore.Store
	pipeline func(*config.PipelineConfig)
	rulesDir string
}

// WithFormat selects the report format.
func WithFormat(format string) HarnessOption {
	return func(c *harnessConfig) { c.format = format }
}

// WithStore replaces the in-memory run store.
func WithStore(s runstore.Store) HarnessOption {
	return func(c *harnessConfig) { c.store = s }
}

// WithPipeline adjusts the orchestrator limits.
func WithPipeline(fn func(*config.PipelineConfig)) HarnessOption {
	return func(c *harnessConfig) { c.pipeline = fn }
}

// WithRulesDir loads rules from dir instead of the built-in catalogue.
func WithRulesDir(dir string) HarnessOption {
	return func(c *harnessConfig) { c.rulesDir = dir }
}

// NewTestHarness creates and starts a full optimizer instance. The server is
// cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{format: reasoning.FormatMarkdown}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:         t,
		Reasoning: newMockBackend(t),
		Metrics:   prometheus.NewRegistry(),
	}

	cfg := config.Defaults()
	cfg.Rules.Directory = hc.rulesDir
	cfg.Reasoning.Provider = config.ProviderHTTP
	cfg.Reasoning.BaseURL = h.Reasoning.URL()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Pipeline.Retry.BackoffInitial = time.Millisecond
	cfg.Pipeline.Retry.BackoffMultiplier = 1
	cfg.Pipeline.Retry.BackoffMax = time.Millisecond
	cfg.Pipeline.CallTimeout = 2 * time.Second
	if hc.pipeline != nil {
		hc.pipeline(&cfg.Pipeline)
	}
	h.cfg = cfg

	reg, err := rules.Load(cfg.Rules.Directory)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	h.Rules = rules.NewHolder(reg)

	h.Store = hc.store
	if h.Store == nil {
		h.Store = runstore.NewMemoryStore()
	}

	schemas, err := reasoning.LoadSchemas("")
	if err != nil {
		t.Fatalf("load schemas: %v", err)
	}
	svc := reasoning.NewHTTPService(cfg.Reasoning.BaseURL, "", cfg.Reasoning.Timeout)
	formatter, err := reasoning.NewFormatter(hc.format, svc, schemas)
	if err != nil {
		t.Fatalf("formatter: %v", err)
	}

	metrics := observability.InitMetrics(h.Metrics)
	h.Orchestrator = pipeline.New(h.Rules, h.Store, pipeline.ConfigFrom(cfg.Pipeline),
		pipeline.WithNormalizer(reasoning.NewNormalizer(svc, schemas)),
		pipeline.WithAdvisor(reasoning.NewAdvisor(svc, schemas)),
		pipeline.WithFormatter(formatter),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(zap.NewNop()),
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    zap.NewNop(),
		Optimizer: h.Orchestrator,
		Rules:     h.Rules,
		Metrics:   metrics,
		Gatherer:  h.Metrics,
		Readiness: observability.ReadinessChecks{
			RulesLoaded: func() bool { return h.Rules.Current() != nil },
			RunStore:    h.Store,
			Reasoning:   svc,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Orchestrator.Shutdown(ctx)
		h.server.Close()
	})
	return h
}

// BaseURL returns the base URL of the optimizer server.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GET performs a GET request.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, nil)
}

// POSTWithHeaders performs a POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	data := h.ReadBody(resp)
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks the response status.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the response status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// Optimize submits in synchronously and returns the final run.
func (h *TestHarness) Optimize(t *testing.T, in model.RunInput, expected int) *model.PipelineRun {
	t.Helper()
	var run model.PipelineRun
	resp := h.POST("/v1/optimizations?wait=true", in)
	if expected != http.StatusOK {
		h.AssertStatus(t, resp, expected)
		resp.Body.Close()
		return nil
	}
	h.AssertJSON(t, resp, expected, &run)
	return &run
}

// WaitForRun polls a run until it is terminal.
func (h *TestHarness) WaitForRun(t *testing.T, sessionID string) *model.PipelineRun {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var run model.PipelineRun
		h.AssertJSON(t, h.GET("/v1/optimizations/"+sessionID), http.StatusOK, &run)
		if run.Terminal() {
			return &run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", sessionID)
	return nil
}

// --- Fixtures ---

// InefficientWorkflow triggers approval, waiting and defect violations.
func InefficientWorkflow() *model.WorkflowDescriptor {
	return &model.WorkflowDescriptor{
		Domain:         model.DomainDomestic,
		ApprovalLevels: model.Int(5),
		CycleTimeDays:  model.Float(25),
		RejectionRate:  model.Float(0.31),
	}
}

// CostedOrg carries the cost data needed for ROI.
func CostedOrg() *model.OrgContext {
	return &model.OrgContext{
		BaselineAnnualCost: model.Float(500000),
		ImplementationCost: model.Float(40000),
	}
}

// NoAdvice is an advise output that changes nothing.
func NoAdvice() map[string]any {
	return map[string]any{"advice": []any{}}
}

// AdviseEverything returns an advise responder that adds a rationale to
// every recommendation it is sent.
func AdviseEverything(rationale string) func(ReasoningRequest) any {
	return func(req ReasoningRequest) any {
		var prompt struct {
			Recommendations []struct {
				ID string `json:"id"`
			} `json:"recommendations"`
		}
		_ = json.Unmarshal([]byte(req.Prompt), &prompt)
		advice := make([]map[string]any, 0, len(prompt.Recommendations))
		for _, r := range prompt.Recommendations {
			advice = append(advice, map[string]any{
				"recommendation_id": r.ID,
				"rationale":         rationale,
			})
		}
		return map[string]any{"advice": advice}
	}
}
