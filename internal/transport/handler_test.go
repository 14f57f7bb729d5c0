package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/leanflow/internal/pipeline"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

func TestOptimize_sync(t *testing.T) {
	router := NewRouter(testDeps(t, nil))

	w := serve(router, http.MethodPost, "/v1/optimizations?wait=true", inefficientInput(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	run := decodeRun(t, w.Body.Bytes())
	if run.Status != model.RunCompleted {
		t.Fatalf("Status = %s", run.Status)
	}
	if run.Plan == nil || len(run.Plan.Recommendations) == 0 {
		t.Fatalf("plan = %+v, want recommendations", run.Plan)
	}
	if run.Plan.AggregateROI == nil {
		t.Error("AggregateROI missing for a costed organisation")
	}
}

func TestOptimize_async(t *testing.T) {
	deps := testDeps(t, nil)
	router := NewRouter(deps)

	w := serve(router, http.MethodPost, "/v1/optimizations", inefficientInput(), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	run := decodeRun(t, w.Body.Bytes())
	if run.SessionID == "" {
		t.Fatal("SessionID empty")
	}
	loc := w.Header().Get("Location")
	if loc != "/v1/optimizations/"+run.SessionID {
		t.Errorf("Location = %q", loc)
	}

	deps.Optimizer.(*pipeline.Orchestrator).Wait()

	w = serve(router, http.MethodGet, loc, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	if got := decodeRun(t, w.Body.Bytes()); got.Status != model.RunCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	w = serve(router, http.MethodGet, loc+"/plan", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("plan status = %d: %s", w.Code, w.Body.String())
	}
	var plan model.OptimizationPlan
	if err := json.Unmarshal(w.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.SessionID != run.SessionID {
		t.Errorf("plan SessionID = %q", plan.SessionID)
	}

	w = serve(router, http.MethodGet, loc+"/report", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("report empty")
	}

	w = serve(router, http.MethodPost, loc+"/cancel", nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("cancel of a completed run = %d, want 409", w.Code)
	}
}

func TestOptimize_invalidDescriptor(t *testing.T) {
	router := NewRouter(testDeps(t, nil))
	in := inefficientInput()
	in.Workflow.RejectionRate = model.Float(1.5)

	w := serve(router, http.MethodPost, "/v1/optimizations?wait=true", in, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if got := decodeError(t, w).Error.Code; got != model.ErrInputValidation {
		t.Errorf("code = %q", got)
	}
}

func TestOptimize_emptyInput(t *testing.T) {
	router := NewRouter(testDeps(t, nil))
	w := serve(router, http.MethodPost, "/v1/optimizations", "{}", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestOptimize_badBodies(t *testing.T) {
	router := NewRouter(testDeps(t, nil))
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", `{"workflow":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPost, "/v1/optimizations", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w).Error.Code; got != model.ErrBadRequest {
				t.Errorf("code = %q", got)
			}
		})
	}
}

func TestOptimize_unknownFieldsIgnored(t *testing.T) {
	router := NewRouter(testDeps(t, nil))
	body := `{"workflow":{"domain":"domestic","rejection_rate":0.23,"source_system":"sap"},"requested_by":"ops"}`

	w := serve(router, http.MethodPost, "/v1/optimizations?wait=true", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	run := decodeRun(t, w.Body.Bytes())
	if run.Workflow == nil || run.Workflow.RejectionRate == nil || *run.Workflow.RejectionRate != 0.23 {
		t.Errorf("Workflow = %+v", run.Workflow)
	}
}

func TestOptimize_bodyTooLarge(t *testing.T) {
	deps := testDeps(t, nil)
	deps.Config.Server.MaxBodyBytes = 64
	router := NewRouter(deps)

	w := serve(router, http.MethodPost, "/v1/optimizations", `{"raw_description":"`+strings.Repeat("a", 200)+`"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetRun_notFound(t *testing.T) {
	router := NewRouter(testDeps(t, nil))
	w := serve(router, http.MethodGet, "/v1/optimizations/does-not-exist", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetPlan_inProgress(t *testing.T) {
	stub := &stubOptimizer{runs: map[string]*model.PipelineRun{
		"r1": {SessionID: "r1", Status: model.RunAnalyzing},
	}}
	router := NewRouter(testDeps(t, stub))

	for _, path := range []string{"/v1/optimizations/r1/plan", "/v1/optimizations/r1/report"} {
		w := serve(router, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("%s status = %d, want 409", path, w.Code)
		}
	}
}

func TestGetPlan_failedRunReturnsItsError(t *testing.T) {
	stub := &stubOptimizer{runs: map[string]*model.PipelineRun{
		"r2": {
			SessionID: "r2",
			Status:    model.RunFailed,
			Error:     &model.RunError{Code: model.ErrUpstreamTimeout, Message: "advisor did not respond in time", Stage: model.StageOptimize},
		},
	}}
	router := NewRouter(testDeps(t, stub))

	w := serve(router, http.MethodGet, "/v1/optimizations/r2/plan", nil, nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if got := decodeError(t, w).Error.Code; got != model.ErrUpstreamTimeout {
		t.Errorf("code = %q", got)
	}
}

func TestCancel(t *testing.T) {
	stub := &stubOptimizer{runs: map[string]*model.PipelineRun{
		"r3": {SessionID: "r3", Status: model.RunOptimizing},
	}}
	router := NewRouter(testDeps(t, stub))

	w := serve(router, http.MethodPost, "/v1/optimizations/r3/cancel", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if !stub.cancelled["r3"] {
		t.Error("Cancel not forwarded to the optimizer")
	}

	w = serve(router, http.MethodPost, "/v1/optimizations/missing/cancel", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", w.Code)
	}
}

func TestListRules(t *testing.T) {
	deps := testDeps(t, nil)
	router := NewRouter(deps)

	w := serve(router, http.MethodGet, "/v1/rules", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var all rulesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg := deps.Rules.Current()
	if all.Count != reg.Len() || len(all.Rules) != reg.Len() {
		t.Errorf("count = %d (%d listed), want %d", all.Count, len(all.Rules), reg.Len())
	}
	if all.Version != reg.Version() || all.Checksum != reg.Checksum() {
		t.Errorf("version/checksum = %s/%s", all.Version, all.Checksum)
	}

	w = serve(router, http.MethodGet, "/v1/rules?framework=lean", nil, nil)
	var lean rulesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &lean); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lean.Count == 0 || lean.Count >= all.Count {
		t.Errorf("lean count = %d of %d", lean.Count, all.Count)
	}
	for _, r := range lean.Rules {
		if r.Framework != model.FrameworkLean {
			t.Errorf("rule %s framework = %s", r.ID, r.Framework)
		}
	}
}

func TestListRules_unknownFramework(t *testing.T) {
	w := serve(NewRouter(testDeps(t, nil)), http.MethodGet, "/v1/rules?framework=six_sigma", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListRules_noRegistry(t *testing.T) {
	deps := testDeps(t, nil)
	deps.Rules = rules.NewHolder(nil)
	w := serve(NewRouter(deps), http.MethodGet, "/v1/rules", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// --- Test helpers ---

func inefficientInput() model.RunInput {
	return model.RunInput{
		Workflow: &model.WorkflowDescriptor{
			Domain:         model.DomainDomestic,
			ApprovalLevels: model.Int(5),
			CycleTimeDays:  model.Float(25),
			RejectionRate:  model.Float(0.31),
		},
		Org: &model.OrgContext{
			BaselineAnnualCost: model.Float(500000),
			ImplementationCost: model.Float(40000),
		},
	}
}

func decodeRun(t *testing.T, data []byte) model.PipelineRun {
	t.Helper()
	var run model.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("decode run: %v\n%s", err, data)
	}
	return run
}

// stubOptimizer serves fixed runs.
type stubOptimizer struct {
	runs      map[string]*model.PipelineRun
	cancelled map[string]bool
}

func (s *stubOptimizer) Run(context.Context, model.RunInput) (*model.PipelineRun, error) {
	return nil, model.NewInternalError()
}

func (s *stubOptimizer) Submit(context.Context, model.RunInput) (*model.PipelineRun, error) {
	return nil, model.NewInternalError()
}

func (s *stubOptimizer) Get(_ context.Context, id string) (*model.PipelineRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, model.NewNotFoundError("run " + id + " not found")
	}
	return run, nil
}

func (s *stubOptimizer) Cancel(ctx context.Context, id string) (*model.PipelineRun, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cancelled == nil {
		s.cancelled = make(map[string]bool)
	}
	s.cancelled[id] = true
	return run, nil
}

var (
	_ Optimizer = (*stubOptimizer)(nil)
	_ Optimizer = (*pipeline.Orchestrator)(nil)
)
