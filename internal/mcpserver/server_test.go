package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pitabwire/leanflow/internal/pipeline"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/internal/runstore"
	"github.com/pitabwire/leanflow/model"
)

func TestOptimize_descriptor(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleOptimize(context.Background(), callRequest(ToolOptimize, map[string]any{
		"workflow":             `{"domain":"domestic","approval_levels":5,"cycle_time_days":25,"rejection_rate":0.31}`,
		"baseline_annual_cost": 500000.0,
		"implementation_cost":  40000.0,
	}))
	if err != nil {
		t.Fatalf("handleOptimize: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", text(t, res, 0))
	}
	if len(res.Content) != 2 {
		t.Fatalf("content items = %d, want plan and report", len(res.Content))
	}

	var plan model.OptimizationPlan
	if err := json.Unmarshal([]byte(text(t, res, 0)), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(plan.Violations) == 0 || len(plan.Recommendations) == 0 {
		t.Errorf("plan = %+v, want violations and recommendations", plan)
	}
	if plan.AggregateROI == nil {
		t.Error("AggregateROI missing")
	}
}

func TestOptimize_missingInput(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleOptimize(context.Background(), callRequest(ToolOptimize, map[string]any{}))
	if err != nil {
		t.Fatalf("handleOptimize: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
}

func TestOptimize_malformedDescriptor(t *testing.T) {
	s := newTestServer(t)
	res, _ := s.handleOptimize(context.Background(), callRequest(ToolOptimize, map[string]any{
		"workflow": `{"domain":`,
	}))
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
}

func TestOptimize_runFailureIsToolError(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleOptimize(context.Background(), callRequest(ToolOptimize, map[string]any{
		"workflow": `{"domain":"domestic","rejection_rate":1.5}`,
	}))
	if err != nil {
		t.Fatalf("handleOptimize: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
	if msg := text(t, res, 0); !strings.HasPrefix(msg, model.ErrInputValidation) {
		t.Errorf("message = %q, want code prefix", msg)
	}
}

func TestListRules(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleListRules(context.Background(), callRequest(ToolListRules, map[string]any{"framework": "agile"}))
	if err != nil {
		t.Fatalf("handleListRules: %v", err)
	}
	var out struct {
		Version string `json:"version"`
		Rules   []struct {
			ID        string          `json:"id"`
			Framework model.Framework `json:"framework"`
		} `json:"rules"`
	}
	if err := json.Unmarshal([]byte(text(t, res, 0)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Version == "" || len(out.Rules) == 0 {
		t.Fatalf("listing = %+v", out)
	}
	for _, r := range out.Rules {
		if r.Framework != model.FrameworkAgile {
			t.Errorf("rule %s framework = %s", r.ID, r.Framework)
		}
	}
}

func TestListRules_unknownFramework(t *testing.T) {
	s := newTestServer(t)
	res, _ := s.handleListRules(context.Background(), callRequest(ToolListRules, map[string]any{"framework": "kaizen"}))
	if !res.IsError {
		t.Fatal("expected a tool error")
	}
}

func TestRunInput(t *testing.T) {
	in, err := runInput(map[string]any{"description": "Invoices wait on five approvals.", "baseline_annual_cost": 1000.0})
	if err != nil {
		t.Fatalf("runInput: %v", err)
	}
	if in.RawDescription == "" || in.Workflow != nil {
		t.Errorf("input = %+v", in)
	}
	if in.Org == nil || in.Org.BaselineAnnualCost == nil || in.Org.ImplementationCost != nil {
		t.Errorf("org = %+v", in.Org)
	}
}

// --- Test helpers ---

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg, err := rules.Load("")
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	holder := rules.NewHolder(reg)
	o := pipeline.New(holder, runstore.NewMemoryStore(), pipeline.DefaultConfig())
	return New(o, holder, nil)
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult, i int) string {
	t.Helper()
	if i >= len(res.Content) {
		t.Fatalf("content has %d items, want index %d", len(res.Content), i)
	}
	tc, ok := res.Content[i].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[%d] is %T, want text", i, res.Content[i])
	}
	return tc.Text
}
