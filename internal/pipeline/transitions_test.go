package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/leanflow/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.RunStatus
		want     bool
	}{
		{model.RunReceived, model.RunNormalizing, true},
		{model.RunReceived, model.RunAnalyzing, false},
		{model.RunNormalizing, model.RunRetrying, true},
		{model.RunNormalized, model.RunRetrying, false},
		{model.RunRetrying, model.RunOptimizing, true},
		{model.RunRetrying, model.RunCompleted, false},
		{model.RunFormatting, model.RunCompleted, true},
		{model.RunOptimized, model.RunCompleted, false},
		{model.RunAnalyzed, model.RunFailed, true},
		{model.RunCompleted, model.RunFailed, false},
		{model.RunFailed, model.RunReceived, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_everyNonTerminalStatusCanFail(t *testing.T) {
	for from := range transitions {
		if !CanTransition(from, model.RunFailed) {
			t.Errorf("%s cannot reach failed", from)
		}
	}
}

func TestCanTransition_retryingOnlyFromInProgress(t *testing.T) {
	inProgress := map[model.RunStatus]bool{
		model.RunNormalizing: true,
		model.RunAnalyzing:   true,
		model.RunOptimizing:  true,
		model.RunFormatting:  true,
	}
	for from := range transitions {
		if from == model.RunRetrying {
			continue
		}
		if got := CanTransition(from, model.RunRetrying); got != inProgress[from] {
			t.Errorf("CanTransition(%s, retrying) = %v, want %v", from, got, inProgress[from])
		}
	}
}

func TestStageStatuses(t *testing.T) {
	for _, s := range model.Stages {
		running, done := stageStatuses(s)
		if !CanTransition(running, done) {
			t.Errorf("%s: %s -> %s not allowed", s, running, done)
		}
		if !CanTransition(model.RunRetrying, running) {
			t.Errorf("%s: cannot resume %s after retrying", s, running)
		}
	}
	if _, done := stageStatuses(model.StageFormat); done != model.RunCompleted {
		t.Errorf("format done = %s, want completed", done)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Max: time.Second}
	want := []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, time.Second, time.Second,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestSleep_honoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); err == nil {
		t.Error("sleep on a cancelled context returned nil")
	}
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleep = %v", err)
	}
}

func TestGates(t *testing.T) {
	if err := normalizedGate(nil); !model.IsCode(err, model.ErrQualityGateFailure) {
		t.Errorf("normalizedGate(nil) = %v", err)
	}
	if err := normalizedGate(&model.WorkflowDescriptor{}); !model.IsCode(err, model.ErrInputValidation) {
		t.Errorf("normalizedGate(no domain) = %v", err)
	}
	if err := analyzedGate(&model.InefficiencyScore{Value: 10.5}); !model.IsCode(err, model.ErrQualityGateFailure) {
		t.Errorf("analyzedGate(10.5) = %v", err)
	}
	if err := analyzedGate(&model.InefficiencyScore{Value: 7}); err != nil {
		t.Errorf("analyzedGate(7) = %v", err)
	}

	plan := &model.OptimizationPlan{
		Violations:      []model.Violation{{RuleID: "defect_waste"}, {RuleID: "waiting_waste"}},
		Recommendations: []model.Recommendation{{ID: "r1", Violations: []string{"defect_waste"}}},
	}
	if err := optimizedGate(plan); !model.IsCode(err, model.ErrQualityGateFailure) {
		t.Errorf("optimizedGate(unaddressed) = %v", err)
	}
	plan.Recommendations = append(plan.Recommendations, model.Recommendation{ID: "r2", Violations: []string{"waiting_waste"}})
	if err := optimizedGate(plan); err != nil {
		t.Errorf("optimizedGate = %v", err)
	}

	if err := formattedGate("\n\t "); !model.IsCode(err, model.ErrQualityGateFailure) {
		t.Errorf("formattedGate(blank) = %v", err)
	}
}
