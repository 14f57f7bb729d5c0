package analysis

import (
	"testing"

	"github.com/pitabwire/leanflow/model"
)

func benign() *model.WorkflowDescriptor {
	return &model.WorkflowDescriptor{
		Domain:                 model.DomainDomestic,
		ApprovalLevels:         model.Int(1),
		CycleTimeDays:          model.Float(5),
		RejectionRate:          model.Float(0.05),
		HandoffCount:           model.Int(1),
		QueueTimeDays:          model.Float(0.5),
		ClickCount:             model.Int(5),
		BacklogSize:            model.Int(2),
		CapacityPerDay:         model.Float(10),
		RedundantActivityCount: model.Int(0),
		ApprovalTimeDays:       model.Float(1),
		ReworkCycles:           model.Int(0),
		ApprovalEscalationRate: model.Float(0.01),
		UnusedApprovalRate:     model.Float(0.01),
		SystemSwitches:         model.Int(1),
	}
}

func scoreOf(t *testing.T, w *model.WorkflowDescriptor) model.InefficiencyScore {
	t.Helper()
	reg := testRegistry(t)
	ev, err := NewEngine(reg).Evaluate(w)
	if err != nil {
		t.Fatal(err)
	}
	return NewAggregator(reg, DefaultScoreConfig()).Score(ev)
}

func TestScore_monotoneInWorseningFields(t *testing.T) {
	worsen := []struct {
		name  string
		apply func(w *model.WorkflowDescriptor)
	}{
		{"approval_levels", func(w *model.WorkflowDescriptor) { w.ApprovalLevels = model.Int(6) }},
		{"cycle_time_days", func(w *model.WorkflowDescriptor) { w.CycleTimeDays = model.Float(40) }},
		{"rejection_rate", func(w *model.WorkflowDescriptor) { w.RejectionRate = model.Float(0.5) }},
		{"handoff_count", func(w *model.WorkflowDescriptor) { w.HandoffCount = model.Int(9) }},
		{"queue_time_days", func(w *model.WorkflowDescriptor) { w.QueueTimeDays = model.Float(6) }},
		{"click_count", func(w *model.WorkflowDescriptor) { w.ClickCount = model.Int(50) }},
		{"backlog_size", func(w *model.WorkflowDescriptor) { w.BacklogSize = model.Int(500) }},
		{"redundant_activity_count", func(w *model.WorkflowDescriptor) { w.RedundantActivityCount = model.Int(4) }},
		{"approval_time_days", func(w *model.WorkflowDescriptor) { w.ApprovalTimeDays = model.Float(60) }},
		{"unused_approval_rate", func(w *model.WorkflowDescriptor) { w.UnusedApprovalRate = model.Float(0.4) }},
	}

	base := scoreOf(t, benign())
	if base.Value != 0 {
		t.Fatalf("benign workflow scored %v, want 0", base.Value)
	}

	cur := benign()
	prev := base.Value
	for _, step := range worsen {
		single := benign()
		step.apply(single)
		if got := scoreOf(t, single).Value; got <= base.Value {
			t.Errorf("worsening %s alone: score %v, want > %v", step.name, got, base.Value)
		}

		step.apply(cur)
		got := scoreOf(t, cur).Value
		if got < prev {
			t.Errorf("after worsening %s: score %v dropped below %v", step.name, got, prev)
		}
		prev = got
	}
}

func TestScore_rejectionRateSweepNeverDecreases(t *testing.T) {
	prev := -1.0
	for r := 0.0; r <= 1.0; r += 0.05 {
		w := &model.WorkflowDescriptor{Domain: model.DomainDomestic, RejectionRate: model.Float(r)}
		got := scoreOf(t, w).Value
		if got < prev {
			t.Errorf("rejection_rate %.2f: score %v below previous %v", r, got, prev)
		}
		prev = got
	}
}

func TestScore_singleDefectRange(t *testing.T) {
	reg := testRegistry(t)
	ev := Evaluation{
		MaxWeight:  3,
		Violations: []model.Violation{{RuleID: "defect_waste", Framework: model.FrameworkLean, Severity: model.SeverityHigh}},
	}
	got := NewAggregator(reg, ScoreConfig{MaxPotential: 100}).Score(ev)
	if got.Value != 10 {
		t.Errorf("Value = %v, want 10", got.Value)
	}
	if got.Potential != (model.PercentRange{Low: 60, High: 80}) {
		t.Errorf("Potential = %v, want the 60-80%% defect anchor", got.Potential)
	}
	if got.Dominant != "defect_waste" {
		t.Errorf("Dominant = %q", got.Dominant)
	}
}

func TestScore_widensInsteadOfSumming(t *testing.T) {
	reg := testRegistry(t)
	ev := Evaluation{
		MaxWeight: 6,
		Violations: []model.Violation{
			{RuleID: "waiting_waste", Severity: model.SeverityHigh, Sequence: 0},
			{RuleID: "defect_waste", Severity: model.SeverityHigh, Sequence: 1},
		},
	}
	got := NewAggregator(reg, ScoreConfig{MaxPotential: 100}).Score(ev)
	if got.Potential != (model.PercentRange{Low: 50, High: 80}) {
		t.Errorf("Potential = %v, want union 50-80%%", got.Potential)
	}
	if got.Dominant != "defect_waste" {
		t.Errorf("Dominant = %q, want the higher-anchored defect_waste", got.Dominant)
	}
}

func TestScore_anchorOverride(t *testing.T) {
	reg := testRegistry(t)
	ev := Evaluation{
		MaxWeight:  3,
		Violations: []model.Violation{{RuleID: "defect_waste", Severity: model.SeverityHigh}},
	}
	cfg := ScoreConfig{MaxPotential: 100, Anchors: map[string]model.PercentRange{"defect_waste": {Low: 10, High: 20}}}
	got := NewAggregator(reg, cfg).Score(ev)
	if got.Potential != (model.PercentRange{Low: 10, High: 20}) {
		t.Errorf("Potential = %v, want override 10-20%%", got.Potential)
	}
}

func TestScore_addingViolationNeverLowers(t *testing.T) {
	reg := testRegistry(t)
	agg := NewAggregator(reg, DefaultScoreConfig())
	ev := Evaluation{
		MaxWeight:  12,
		Violations: []model.Violation{{RuleID: "motion_waste", Severity: model.SeverityLow}},
	}
	before := agg.Score(ev).Value
	ev.Violations = append(ev.Violations, model.Violation{RuleID: "poor_collaboration", Severity: model.SeverityMedium, Sequence: 1})
	after := agg.Score(ev).Value
	if after < before {
		t.Errorf("score dropped from %v to %v", before, after)
	}
}
