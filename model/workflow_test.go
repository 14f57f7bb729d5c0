package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWorkflowDescriptor_Field(t *testing.T) {
	w := &WorkflowDescriptor{
		Domain:                DomainDomestic,
		ApprovalLevels:        Int(5),
		RejectionRate:         Float(0.23),
		ChangeRequiresRestart: Bool(true),
		Steps:                 []ProcessStep{{Name: "submit"}, {Name: "approve"}},
	}

	tests := []struct {
		field  string
		want   float64
		wantOK bool
	}{
		{FieldApprovalLevels, 5, true},
		{FieldRejectionRate, 0.23, true},
		{FieldChangeRequiresRestart, 1, true},
		{FieldStepCount, 2, true},
		{FieldQueueTimeDays, 0, false},
		{"no_such_field", 0, false},
	}
	for _, tt := range tests {
		got, ok := w.Field(tt.field)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Field(%q) = (%v, %v), want (%v, %v)", tt.field, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWorkflowDescriptor_Field_zeroIsPresent(t *testing.T) {
	w := &WorkflowDescriptor{Domain: DomainDomestic, HandoffCount: Int(0)}
	v, ok := w.Field(FieldHandoffCount)
	if !ok || v != 0 {
		t.Errorf("Field(handoff_count) = (%v, %v), want (0, true)", v, ok)
	}
}

func TestWorkflowDescriptor_Validate(t *testing.T) {
	valid := &WorkflowDescriptor{Domain: DomainDomestic, RejectionRate: Float(0.2), ApprovalLevels: Int(2)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	invalid := &WorkflowDescriptor{
		RejectionRate:  Float(1.4),
		ApprovalLevels: Int(-1),
		Steps:          []ProcessStep{{Name: ""}},
	}
	err := invalid.Validate()
	var env *ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatalf("Validate() = %v, want *ErrorEnvelope", err)
	}
	if env.Code != ErrInputValidation {
		t.Errorf("Code = %q, want %q", env.Code, ErrInputValidation)
	}
	fields := map[string]bool{}
	for _, d := range env.Details {
		fields[d.Field] = true
	}
	for _, f := range []string{"domain", "rejection_rate", "approval_levels", "steps[0].name"} {
		if !fields[f] {
			t.Errorf("missing detail for %q in %+v", f, env.Details)
		}
	}
}

func TestWorkflowDescriptor_Warnings(t *testing.T) {
	w := &WorkflowDescriptor{
		Domain:        "regional",
		CycleTimeDays: Float(3),
		Steps: []ProcessStep{
			{Name: "a", DurationDays: Float(2)},
			{Name: "b", DurationDays: Float(2)},
		},
	}
	if got := w.Warnings(); len(got) != 2 {
		t.Errorf("Warnings() = %v, want 2 entries", got)
	}
}

func TestWorkflowDescriptor_ignoresUnknownJSON(t *testing.T) {
	var w WorkflowDescriptor
	body := `{"domain":"international","rejection_rate":0.31,"colour":"blue"}`
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if w.Domain != DomainInternational || w.RejectionRate == nil || *w.RejectionRate != 0.31 {
		t.Errorf("decoded = %+v", w)
	}
}

func TestIsDescriptorField(t *testing.T) {
	if !IsDescriptorField(FieldQueueTimeDays) {
		t.Error("queue_time_days should be addressable")
	}
	if IsDescriptorField("domain") {
		t.Error("domain is not numeric and must not be addressable")
	}
}
