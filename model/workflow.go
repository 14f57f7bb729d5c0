package model

import (
	"fmt"
	"math"
)

// Domain tags that select threshold variants.
const (
	DomainDomestic      = "domestic"
	DomainInternational = "international"
)

// Descriptor field names addressable from rule predicates.
const (
	FieldStepCount               = "step_count"
	FieldApprovalLevels          = "approval_levels"
	FieldCycleTimeDays           = "cycle_time_days"
	FieldRejectionRate           = "rejection_rate"
	FieldHandoffCount            = "handoff_count"
	FieldQueueTimeDays           = "queue_time_days"
	FieldClickCount              = "click_count"
	FieldBacklogSize             = "backlog_size"
	FieldRedundantActivityCount  = "redundant_activity_count"
	FieldApprovalTimeDays        = "approval_time_days"
	FieldReworkCycles            = "rework_cycles"
	FieldCapacityPerDay          = "capacity_per_day"
	FieldDirectCommunicationRate = "direct_communication_rate"
	FieldApprovalEscalationRate  = "approval_escalation_rate"
	FieldUnusedApprovalRate      = "unused_approval_rate"
	FieldSystemSwitches          = "system_switches"
	FieldChangeRequiresRestart   = "change_requires_restart"
)

var descriptorFields = map[string]struct{}{
	FieldStepCount: {}, FieldApprovalLevels: {}, FieldCycleTimeDays: {},
	FieldRejectionRate: {}, FieldHandoffCount: {}, FieldQueueTimeDays: {},
	FieldClickCount: {}, FieldBacklogSize: {}, FieldRedundantActivityCount: {},
	FieldApprovalTimeDays: {}, FieldReworkCycles: {}, FieldCapacityPerDay: {},
	FieldDirectCommunicationRate: {}, FieldApprovalEscalationRate: {},
	FieldUnusedApprovalRate: {}, FieldSystemSwitches: {}, FieldChangeRequiresRestart: {},
}

// IsDescriptorField reports whether name is a field predicates may reference.
func IsDescriptorField(name string) bool {
	_, ok := descriptorFields[name]
	return ok
}

// ProcessStep is a single step of the described process.
type ProcessStep struct {
	Name         string   `json:"name"`
	Actor        string   `json:"actor,omitempty"`
	DurationDays *float64 `json:"duration_days,omitempty"`
}

// WorkflowDescriptor is the normalized description of an organizational
// process. It is produced by the normalization stage and never mutated by
// the core. Nil fields are absent, which is different from zero.
type WorkflowDescriptor struct {
	ID     string        `json:"id,omitempty"`
	Name   string        `json:"name,omitempty"`
	Domain string        `json:"domain"`
	Steps  []ProcessStep `json:"steps,omitempty"`

	ApprovalLevels         *int     `json:"approval_levels,omitempty"`
	CycleTimeDays          *float64 `json:"cycle_time_days,omitempty"`
	RejectionRate          *float64 `json:"rejection_rate,omitempty"`
	HandoffCount           *int     `json:"handoff_count,omitempty"`
	QueueTimeDays          *float64 `json:"queue_time_days,omitempty"`
	ClickCount             *int     `json:"click_count,omitempty"`
	BacklogSize            *int     `json:"backlog_size,omitempty"`
	RedundantActivityCount *int     `json:"redundant_activity_count,omitempty"`

	ApprovalTimeDays        *float64 `json:"approval_time_days,omitempty"`
	ReworkCycles            *int     `json:"rework_cycles,omitempty"`
	CapacityPerDay          *float64 `json:"capacity_per_day,omitempty"`
	DirectCommunicationRate *float64 `json:"direct_communication_rate,omitempty"`
	ApprovalEscalationRate  *float64 `json:"approval_escalation_rate,omitempty"`
	UnusedApprovalRate      *float64 `json:"unused_approval_rate,omitempty"`
	SystemSwitches          *int     `json:"system_switches,omitempty"`
	ChangeRequiresRestart   *bool    `json:"change_requires_restart,omitempty"`
}

// Field returns the numeric value of a descriptor field and whether it is
// present. Booleans map to 1 and 0.
func (w *WorkflowDescriptor) Field(name string) (float64, bool) {
	switch name {
	case FieldStepCount:
		if len(w.Steps) == 0 {
			return 0, false
		}
		return float64(len(w.Steps)), true
	case FieldApprovalLevels:
		return intField(w.ApprovalLevels)
	case FieldCycleTimeDays:
		return floatField(w.CycleTimeDays)
	case FieldRejectionRate:
		return floatField(w.RejectionRate)
	case FieldHandoffCount:
		return intField(w.HandoffCount)
	case FieldQueueTimeDays:
		return floatField(w.QueueTimeDays)
	case FieldClickCount:
		return intField(w.ClickCount)
	case FieldBacklogSize:
		return intField(w.BacklogSize)
	case FieldRedundantActivityCount:
		return intField(w.RedundantActivityCount)
	case FieldApprovalTimeDays:
		return floatField(w.ApprovalTimeDays)
	case FieldReworkCycles:
		return intField(w.ReworkCycles)
	case FieldCapacityPerDay:
		return floatField(w.CapacityPerDay)
	case FieldDirectCommunicationRate:
		return floatField(w.DirectCommunicationRate)
	case FieldApprovalEscalationRate:
		return floatField(w.ApprovalEscalationRate)
	case FieldUnusedApprovalRate:
		return floatField(w.UnusedApprovalRate)
	case FieldSystemSwitches:
		return intField(w.SystemSwitches)
	case FieldChangeRequiresRestart:
		if w.ChangeRequiresRestart == nil {
			return 0, false
		}
		if *w.ChangeRequiresRestart {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func intField(v *int) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return float64(*v), true
}

func floatField(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Validate checks value ranges. It returns an INPUT_VALIDATION_ERROR listing
// every offending field, or nil.
func (w *WorkflowDescriptor) Validate() error {
	var details []FieldError
	add := func(field, code, msg string) {
		details = append(details, FieldError{Field: field, Code: code, Message: msg})
	}

	if w.Domain == "" {
		add("domain", "REQUIRED", "domain is required")
	}
	for i, s := range w.Steps {
		if s.Name == "" {
			add(fmt.Sprintf("steps[%d].name", i), "REQUIRED", "step name is required")
		}
		if s.DurationDays != nil && !nonNegative(*s.DurationDays) {
			add(fmt.Sprintf("steps[%d].duration_days", i), "OUT_OF_RANGE", "must be >= 0")
		}
	}

	for _, name := range []string{
		FieldRejectionRate, FieldDirectCommunicationRate,
		FieldApprovalEscalationRate, FieldUnusedApprovalRate,
	} {
		if v, ok := w.Field(name); ok && (math.IsNaN(v) || v < 0 || v > 1) {
			add(name, "OUT_OF_RANGE", "must be a fraction between 0 and 1")
		}
	}
	for _, name := range []string{
		FieldApprovalLevels, FieldCycleTimeDays, FieldHandoffCount,
		FieldQueueTimeDays, FieldClickCount, FieldBacklogSize,
		FieldRedundantActivityCount, FieldApprovalTimeDays, FieldReworkCycles,
		FieldCapacityPerDay, FieldSystemSwitches,
	} {
		if v, ok := w.Field(name); ok && !nonNegative(v) {
			add(name, "OUT_OF_RANGE", "must be >= 0")
		}
	}

	if len(details) > 0 {
		return NewInputValidationError(details)
	}
	return nil
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Warnings returns data-quality observations that do not invalidate the
// descriptor.
func (w *WorkflowDescriptor) Warnings() []string {
	var out []string
	if w.CycleTimeDays != nil && len(w.Steps) > 0 {
		var total float64
		for _, s := range w.Steps {
			if s.DurationDays != nil {
				total += *s.DurationDays
			}
		}
		if total > *w.CycleTimeDays {
			out = append(out, fmt.Sprintf("step durations sum to %.1f days, above cycle time %.1f", total, *w.CycleTimeDays))
		}
	}
	if w.Domain != "" && w.Domain != DomainDomestic && w.Domain != DomainInternational {
		out = append(out, fmt.Sprintf("domain %q has no dedicated thresholds; defaults apply", w.Domain))
	}
	return out
}

// Int returns a pointer to v. It is a convenience for building descriptors.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
