package model

import "fmt"

// Framework identifies one of the methodology rule sets.
type Framework string

// Known frameworks, in evaluation order.
const (
	FrameworkAgile          Framework = "agile"
	FrameworkLean           Framework = "lean"
	FrameworkOperatingModel Framework = "operating_model"
)

// Frameworks lists every framework in evaluation order.
var Frameworks = []Framework{FrameworkAgile, FrameworkLean, FrameworkOperatingModel}

// Valid reports whether f is a known framework.
func (f Framework) Valid() bool {
	switch f {
	case FrameworkAgile, FrameworkLean, FrameworkOperatingModel:
		return true
	}
	return false
}

// Severity of a violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Weight returns the scoring weight: low=1, medium=2, high=3. Unknown
// severities weigh 0.
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Weight() > 0 }

// PercentRange is an inclusive range of percentages.
type PercentRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Midpoint returns the centre of the range.
func (r PercentRange) Midpoint() float64 { return (r.Low + r.High) / 2 }

// Width returns High - Low.
func (r PercentRange) Width() float64 { return r.High - r.Low }

// IsZero reports whether both ends are zero.
func (r PercentRange) IsZero() bool { return r.Low == 0 && r.High == 0 }

// String renders the range as "low-high%".
func (r PercentRange) String() string {
	return fmt.Sprintf("%.0f-%.0f%%", r.Low, r.High)
}

// Evidence records one comparison that caused a rule to trigger.
type Evidence struct {
	Field     string   `json:"field"`
	Observed  float64  `json:"observed"`
	Operator  string   `json:"operator"`
	Threshold float64  `json:"threshold"`
	Benchmark *float64 `json:"benchmark,omitempty"`
}

// String renders the comparison, e.g.
// "rejection_rate=0.23 > threshold 0.15 (benchmark 0.12)".
func (e Evidence) String() string {
	s := fmt.Sprintf("%s=%g %s threshold %g", e.Field, e.Observed, e.Operator, e.Threshold)
	if e.Benchmark != nil {
		s += fmt.Sprintf(" (benchmark %g)", *e.Benchmark)
	}
	return s
}

// Violation is a triggered rule for one analysis run.
type Violation struct {
	RuleID    string     `json:"rule_id"`
	Framework Framework  `json:"framework"`
	Severity  Severity   `json:"severity"`
	Summary   string     `json:"evidence"`
	Evidence  []Evidence `json:"evidence_detail"`
	Sequence  int        `json:"sequence"`
}

// InefficiencyScore is the aggregate severity of a violation set.
type InefficiencyScore struct {
	Value          float64      `json:"value"`
	ObservedWeight int          `json:"observed_weight"`
	MaxWeight      int          `json:"max_weight"`
	Potential      PercentRange `json:"optimization_potential"`
	Dominant       string       `json:"dominant_rule,omitempty"`
}
