package model

import "time"

// SolutionKind classifies a solution template.
type SolutionKind string

// Known solution kinds.
const (
	SolutionSimplify    SolutionKind = "simplify"
	SolutionAutomate    SolutionKind = "automate"
	SolutionDelegate    SolutionKind = "delegate"
	SolutionErrorProof  SolutionKind = "error_proof"
	SolutionRebalance   SolutionKind = "rebalance"
	SolutionCollaborate SolutionKind = "collaborate"
	SolutionMeasure     SolutionKind = "measure"
	SolutionTrain       SolutionKind = "train"
)

// Valid reports whether k is a known solution kind.
func (k SolutionKind) Valid() bool {
	switch k {
	case SolutionSimplify, SolutionAutomate, SolutionDelegate, SolutionErrorProof,
		SolutionRebalance, SolutionCollaborate, SolutionMeasure, SolutionTrain:
		return true
	}
	return false
}

// SolutionTemplate is the reference fix attached to a rule.
type SolutionTemplate struct {
	Title       string       `json:"title" yaml:"title"`
	Kind        SolutionKind `json:"kind" yaml:"kind"`
	Steps       []string     `json:"steps" yaml:"steps"`
	Improvement PercentRange `json:"improvement" yaml:"improvement"`
	Timeline    string       `json:"timeline,omitempty" yaml:"timeline"`
}

// ROIRange is a conservative financial projection. It is always a range.
type ROIRange struct {
	AnnualBenefitLow   float64 `json:"annual_benefit_low"`
	AnnualBenefitHigh  float64 `json:"annual_benefit_high"`
	ImplementationCost float64 `json:"implementation_cost"`
	HorizonYears       int     `json:"horizon_years"`
	Low                float64 `json:"roi_low"`
	High               float64 `json:"roi_high"`
	PaybackMonthsLow   float64 `json:"payback_months_low"`
	PaybackMonthsHigh  float64 `json:"payback_months_high"`
}

// OrgContext carries the organisation's cost figures. Nil amounts are
// absent and never defaulted.
type OrgContext struct {
	BaselineAnnualCost *float64 `json:"baseline_annual_cost,omitempty"`
	ImplementationCost *float64 `json:"implementation_cost,omitempty"`
	HorizonYears       int      `json:"horizon_years,omitempty"`
}

// Recommendation is a single or merged improvement proposal.
type Recommendation struct {
	ID                   string               `json:"id"`
	Title                string               `json:"title"`
	Kind                 SolutionKind         `json:"kind,omitempty"`
	Cause                string               `json:"cause,omitempty"`
	Steps                []string             `json:"steps"`
	Violations           []string             `json:"contributing_violations"`
	Alignment            map[Framework]string `json:"framework_alignment"`
	Severity             Severity             `json:"severity"`
	ExpectedImprovement  PercentRange         `json:"expected_improvement"`
	Timeline             string               `json:"timeline"`
	Merged               bool                 `json:"merged"`
	NeedsManualReview    bool                 `json:"needs_manual_review"`
	ROI                  *ROIRange            `json:"roi,omitempty"`
	Rationale            string               `json:"rationale,omitempty"`
	EarliestViolationSeq int                  `json:"-"`
}

// Advice is what the reasoning service adds to one recommendation: extra
// implementation steps and a short rationale. It never changes the
// deterministic fields.
type Advice struct {
	RecommendationID string   `json:"recommendation_id"`
	Steps            []string `json:"steps,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
}

// OptimizationPlan is the artifact handed to output formatting.
type OptimizationPlan struct {
	SessionID       string            `json:"session_id"`
	RegistryVersion string            `json:"registry_version"`
	Score           InefficiencyScore `json:"inefficiency_score"`
	Violations      []Violation       `json:"violations"`
	Recommendations []Recommendation  `json:"recommendations"`
	AggregateROI    *ROIRange         `json:"aggregate_roi,omitempty"`
	ROIIncomplete   bool              `json:"roi_incomplete"`
	ROIIssue        string            `json:"roi_issue,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// ReferencesAll reports whether every violation id appears in at least one
// recommendation. It returns the first unreferenced id otherwise.
func (p *OptimizationPlan) ReferencesAll() (string, bool) {
	seen := make(map[string]bool)
	for _, r := range p.Recommendations {
		for _, id := range r.Violations {
			seen[id] = true
		}
	}
	for _, v := range p.Violations {
		if !seen[v.RuleID] {
			return v.RuleID, false
		}
	}
	return "", true
}
