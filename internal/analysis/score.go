package analysis

import (
	"math"

	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

// ScoreConfig holds the tunable constants of the aggregator.
type ScoreConfig struct {
	// MaxPotential caps the optimization-potential range, in percent.
	MaxPotential float64
	// Anchors overrides a rule's potential range by rule id.
	Anchors map[string]model.PercentRange
}

// DefaultScoreConfig returns the research-benchmark defaults.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{MaxPotential: 80}
}

// Aggregator turns an evaluation into an InefficiencyScore.
type Aggregator struct {
	reg *rules.Registry
	cfg ScoreConfig
}

// NewAggregator creates an aggregator reading anchor ranges from reg.
func NewAggregator(reg *rules.Registry, cfg ScoreConfig) *Aggregator {
	if cfg.MaxPotential <= 0 || cfg.MaxPotential > 100 {
		cfg.MaxPotential = DefaultScoreConfig().MaxPotential
	}
	return &Aggregator{reg: reg, cfg: cfg}
}

// Score sums violation weights, normalizes them against the evaluation's
// maximum achievable weight and scales to [0,10]. The potential range is the
// union of the violations' anchor ranges, centred on a midpoint proportional
// to the score.
func (a *Aggregator) Score(ev Evaluation) model.InefficiencyScore {
	out := model.InefficiencyScore{MaxWeight: ev.MaxWeight}
	if len(ev.Violations) == 0 || ev.MaxWeight == 0 {
		return out
	}

	var (
		observed int
		union    model.PercentRange
		hasRange bool
		dominant *model.Violation
		domMid   float64
	)
	for i := range ev.Violations {
		v := &ev.Violations[i]
		observed += v.Severity.Weight()

		anchor := a.anchor(v.RuleID)
		if !anchor.IsZero() {
			if !hasRange {
				union, hasRange = anchor, true
			} else {
				union.Low = math.Min(union.Low, anchor.Low)
				union.High = math.Max(union.High, anchor.High)
			}
		}
		if dominant == nil || outranks(v, anchor.Midpoint(), dominant, domMid) {
			dominant, domMid = v, anchor.Midpoint()
		}
	}

	out.ObservedWeight = observed
	out.Value = round(math.Min(10, 10*float64(observed)/float64(ev.MaxWeight)), 2)
	out.Dominant = dominant.RuleID

	if hasRange {
		mid := union.Midpoint() * out.Value / 10
		half := union.Width() / 2
		low := math.Max(0, mid-half)
		high := math.Min(a.cfg.MaxPotential, mid+half)
		if low > high {
			low = high
		}
		out.Potential = model.PercentRange{Low: round(low, 1), High: round(high, 1)}
	}
	return out
}

func (a *Aggregator) anchor(ruleID string) model.PercentRange {
	if r, ok := a.cfg.Anchors[ruleID]; ok {
		return r
	}
	if rule, ok := a.reg.Rule(ruleID); ok {
		return rule.Potential
	}
	return model.PercentRange{}
}

// outranks orders by severity, then anchor midpoint, then detection order.
func outranks(v *model.Violation, vMid float64, cur *model.Violation, curMid float64) bool {
	if v.Severity.Weight() != cur.Severity.Weight() {
		return v.Severity.Weight() > cur.Severity.Weight()
	}
	if vMid != curMid {
		return vMid > curMid
	}
	return v.Sequence < cur.Sequence
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
