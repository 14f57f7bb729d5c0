// Package roi projects conservative return-on-investment ranges for
// recommendations.
package roi

import (
	"math"

	"github.com/pitabwire/leanflow/internal/synthesis"
	"github.com/pitabwire/leanflow/model"
)

// Config holds deployment-wide estimator constants.
type Config struct {
	// ConservatismFactor discounts projected benefit; it must be in (0,1).
	ConservatismFactor float64
	// HorizonYears is used when the organisation context does not set one.
	HorizonYears int
}

// DefaultConfig returns the default constants.
func DefaultConfig() Config {
	return Config{ConservatismFactor: 0.7, HorizonYears: 3}
}

// Estimator converts improvement ranges into ROI ranges.
type Estimator struct {
	cfg Config
}

// NewEstimator creates an estimator. Out-of-range constants fall back to the
// defaults.
func NewEstimator(cfg Config) *Estimator {
	def := DefaultConfig()
	if cfg.ConservatismFactor <= 0 || cfg.ConservatismFactor >= 1 {
		cfg.ConservatismFactor = def.ConservatismFactor
	}
	if cfg.HorizonYears <= 0 {
		cfg.HorizonYears = def.HorizonYears
	}
	return &Estimator{cfg: cfg}
}

// Estimate projects the ROI of a single recommendation. Both the baseline and
// the implementation cost are required; a missing or non-positive value is a
// MISSING_COST_DATA error, never a silent zero.
func (e *Estimator) Estimate(rec model.Recommendation, org *model.OrgContext) (model.ROIRange, error) {
	baseline, cost, years, err := e.inputs(org)
	if err != nil {
		return model.ROIRange{}, err
	}
	return e.project(rec.ExpectedImprovement, baseline, cost, years), nil
}

// PlanResult is the ROI section of an optimization plan.
type PlanResult struct {
	PerRecommendation map[string]model.ROIRange
	Aggregate         *model.ROIRange
}

// EstimatePlan projects every recommendation that has an improvement range,
// plus an aggregate over the whole plan. The organisation's implementation
// cost is the budget for the whole plan: the aggregate is charged it once and
// each projected recommendation an equal share of it.
func (e *Estimator) EstimatePlan(recs []model.Recommendation, org *model.OrgContext) (PlanResult, error) {
	baseline, cost, years, err := e.inputs(org)
	if err != nil {
		return PlanResult{}, err
	}

	var projected []model.Recommendation
	for _, r := range recs {
		if r.NeedsManualReview || r.ExpectedImprovement.IsZero() {
			continue
		}
		projected = append(projected, r)
	}

	out := PlanResult{PerRecommendation: make(map[string]model.ROIRange)}
	if len(projected) == 0 {
		return out, nil
	}
	share := cost / float64(len(projected))
	ranges := make([]model.PercentRange, 0, len(projected))
	for _, r := range projected {
		out.PerRecommendation[r.ID] = e.project(r.ExpectedImprovement, baseline, share, years)
		ranges = append(ranges, r.ExpectedImprovement)
	}
	agg := e.project(synthesis.CombineImprovements(ranges...), baseline, cost, years)
	out.Aggregate = &agg
	return out, nil
}

func (e *Estimator) inputs(org *model.OrgContext) (baseline, cost float64, years int, err error) {
	if org == nil || org.ImplementationCost == nil || !positive(*org.ImplementationCost) {
		return 0, 0, 0, model.NewMissingCostDataError("implementation_cost")
	}
	if org.BaselineAnnualCost == nil || !positive(*org.BaselineAnnualCost) {
		return 0, 0, 0, model.NewMissingCostDataError("baseline_annual_cost")
	}
	years = org.HorizonYears
	if years <= 0 {
		years = e.cfg.HorizonYears
	}
	return *org.BaselineAnnualCost, *org.ImplementationCost, years, nil
}

// project computes benefit = baseline × improvement × conservatism at each end
// of the improvement range and ROI over the horizon.
func (e *Estimator) project(improvement model.PercentRange, baseline, cost float64, years int) model.ROIRange {
	benefitLow := baseline * improvement.Low / 100 * e.cfg.ConservatismFactor
	benefitHigh := baseline * improvement.High / 100 * e.cfg.ConservatismFactor

	r := model.ROIRange{
		AnnualBenefitLow:   roundCents(benefitLow),
		AnnualBenefitHigh:  roundCents(benefitHigh),
		ImplementationCost: roundCents(cost),
		HorizonYears:       years,
		Low:                roundRatio((benefitLow*float64(years) - cost) / cost),
		High:               roundRatio((benefitHigh*float64(years) - cost) / cost),
		PaybackMonthsLow:   payback(cost, benefitHigh),
		PaybackMonthsHigh:  payback(cost, benefitLow),
	}
	return r
}

// payback returns months to recover cost; -1 when the benefit is zero.
func payback(cost, annualBenefit float64) float64 {
	if annualBenefit <= 0 {
		return -1
	}
	return math.Round(cost/(annualBenefit/12)*10) / 10
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }

func roundRatio(v float64) float64 { return math.Round(v*1000) / 1000 }
