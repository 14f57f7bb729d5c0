// Package synthesis maps violations to recommendations, merging solutions
// that address the same cause across frameworks.
package synthesis

import (
	"sort"
	"strings"

	"github.com/pitabwire/leanflow/internal/analysis"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

// Synthesizer builds recommendations from violations.
type Synthesizer struct {
	reg *rules.Registry
}

// New creates a synthesizer reading templates from reg.
func New(reg *rules.Registry) *Synthesizer {
	return &Synthesizer{reg: reg}
}

type member struct {
	violation model.Violation
	rule      rules.Rule
}

// Synthesize returns one recommendation per group of violations. Violations
// sharing a cause across two or more frameworks merge into a single
// recommendation; the rest stand alone. Every violation is referenced by
// exactly one recommendation.
func (s *Synthesizer) Synthesize(ev analysis.Evaluation) []model.Recommendation {
	var (
		recs     []model.Recommendation
		groups   = make(map[string][]member)
		causeSeq []string
	)

	for _, v := range ev.Violations {
		rule, ok := s.reg.Rule(v.RuleID)
		if !ok || rule.Solution == nil {
			recs = append(recs, manualReview(v, rule))
			continue
		}
		if rule.Cause == "" {
			recs = append(recs, standalone(member{v, rule}))
			continue
		}
		if _, seen := groups[rule.Cause]; !seen {
			causeSeq = append(causeSeq, rule.Cause)
		}
		groups[rule.Cause] = append(groups[rule.Cause], member{v, rule})
	}

	for _, cause := range causeSeq {
		members := groups[cause]
		if spansFrameworks(members) < 2 {
			for _, m := range members {
				recs = append(recs, standalone(m))
			}
			continue
		}
		recs = append(recs, s.merge(cause, members))
	}

	sortRecommendations(recs)
	return recs
}

func spansFrameworks(members []member) int {
	seen := map[model.Framework]bool{}
	for _, m := range members {
		seen[m.rule.Framework] = true
	}
	return len(seen)
}

func standalone(m member) model.Recommendation {
	sol := m.rule.Solution
	timeline := sol.Timeline
	if timeline == "" {
		timeline = DefaultTimeline(sol.Kind)
	}
	return model.Recommendation{
		ID:                   "rec-" + m.rule.ID,
		Title:                sol.Title,
		Kind:                 sol.Kind,
		Cause:                m.rule.Cause,
		Steps:                append([]string(nil), sol.Steps...),
		Violations:           []string{m.violation.RuleID},
		Alignment:            map[model.Framework]string{m.rule.Framework: m.rule.Basis},
		Severity:             m.violation.Severity,
		ExpectedImprovement:  sol.Improvement,
		Timeline:             timeline,
		EarliestViolationSeq: m.violation.Sequence,
	}
}

func manualReview(v model.Violation, rule rules.Rule) model.Recommendation {
	alignment := map[model.Framework]string{v.Framework: rule.Basis}
	return model.Recommendation{
		ID:                   "rec-" + v.RuleID,
		Title:                "Manual review required: " + v.RuleID,
		Cause:                rule.Cause,
		Steps:                []string{"Investigate: " + v.Summary},
		Violations:           []string{v.RuleID},
		Alignment:            alignment,
		Severity:             v.Severity,
		Timeline:             "to be determined",
		NeedsManualReview:    true,
		EarliestViolationSeq: v.Sequence,
	}
}

// merge combines the best solution per framework. The combined improvement
// uses the complementary product 1 - Π(1 - mᵢ), which lies strictly between
// the largest single improvement and the plain sum.
func (s *Synthesizer) merge(cause string, members []member) model.Recommendation {
	best := map[model.Framework]member{}
	var ids []string
	severity := model.SeverityLow
	earliest := members[0].violation.Sequence
	alignment := map[model.Framework]string{}

	for _, m := range members {
		ids = append(ids, m.violation.RuleID)
		if m.violation.Severity.Weight() > severity.Weight() {
			severity = m.violation.Severity
		}
		if m.violation.Sequence < earliest {
			earliest = m.violation.Sequence
		}
		cur, ok := best[m.rule.Framework]
		if !ok || m.rule.Solution.Improvement.Midpoint() > cur.rule.Solution.Improvement.Midpoint() {
			best[m.rule.Framework] = m
		}
		if _, ok := alignment[m.rule.Framework]; !ok {
			alignment[m.rule.Framework] = m.rule.Basis
		}
	}

	var chosen []member
	for _, fw := range model.Frameworks {
		if m, ok := best[fw]; ok {
			chosen = append(chosen, m)
		}
	}

	ranges := make([]model.PercentRange, len(chosen))
	for i, m := range chosen {
		ranges[i] = m.rule.Solution.Improvement
	}

	rec := model.Recommendation{
		ID:                   "rec-" + cause,
		Cause:                cause,
		Violations:           ids,
		Alignment:            alignment,
		Severity:             severity,
		ExpectedImprovement:  CombineImprovements(ranges...),
		Merged:               true,
		EarliestViolationSeq: earliest,
	}

	if syn, ok := s.reg.Synergy(cause); ok {
		rec.Title = syn.Title
		rec.Steps = append([]string(nil), syn.Steps...)
		rec.Timeline = syn.Timeline
	} else {
		titles := make([]string, len(chosen))
		for i, m := range chosen {
			titles[i] = m.rule.Solution.Title
			rec.Steps = append(rec.Steps, m.rule.Solution.Steps...)
		}
		rec.Title = strings.Join(titles, " + ")
	}
	if rec.Timeline == "" {
		rec.Timeline = longestTimeline(chosen)
	}
	rec.Kind = chosen[0].rule.Solution.Kind
	return rec
}

func longestTimeline(chosen []member) string {
	var out string
	for _, m := range chosen {
		t := m.rule.Solution.Timeline
		if t == "" {
			t = DefaultTimeline(m.rule.Solution.Kind)
		}
		if len(t) > len(out) {
			out = t
		}
	}
	return out
}

// CombineImprovements merges improvement ranges non-additively, end by end.
// With two or more positive ends the result stays strictly above the largest
// and strictly below the sum, even where rounding to a tenth would not.
func CombineImprovements(ranges ...model.PercentRange) model.PercentRange {
	lows := make([]float64, len(ranges))
	highs := make([]float64, len(ranges))
	for i, r := range ranges {
		lows[i], highs[i] = r.Low, r.High
	}
	return model.PercentRange{Low: combineEnd(lows), High: combineEnd(highs)}
}

func combineEnd(ends []float64) float64 {
	keep, largest, sum := 1.0, 0.0, 0.0
	positive := 0
	for _, e := range ends {
		keep *= 1 - e/100
		sum += e
		largest = max(largest, e)
		if e > 0 {
			positive++
		}
	}
	exact := 100 * (1 - keep)
	rounded := roundTenth(exact)
	if positive >= 2 && (rounded <= largest || rounded >= sum) {
		return exact
	}
	return rounded
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// DefaultTimeline estimates delivery time for a solution kind when a template
// does not state one.
func DefaultTimeline(kind model.SolutionKind) string {
	switch kind {
	case model.SolutionSimplify:
		return "4-6 weeks"
	case model.SolutionAutomate:
		return "6-10 weeks"
	case model.SolutionDelegate:
		return "4-8 weeks"
	case model.SolutionErrorProof:
		return "4-6 weeks"
	case model.SolutionRebalance:
		return "3-6 weeks"
	case model.SolutionCollaborate:
		return "2-4 weeks"
	case model.SolutionMeasure:
		return "1 quarter"
	case model.SolutionTrain:
		return "8-12 weeks"
	}
	return "to be determined"
}

// sortRecommendations orders by severity, then improvement midpoint, then
// earliest contributing violation.
func sortRecommendations(recs []model.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Severity.Weight() != b.Severity.Weight() {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		if am, bm := a.ExpectedImprovement.Midpoint(), b.ExpectedImprovement.Midpoint(); am != bm {
			return am > bm
		}
		return a.EarliestViolationSeq < b.EarliestViolationSeq
	})
}
