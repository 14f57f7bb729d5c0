package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/pitabwire/leanflow/model"
)

// Quality gates run after a stage produces its output and before the run
// may advance. Each returns nil or a QUALITY_GATE_FAILURE, except the
// normalize gate which reports invalid descriptors as INPUT_VALIDATION_ERROR
// so they fail without retry.

func normalizedGate(w *model.WorkflowDescriptor) error {
	if w == nil {
		return model.NewQualityGateFailure(model.StageNormalize, "no descriptor produced")
	}
	return w.Validate()
}

func analyzedGate(score *model.InefficiencyScore) error {
	if score == nil {
		return model.NewQualityGateFailure(model.StageAnalyze, "no inefficiency score computed")
	}
	if math.IsNaN(score.Value) || score.Value < 0 || score.Value > 10 {
		return model.NewQualityGateFailure(model.StageAnalyze,
			fmt.Sprintf("score %v outside [0, 10]", score.Value))
	}
	return nil
}

func optimizedGate(plan *model.OptimizationPlan) error {
	if plan == nil {
		return model.NewQualityGateFailure(model.StageOptimize, "no plan produced")
	}
	if id, ok := plan.ReferencesAll(); !ok {
		return model.NewQualityGateFailure(model.StageOptimize,
			fmt.Sprintf("violation %q is not addressed by any recommendation", id))
	}
	for _, r := range plan.Recommendations {
		if len(r.Violations) == 0 {
			return model.NewQualityGateFailure(model.StageOptimize,
				fmt.Sprintf("recommendation %q has no contributing violations", r.ID))
		}
	}
	return nil
}

func formattedGate(report string) error {
	if strings.TrimSpace(report) == "" {
		return model.NewQualityGateFailure(model.StageFormat, "formatted output is empty")
	}
	return nil
}
