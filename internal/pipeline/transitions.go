package pipeline

import "github.com/pitabwire/leanflow/model"

// transitions is the complete set of legal status changes. Terminal
// statuses have no entry.
var transitions = map[model.RunStatus][]model.RunStatus{
	model.RunReceived:    {model.RunNormalizing, model.RunFailed},
	model.RunNormalizing: {model.RunNormalized, model.RunRetrying, model.RunFailed},
	model.RunNormalized:  {model.RunAnalyzing, model.RunFailed},
	model.RunAnalyzing:   {model.RunAnalyzed, model.RunRetrying, model.RunFailed},
	model.RunAnalyzed:    {model.RunOptimizing, model.RunFailed},
	model.RunOptimizing:  {model.RunOptimized, model.RunRetrying, model.RunFailed},
	model.RunOptimized:   {model.RunFormatting, model.RunFailed},
	model.RunFormatting:  {model.RunCompleted, model.RunRetrying, model.RunFailed},
	model.RunRetrying: {
		model.RunNormalizing, model.RunAnalyzing, model.RunOptimizing,
		model.RunFormatting, model.RunFailed,
	},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to model.RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stageStatuses returns the in-progress and done statuses of a stage.
func stageStatuses(stage model.StageKind) (running, done model.RunStatus) {
	switch stage {
	case model.StageNormalize:
		return model.RunNormalizing, model.RunNormalized
	case model.StageAnalyze:
		return model.RunAnalyzing, model.RunAnalyzed
	case model.StageOptimize:
		return model.RunOptimizing, model.RunOptimized
	case model.StageFormat:
		return model.RunFormatting, model.RunCompleted
	}
	panic("pipeline: unknown stage " + string(stage))
}
