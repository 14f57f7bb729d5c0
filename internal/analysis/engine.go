// Package analysis evaluates workflows against the rule registry and turns
// the resulting violations into an inefficiency score.
package analysis

import (
	"fmt"
	"strings"

	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

// Evaluation is the outcome of applying a registry version to one workflow.
type Evaluation struct {
	RegistryVersion string            `json:"registry_version"`
	Domain          string            `json:"domain"`
	Violations      []model.Violation `json:"violations"`
	// MaxWeight is the summed weight of the rules that could be evaluated
	// with the fields the workflow provides.
	MaxWeight int `json:"max_weight"`
}

// Engine applies every framework's rules to a workflow. It is a pure function
// of the registry version and the input.
type Engine struct {
	reg *rules.Registry
}

// NewEngine creates an engine bound to one registry version.
func NewEngine(reg *rules.Registry) *Engine {
	return &Engine{reg: reg}
}

// Registry returns the registry version the engine evaluates against.
func (e *Engine) Registry() *rules.Registry { return e.reg }

// Evaluate applies each rule independently and returns the triggered
// violations in framework then document order. Rules whose fields are absent
// never trigger.
func (e *Engine) Evaluate(w *model.WorkflowDescriptor) (Evaluation, error) {
	if w == nil {
		return Evaluation{}, model.NewInputValidationError([]model.FieldError{{
			Field: "workflow", Code: "REQUIRED", Message: "workflow descriptor is required",
		}})
	}

	ev := Evaluation{RegistryVersion: e.reg.Version(), Domain: w.Domain}
	for _, fw := range model.Frameworks {
		for _, rule := range e.reg.RulesFor(fw) {
			v, evaluable, err := e.apply(rule, w)
			if err != nil {
				return Evaluation{}, err
			}
			if evaluable {
				ev.MaxWeight += rule.Weight()
			}
			if v != nil {
				v.Sequence = len(ev.Violations)
				ev.Violations = append(ev.Violations, *v)
			}
		}
	}
	return ev, nil
}

func (e *Engine) apply(rule rules.Rule, w *model.WorkflowDescriptor) (v *model.Violation, evaluable bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, evaluable = nil, false
			err = model.NewRuleEvaluationError(rule.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	p := rule.PredicateFor(w.Domain)
	if !p.Evaluable(w) {
		return nil, false, nil
	}
	ok, evidence := p.Eval(w)
	if !ok {
		return nil, true, nil
	}

	parts := make([]string, len(evidence))
	for i := range evidence {
		if b, ok := rule.Benchmark(w.Domain, evidence[i].Field); ok {
			evidence[i].Benchmark = &b
		}
		parts[i] = evidence[i].String()
	}
	summary := strings.Join(parts, "; ")
	if w.Domain != "" {
		summary += " [" + w.Domain + "]"
	}

	return &model.Violation{
		RuleID:    rule.ID,
		Framework: rule.Framework,
		Severity:  rule.Severity,
		Summary:   summary,
		Evidence:  evidence,
	}, true, nil
}
