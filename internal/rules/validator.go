package rules

import (
	"fmt"

	"github.com/pitabwire/leanflow/model"
)

// VError describes a single problem in a rule document.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks rule documents structurally and compiles every predicate.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns every problem found across sources.
func (v *Validator) Validate(sources []Source) []VError {
	var errs []VError
	ruleIDs := make(map[string]string)
	frameworks := make(map[model.Framework]string)
	causes := make(map[string]bool)
	synergyCauses := make(map[string]string)
	ruleDocs := 0

	for _, src := range sources {
		switch {
		case src.Rules != nil:
			ruleDocs++
			errs = append(errs, v.validateDocument(src, ruleIDs, frameworks, causes)...)
		case src.Synergy != nil:
			for i, s := range src.Synergy.Synergies {
				prefix := fmt.Sprintf("%s:synergies[%d]", src.Path, i)
				if s.Cause == "" {
					errs = append(errs, VError{Path: prefix + ".cause", Code: "REQUIRED", Message: "cause is required"})
					continue
				}
				if prev, dup := synergyCauses[s.Cause]; dup {
					errs = append(errs, VError{Path: prefix + ".cause", Code: "DUPLICATE", Message: fmt.Sprintf("cause %q already defined in %s", s.Cause, prev)})
				}
				synergyCauses[s.Cause] = src.Path
				if s.Title == "" {
					errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
				}
			}
		}
	}

	if ruleDocs == 0 {
		errs = append(errs, VError{Path: "registry", Code: "EMPTY", Message: "no rule documents found"})
	}
	for cause, path := range synergyCauses {
		if !causes[cause] {
			errs = append(errs, VError{Path: path, Code: "UNKNOWN_CAUSE", Message: fmt.Sprintf("synergy cause %q is not used by any rule", cause)})
		}
	}
	return errs
}

func (v *Validator) validateDocument(src Source, ruleIDs map[string]string, frameworks map[model.Framework]string, causes map[string]bool) []VError {
	var errs []VError
	doc := src.Rules

	if !doc.Framework.Valid() {
		errs = append(errs, VError{Path: src.Path + ":framework", Code: "INVALID_FRAMEWORK", Message: fmt.Sprintf("unknown framework %q", doc.Framework)})
	} else if prev, dup := frameworks[doc.Framework]; dup {
		errs = append(errs, VError{Path: src.Path + ":framework", Code: "DUPLICATE", Message: fmt.Sprintf("framework %s already defined in %s", doc.Framework, prev)})
	} else {
		frameworks[doc.Framework] = src.Path
	}
	if doc.Version == "" {
		errs = append(errs, VError{Path: src.Path + ":version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(doc.Rules) == 0 {
		errs = append(errs, VError{Path: src.Path + ":rules", Code: "REQUIRED", Message: "at least one rule is required"})
	}

	for i, r := range doc.Rules {
		prefix := fmt.Sprintf("%s:rules[%d]", src.Path, i)
		if r.ID == "" {
			errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
		} else if prev, dup := ruleIDs[r.ID]; dup {
			errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("rule %q already defined in %s", r.ID, prev)})
		} else {
			ruleIDs[r.ID] = src.Path
		}

		if r.Predicate == "" {
			errs = append(errs, VError{Path: prefix + ".predicate", Code: "REQUIRED", Message: "predicate is required"})
		} else if _, err := CompilePredicate(r.Predicate); err != nil {
			errs = append(errs, VError{Path: prefix + ".predicate", Code: "INVALID_PREDICATE", Message: err.Error()})
		}
		for domain, p := range r.Variants {
			if _, err := CompilePredicate(p); err != nil {
				errs = append(errs, VError{Path: prefix + ".variants." + domain, Code: "INVALID_PREDICATE", Message: err.Error()})
			}
		}

		if !r.Severity.Valid() {
			errs = append(errs, VError{Path: prefix + ".severity", Code: "OUT_OF_RANGE", Message: fmt.Sprintf("severity %q must be low, medium or high", r.Severity)})
		}
		if !validRange(r.Potential, 0, 100, true) {
			errs = append(errs, VError{Path: prefix + ".potential", Code: "OUT_OF_RANGE", Message: "potential must satisfy 0 <= low <= high <= 100"})
		}
		for domain, fields := range r.Benchmarks {
			for f := range fields {
				if !model.IsDescriptorField(f) {
					errs = append(errs, VError{Path: prefix + ".benchmarks." + domain + "." + f, Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("unknown field %q", f)})
				}
			}
		}
		if r.Cause != "" {
			causes[r.Cause] = true
		}
		if r.Solution != nil {
			errs = append(errs, v.validateSolution(prefix+".solution", r.Solution)...)
		}
	}
	return errs
}

func (v *Validator) validateSolution(prefix string, s *model.SolutionTemplate) []VError {
	var errs []VError
	if s.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if !s.Kind.Valid() {
		errs = append(errs, VError{Path: prefix + ".kind", Code: "INVALID_KIND", Message: fmt.Sprintf("unknown solution kind %q", s.Kind)})
	}
	if len(s.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}
	if !validRange(s.Improvement, 0, 100, false) {
		errs = append(errs, VError{Path: prefix + ".improvement", Code: "OUT_OF_RANGE", Message: "improvement must satisfy 0 < low <= high < 100"})
	}
	return errs
}

// validRange checks min <= low <= high <= max, or the open-interval form when
// inclusive is false.
func validRange(r model.PercentRange, min, max float64, inclusive bool) bool {
	if r.Low > r.High {
		return false
	}
	if inclusive {
		return r.Low >= min && r.High <= max
	}
	return r.Low > min && r.High < max
}

func toFieldErrors(errs []VError) []model.FieldError {
	out := make([]model.FieldError, len(errs))
	for i, e := range errs {
		out[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return out
}
