package rules

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pitabwire/leanflow/model"
)

// Rule is a compiled framework rule. Rules are values owned by the registry
// and must not be modified by callers.
type Rule struct {
	ID        string
	Framework model.Framework
	Severity  model.Severity
	Cause     string
	Basis     string
	Potential model.PercentRange
	Solution  *model.SolutionTemplate
	Position  int

	predicate  *Predicate
	variants   map[string]*Predicate
	benchmarks map[string]map[string]float64
}

// Weight returns the severity weight of the rule.
func (r Rule) Weight() int { return r.Severity.Weight() }

// PredicateFor returns the predicate variant for domain, falling back to the
// default predicate.
func (r Rule) PredicateFor(domain string) *Predicate {
	if p, ok := r.variants[domain]; ok {
		return p
	}
	return r.predicate
}

// Benchmark returns the published benchmark for field in domain.
func (r Rule) Benchmark(domain, field string) (float64, bool) {
	if b, ok := r.benchmarks[domain]; ok {
		if v, ok := b[field]; ok {
			return v, true
		}
	}
	return 0, false
}

// Fields returns every field referenced by the rule under domain.
func (r Rule) Fields(domain string) []string {
	return r.PredicateFor(domain).Fields()
}

// Synergy is the combined solution for a cause shared across frameworks.
type Synergy struct {
	Cause    string
	Title    string
	Steps    []string
	Timeline string
}

// Registry is an immutable, versioned collection of compiled rules. It is
// safe for concurrent use because nothing mutates it after Build returns.
type Registry struct {
	version     string
	checksum    string
	loadedAt    time.Time
	byFramework map[model.Framework][]Rule
	byID        map[string]Rule
	synergies   map[string]Synergy
	totalWeight int
}

// Build validates and compiles sources into a Registry. Any problem in any
// document rejects the whole set with a REGISTRY_LOAD_ERROR.
func Build(sources []Source) (*Registry, error) {
	v := NewValidator()
	if errs := v.Validate(sources); len(errs) > 0 {
		return nil, model.NewRegistryLoadError(toFieldErrors(errs))
	}

	reg := &Registry{
		loadedAt:    time.Now().UTC(),
		byFramework: make(map[model.Framework][]Rule),
		byID:        make(map[string]Rule),
		synergies:   make(map[string]Synergy),
	}

	var checksums, versions []string
	for _, src := range sources {
		checksums = append(checksums, src.Checksum)
		switch {
		case src.Rules != nil:
			doc := src.Rules
			versions = append(versions, fmt.Sprintf("%s@%s", doc.Framework, doc.Version))
			for _, spec := range doc.Rules {
				rule, err := compileRule(doc.Framework, spec)
				if err != nil {
					// Validate compiles every predicate, so this is unreachable
					// unless the two diverge.
					return nil, model.NewRegistryLoadError([]model.FieldError{{
						Field: src.Path + ":" + spec.ID, Code: "INVALID_PREDICATE", Message: err.Error(),
					}})
				}
				rule.Position = len(reg.byFramework[doc.Framework])
				reg.byFramework[doc.Framework] = append(reg.byFramework[doc.Framework], rule)
				reg.byID[rule.ID] = rule
				reg.totalWeight += rule.Weight()
			}
		case src.Synergy != nil:
			versions = append(versions, "synergies@"+src.Synergy.Version)
			for _, s := range src.Synergy.Synergies {
				reg.synergies[s.Cause] = Synergy{Cause: s.Cause, Title: s.Title, Steps: s.Steps, Timeline: s.Timeline}
			}
		}
	}

	sort.Strings(checksums)
	sort.Strings(versions)
	reg.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksums, ":"))))
	reg.version = strings.Join(versions, "+") + "#" + reg.checksum[:12]
	return reg, nil
}

func compileRule(fw model.Framework, spec RuleSpec) (Rule, error) {
	p, err := CompilePredicate(spec.Predicate)
	if err != nil {
		return Rule{}, err
	}
	rule := Rule{
		ID:         spec.ID,
		Framework:  fw,
		Severity:   spec.Severity,
		Cause:      spec.Cause,
		Basis:      spec.Basis,
		Potential:  spec.Potential,
		Solution:   spec.Solution,
		predicate:  p,
		variants:   make(map[string]*Predicate, len(spec.Variants)),
		benchmarks: spec.Benchmarks,
	}
	for domain, src := range spec.Variants {
		vp, err := CompilePredicate(src)
		if err != nil {
			return Rule{}, fmt.Errorf("variant %s: %w", domain, err)
		}
		rule.variants[domain] = vp
	}
	return rule, nil
}

// Version identifies the document set the registry was built from.
func (r *Registry) Version() string { return r.version }

// Checksum returns the combined SHA-256 of all source documents.
func (r *Registry) Checksum() string { return r.checksum }

// LoadedAt returns when the registry was built.
func (r *Registry) LoadedAt() time.Time { return r.loadedAt }

// RulesFor returns the rules of framework in document order.
func (r *Registry) RulesFor(fw model.Framework) []Rule {
	return append([]Rule(nil), r.byFramework[fw]...)
}

// Rule looks up a rule by id.
func (r *Registry) Rule(id string) (Rule, bool) {
	rule, ok := r.byID[id]
	return rule, ok
}

// All returns every rule, frameworks in evaluation order.
func (r *Registry) All() []Rule {
	out := make([]Rule, 0, len(r.byID))
	for _, fw := range model.Frameworks {
		out = append(out, r.byFramework[fw]...)
	}
	return out
}

// Synergy returns the combined solution registered for cause.
func (r *Registry) Synergy(cause string) (Synergy, bool) {
	s, ok := r.synergies[cause]
	return s, ok
}

// Len returns the number of rules.
func (r *Registry) Len() int { return len(r.byID) }

// TotalWeight returns the sum of all rule weights.
func (r *Registry) TotalWeight() int { return r.totalWeight }

// Holder publishes the current registry. Swapping in a new version never
// affects callers still holding the previous one.
type Holder struct {
	cur atomic.Pointer[Registry]
}

// NewHolder creates a Holder publishing reg.
func NewHolder(reg *Registry) *Holder {
	h := &Holder{}
	h.cur.Store(reg)
	return h
}

// Current returns the registry currently published.
func (h *Holder) Current() *Registry { return h.cur.Load() }

// Replace publishes reg.
func (h *Holder) Replace(reg *Registry) { h.cur.Store(reg) }

// Load builds a registry from dir, or from the built-in catalogue when dir is
// empty.
func Load(dir string) (*Registry, error) {
	l := NewLoader()
	var (
		sources []Source
		err     error
	)
	if dir == "" {
		sources, err = l.LoadEmbedded()
	} else {
		sources, err = l.LoadDir(dir)
	}
	if err != nil {
		return nil, model.NewRegistryLoadError([]model.FieldError{{
			Field: dir, Code: "UNREADABLE", Message: err.Error(),
		}})
	}
	return Build(sources)
}
