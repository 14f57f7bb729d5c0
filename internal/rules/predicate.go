package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/leanflow/model"
)

// Predicate is a compiled rule condition: a disjunction of conjunctions of
// comparisons over descriptor fields.
//
// Grammar:
//
//	expr    := and ("OR" and)*
//	and     := cmp ("AND" cmp)*
//	cmp     := operand op operand
//	op      := ">" | ">=" | "<" | "<=" | "==" | "!="
//	operand := number | field | number "*" field | field "*" number | true | false
//
// At least one side of a comparison must reference a field. A comparison
// whose field is absent from the descriptor is false.
type Predicate struct {
	source string
	anyOf  [][]comparison
}

type operand struct {
	field  string
	factor float64
	value  float64
}

func (o operand) isField() bool { return o.field != "" }

func (o operand) resolve(w *model.WorkflowDescriptor) (float64, bool) {
	if !o.isField() {
		return o.value, true
	}
	v, ok := w.Field(o.field)
	if !ok {
		return 0, false
	}
	return v * o.factor, true
}

type comparison struct {
	left  operand
	op    string
	right operand
}

// String returns the source text the predicate was compiled from.
func (p *Predicate) String() string { return p.source }

// Fields returns the sorted, de-duplicated descriptor fields the predicate
// references.
func (p *Predicate) Fields() []string {
	seen := map[string]struct{}{}
	for _, group := range p.anyOf {
		for _, c := range group {
			if c.left.isField() {
				seen[c.left.field] = struct{}{}
			}
			if c.right.isField() {
				seen[c.right.field] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Evaluable reports whether at least one comparison has every field it
// references present in w.
func (p *Predicate) Evaluable(w *model.WorkflowDescriptor) bool {
	for _, group := range p.anyOf {
		for _, c := range group {
			if present(c.left, w) && present(c.right, w) {
				return true
			}
		}
	}
	return false
}

func present(o operand, w *model.WorkflowDescriptor) bool {
	if !o.isField() {
		return true
	}
	_, ok := w.Field(o.field)
	return ok
}

// Eval applies the predicate to w. When it holds, the evidence of the first
// satisfied conjunction is returned.
func (p *Predicate) Eval(w *model.WorkflowDescriptor) (bool, []model.Evidence) {
	for _, group := range p.anyOf {
		evidence := make([]model.Evidence, 0, len(group))
		held := true
		for _, c := range group {
			ev, ok := c.eval(w)
			if !ok {
				held = false
				break
			}
			evidence = append(evidence, ev)
		}
		if held {
			return true, evidence
		}
	}
	return false, nil
}

func (c comparison) eval(w *model.WorkflowDescriptor) (model.Evidence, bool) {
	l, ok := c.left.resolve(w)
	if !ok {
		return model.Evidence{}, false
	}
	r, ok := c.right.resolve(w)
	if !ok {
		return model.Evidence{}, false
	}
	if !compare(l, c.op, r) {
		return model.Evidence{}, false
	}
	return model.Evidence{Field: c.left.field, Observed: l, Operator: c.op, Threshold: r}, true
}

func compare(l float64, op string, r float64) bool {
	switch op {
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case "==":
		return l == r
	case "!=":
		return l != r
	}
	return false
}

// CompilePredicate parses src into a Predicate. Field names are checked
// against the descriptor's addressable fields.
func CompilePredicate(src string) (*Predicate, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty predicate")
	}

	p := &Predicate{source: strings.TrimSpace(src)}
	for _, orPart := range splitKeyword(toks, "OR") {
		var group []comparison
		for _, andPart := range splitKeyword(orPart, "AND") {
			c, err := parseComparison(andPart)
			if err != nil {
				return nil, fmt.Errorf("predicate %q: %w", p.source, err)
			}
			group = append(group, c)
		}
		p.anyOf = append(p.anyOf, group)
	}
	return p, nil
}

func splitKeyword(toks []string, kw string) [][]string {
	var parts [][]string
	var cur []string
	for _, t := range toks {
		if strings.EqualFold(t, kw) {
			parts = append(parts, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return append(parts, cur)
}

func parseComparison(toks []string) (comparison, error) {
	opIdx := -1
	for i, t := range toks {
		if isOperator(t) {
			if opIdx >= 0 {
				return comparison{}, fmt.Errorf("more than one comparison operator in %q", strings.Join(toks, " "))
			}
			opIdx = i
		}
	}
	if opIdx < 0 {
		return comparison{}, fmt.Errorf("missing comparison operator in %q", strings.Join(toks, " "))
	}

	left, err := parseOperand(toks[:opIdx])
	if err != nil {
		return comparison{}, err
	}
	right, err := parseOperand(toks[opIdx+1:])
	if err != nil {
		return comparison{}, err
	}
	op := toks[opIdx]

	switch {
	case !left.isField() && !right.isField():
		return comparison{}, fmt.Errorf("comparison %q references no field", strings.Join(toks, " "))
	case !left.isField():
		// Keep the field on the left so evidence reads naturally.
		left, right = right, left
		op = flip(op)
	}
	return comparison{left: left, op: op, right: right}, nil
}

func parseOperand(toks []string) (operand, error) {
	switch len(toks) {
	case 1:
		return parseAtom(toks[0])
	case 3:
		if toks[1] != "*" {
			break
		}
		a, err := parseAtom(toks[0])
		if err != nil {
			return operand{}, err
		}
		b, err := parseAtom(toks[2])
		if err != nil {
			return operand{}, err
		}
		switch {
		case a.isField() && !b.isField():
			return operand{field: a.field, factor: b.value}, nil
		case !a.isField() && b.isField():
			return operand{field: b.field, factor: a.value}, nil
		}
		return operand{}, fmt.Errorf("product %q must multiply one field by one number", strings.Join(toks, " "))
	}
	return operand{}, fmt.Errorf("invalid operand %q", strings.Join(toks, " "))
}

func parseAtom(tok string) (operand, error) {
	switch strings.ToLower(tok) {
	case "true":
		return operand{value: 1}, nil
	case "false":
		return operand{value: 0}, nil
	}
	if v, err := strconv.ParseFloat(tok, 64); err == nil {
		return operand{value: v}, nil
	}
	if !model.IsDescriptorField(tok) {
		return operand{}, fmt.Errorf("unknown field %q", tok)
	}
	return operand{field: tok, factor: 1}, nil
}

func isOperator(t string) bool {
	switch t {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

func flip(op string) string {
	switch op {
	case ">":
		return "<"
	case ">=":
		return "<="
	case "<":
		return ">"
	case "<=":
		return ">="
	}
	return op
}

func tokenize(src string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '*':
			toks = append(toks, "*")
			i++
		case c == '>' || c == '<' || c == '=' || c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, src[i:i+2])
				i += 2
				continue
			}
			if c == '=' || c == '!' {
				return nil, fmt.Errorf("invalid operator at offset %d in %q", i, src)
			}
			toks = append(toks, string(c))
			i++
		case isWordByte(c) || c == '-' || c == '.':
			j := i + 1
			for j < len(src) && (isWordByte(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d in %q", c, i, src)
		}
	}
	return toks, nil
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
