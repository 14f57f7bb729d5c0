package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/leanflow/model"
)

// Output formats.
const (
	FormatJSON      = "json"
	FormatMarkdown  = "markdown"
	FormatNarrative = "narrative"
)

// Formatter renders a finished plan.
type Formatter interface {
	Format(ctx context.Context, plan *model.OptimizationPlan) (string, error)
}

// NewFormatter returns the formatter for the named format. The narrative
// format needs a service.
func NewFormatter(format string, svc Service, schemas *Schemas) (Formatter, error) {
	switch format {
	case FormatJSON, "":
		return JSONFormatter{}, nil
	case FormatMarkdown:
		return MarkdownFormatter{}, nil
	case FormatNarrative:
		if svc == nil {
			return nil, fmt.Errorf("reasoning: the %s format needs a reasoning provider", format)
		}
		return &NarrativeFormatter{svc: svc, schemas: schemas}, nil
	default:
		return nil, fmt.Errorf("reasoning: unknown format %q", format)
	}
}

// JSONFormatter renders the plan as indented JSON.
type JSONFormatter struct{}

// Format implements Formatter.
func (JSONFormatter) Format(_ context.Context, plan *model.OptimizationPlan) (string, error) {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reasoning: encode plan: %w", err)
	}
	return string(data), nil
}

// MarkdownFormatter renders the plan as a human-readable report.
type MarkdownFormatter struct{}

// Format implements Formatter.
func (MarkdownFormatter) Format(_ context.Context, plan *model.OptimizationPlan) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Workflow optimization plan\n\n")
	fmt.Fprintf(&b, "Session `%s`, rules `%s`.\n\n", plan.SessionID, plan.RegistryVersion)

	s := plan.Score
	fmt.Fprintf(&b, "## Inefficiency\n\n")
	fmt.Fprintf(&b, "- Score: **%.1f / 10**\n", s.Value)
	fmt.Fprintf(&b, "- Optimization potential: %s\n", s.Potential)
	if s.Dominant != "" {
		fmt.Fprintf(&b, "- Dominant issue: `%s`\n", s.Dominant)
	}
	b.WriteString("\n")

	if len(plan.Violations) == 0 {
		b.WriteString("No violations were detected.\n")
		return b.String(), nil
	}

	b.WriteString("## Violations\n\n")
	b.WriteString("| Rule | Framework | Severity | Evidence |\n|---|---|---|---|\n")
	for _, v := range plan.Violations {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n", v.RuleID, v.Framework, v.Severity, escapeCell(v.Summary))
	}
	b.WriteString("\n## Recommendations\n\n")

	for i, r := range plan.Recommendations {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, r.Title)
		fmt.Fprintf(&b, "- Severity: %s\n", r.Severity)
		if r.NeedsManualReview {
			b.WriteString("- Needs manual review\n")
		} else {
			fmt.Fprintf(&b, "- Expected improvement: %s\n", r.ExpectedImprovement)
		}
		if r.Timeline != "" {
			fmt.Fprintf(&b, "- Timeline: %s\n", r.Timeline)
		}
		fmt.Fprintf(&b, "- Addresses: %s\n", strings.Join(r.Violations, ", "))
		if len(r.Alignment) > 0 {
			fmt.Fprintf(&b, "- Framework alignment: %s\n", alignment(r.Alignment))
		}
		if r.ROI != nil {
			fmt.Fprintf(&b, "- ROI: %.0f%% to %.0f%% over %d years, payback %.1f to %.1f months\n",
				r.ROI.Low*100, r.ROI.High*100, r.ROI.HorizonYears, r.ROI.PaybackMonthsLow, r.ROI.PaybackMonthsHigh)
		}
		if r.Rationale != "" {
			fmt.Fprintf(&b, "\n%s\n", r.Rationale)
		}
		if len(r.Steps) > 0 {
			b.WriteString("\n")
			for _, step := range r.Steps {
				fmt.Fprintf(&b, "1. %s\n", step)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Return on investment\n\n")
	switch {
	case plan.ROIIncomplete:
		fmt.Fprintf(&b, "Not estimated: %s\n", plan.ROIIssue)
	case plan.AggregateROI != nil:
		a := plan.AggregateROI
		fmt.Fprintf(&b, "Annual benefit %.0f to %.0f against %.0f implementation cost; ROI %.0f%% to %.0f%% over %d years.\n",
			a.AnnualBenefitLow, a.AnnualBenefitHigh, a.ImplementationCost, a.Low*100, a.High*100, a.HorizonYears)
	default:
		b.WriteString("No recommendation carries an improvement estimate.\n")
	}

	if len(plan.Warnings) > 0 {
		b.WriteString("\n## Data warnings\n\n")
		for _, w := range plan.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String(), nil
}

func alignment(m map[model.Framework]string) string {
	keys := make([]string, 0, len(m))
	for fw := range m {
		keys = append(keys, string(fw))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, m[model.Framework(k)])
	}
	return strings.Join(parts, "; ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

const narrateInstruction = `You write executive summaries of workflow optimization plans.
Summarize the plan in at most three short paragraphs of plain text.
Only use figures that appear in the plan. Keep ranges as ranges.
Return only a JSON object matching the Report schema.`

// NarrativeFormatter asks the reasoning service for a prose summary and
// appends the Markdown report.
type NarrativeFormatter struct {
	svc     Service
	schemas *Schemas
}

type report struct {
	Report string `json:"report"`
}

// Format implements Formatter.
func (f *NarrativeFormatter) Format(ctx context.Context, plan *model.OptimizationPlan) (string, error) {
	prompt, err := encodePrompt(plan)
	if err != nil {
		return "", err
	}
	out, err := f.svc.Complete(ctx, Request{
		Task:        TaskNarrate,
		Instruction: narrateInstruction,
		Prompt:      prompt,
		Schema:      SchemaReport,
	})
	if err != nil {
		return "", err
	}

	var r report
	if err := f.schemas.Decode(serviceName, SchemaReport, out, &r); err != nil {
		return "", err
	}
	body, err := MarkdownFormatter{}.Format(ctx, plan)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(r.Report) + "\n\n" + body, nil
}
