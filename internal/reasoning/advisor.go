package reasoning

import (
	"context"

	"github.com/pitabwire/leanflow/model"
)

const adviseInstruction = `You help implement process improvements.
For each recommendation, add at most three concrete implementation steps and a one-sentence rationale tied to the workflow data.
Do not change recommendation ids, severities, improvement ranges or costs.
Return only a JSON object matching the AdviceList schema.`

// Advisor enriches recommendations through a reasoning service.
type Advisor struct {
	svc     Service
	schemas *Schemas
}

// NewAdvisor creates a service-backed advisor.
func NewAdvisor(svc Service, schemas *Schemas) *Advisor {
	return &Advisor{svc: svc, schemas: schemas}
}

type advicePrompt struct {
	Workflow        *model.WorkflowDescriptor `json:"workflow"`
	Recommendations []adviceTarget            `json:"recommendations"`
}

type adviceTarget struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Severity model.Severity `json:"severity"`
	Steps    []string       `json:"steps"`
}

type adviceList struct {
	Advice []model.Advice `json:"advice"`
}

// Advise implements the pipeline's advisor.
func (a *Advisor) Advise(ctx context.Context, w *model.WorkflowDescriptor, recs []model.Recommendation) ([]model.Advice, error) {
	p := advicePrompt{Workflow: w}
	for _, r := range recs {
		p.Recommendations = append(p.Recommendations, adviceTarget{
			ID: r.ID, Title: r.Title, Severity: r.Severity, Steps: r.Steps,
		})
	}
	prompt, err := encodePrompt(p)
	if err != nil {
		return nil, err
	}

	out, err := a.svc.Complete(ctx, Request{
		Task:        TaskAdvise,
		Instruction: adviseInstruction,
		Prompt:      prompt,
		Schema:      SchemaAdvice,
	})
	if err != nil {
		return nil, err
	}

	var list adviceList
	if err := a.schemas.Decode(serviceName, SchemaAdvice, out, &list); err != nil {
		return nil, err
	}
	return list.Advice, nil
}
