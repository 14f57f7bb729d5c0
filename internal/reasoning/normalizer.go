package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pitabwire/leanflow/model"
)

const normalizeInstruction = `You convert descriptions of organizational processes into a workflow descriptor.
Return only a JSON object matching the WorkflowDescriptor schema.
Use "domestic" or "international" for domain when the text allows it.
Rates are fractions between 0 and 1. Durations are in days.
Omit any field the text does not state; never guess a number.`

// Normalizer structures free text through a reasoning service.
type Normalizer struct {
	svc     Service
	schemas *Schemas
}

// NewNormalizer creates a service-backed normalizer.
func NewNormalizer(svc Service, schemas *Schemas) *Normalizer {
	return &Normalizer{svc: svc, schemas: schemas}
}

// Normalize implements the pipeline's normalizer.
func (n *Normalizer) Normalize(ctx context.Context, raw string) (*model.WorkflowDescriptor, error) {
	out, err := n.svc.Complete(ctx, Request{
		Task:        TaskNormalize,
		Instruction: normalizeInstruction,
		Prompt:      raw,
		Schema:      SchemaWorkflow,
	})
	if err != nil {
		return nil, err
	}

	var w model.WorkflowDescriptor
	if err := n.schemas.Decode(serviceName, SchemaWorkflow, out, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Passthrough accepts raw descriptions that are already descriptor JSON.
// It is the normalizer used when no reasoning service is configured.
type Passthrough struct {
	schemas *Schemas
}

// NewPassthrough creates a passthrough normalizer.
func NewPassthrough(schemas *Schemas) *Passthrough {
	return &Passthrough{schemas: schemas}
}

// Normalize decodes raw as a descriptor. Text that is not a valid
// descriptor is an input error, never retried.
func (p *Passthrough) Normalize(_ context.Context, raw string) (*model.WorkflowDescriptor, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, model.NewInputValidationError([]model.FieldError{{
			Field:   "raw_description",
			Code:    "UNSUPPORTED",
			Message: "free text requires a reasoning provider; submit descriptor JSON",
		}})
	}

	var w model.WorkflowDescriptor
	if err := p.schemas.Decode("passthrough", SchemaWorkflow, []byte(raw), &w); err != nil {
		return nil, model.NewInputValidationError([]model.FieldError{{
			Field:   "raw_description",
			Code:    "INVALID",
			Message: fmt.Sprintf("not a workflow descriptor: %v", err),
		}})
	}
	return &w, nil
}

// encodePrompt renders v as indented JSON for inclusion in a prompt.
func encodePrompt(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reasoning: encode prompt: %w", err)
	}
	return string(data), nil
}
