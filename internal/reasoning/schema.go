package reasoning

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/leanflow/model"
)

// Schema names declared in the contract document.
const (
	SchemaWorkflow = "WorkflowDescriptor"
	SchemaAdvice   = "AdviceList"
	SchemaReport   = "Report"
)

//go:embed schema/reasoning.yaml
var embeddedSchema []byte

// Schemas validates reasoning-service responses against the component
// schemas of an OpenAPI document.
type Schemas struct {
	byName map[string]*openapi3.Schema
}

// LoadSchemas loads the contract document at path, or the embedded one when
// path is empty. Every schema the adapters use must be declared.
func LoadSchemas(path string) (*Schemas, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	var (
		doc *openapi3.T
		err error
	)
	if path == "" {
		doc, err = loader.LoadFromData(embeddedSchema)
	} else {
		doc, err = loader.LoadFromFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reasoning: loading schema document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("reasoning: validating schema document: %w", err)
	}
	if doc.Components == nil {
		return nil, fmt.Errorf("reasoning: schema document declares no components")
	}

	s := &Schemas{byName: make(map[string]*openapi3.Schema)}
	for _, name := range []string{SchemaWorkflow, SchemaAdvice, SchemaReport} {
		ref, ok := doc.Components.Schemas[name]
		if !ok || ref == nil || ref.Value == nil {
			return nil, fmt.Errorf("reasoning: schema %q is not declared", name)
		}
		s.byName[name] = ref.Value
	}
	return s, nil
}

// Decode validates data against the named schema and unmarshals it into
// out. Any mismatch is an UPSTREAM_SCHEMA_ERROR attributed to service.
func (s *Schemas) Decode(service, name string, data []byte, out any) error {
	schema, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("reasoning: unknown schema %q", name)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.NewUpstreamSchemaError(service, fmt.Errorf("response is not JSON: %w", err))
	}
	if err := schema.VisitJSON(doc, openapi3.MultiErrors()); err != nil {
		return model.NewUpstreamSchemaError(service, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewUpstreamSchemaError(service, err)
	}
	return nil
}
