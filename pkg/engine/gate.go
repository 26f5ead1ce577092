package engine

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Gate checks raw phase output against the declared output schema. It never
// silently accepts non-conforming output; ForceAccept is the one explicit
// override path and it flags the artifact it produces.
type Gate struct {
	schemas map[string]*jsonschema.Schema
	logger  Logger
}

// NewGate compiles every schema a template declares. Compilation failures are
// template-registration bugs and surface here as errors.
func NewGate(t models.WorkflowTemplate, logger Logger) (*Gate, error) {
	g := &Gate{schemas: make(map[string]*jsonschema.Schema, len(t.Schemas)), logger: logger}
	for ref, doc := range t.Schemas {
		s, err := compileSchema(ref, doc)
		if err != nil {
			return nil, errors.Wrapf(err, "compile schema %q", ref)
		}
		g.schemas[ref] = s
	}
	return g, nil
}

// Validate checks raw output against schemaRef and returns a validated
// artifact. Failure returns a *ValidationError carrying the raw output and
// field-level violations. An empty schemaRef accepts any well-formed JSON.
func (g *Gate) Validate(runID, phaseID, executionID string, raw json.RawMessage, schemaRef string) (*models.Artifact, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{
			RunID:      runID,
			PhaseID:    phaseID,
			SchemaRef:  schemaRef,
			Raw:        raw,
			Violations: []FieldViolation{{Path: "/", Message: "output is not valid JSON: " + err.Error()}},
		}
	}

	if schemaRef != "" {
		schema, ok := g.schemas[schemaRef]
		if !ok {
			return nil, errors.Errorf("unknown schema reference %q", schemaRef)
		}
		if err := schema.Validate(doc); err != nil {
			var ve *jsonschema.ValidationError
			if errors.As(err, &ve) {
				return nil, &ValidationError{
					RunID:      runID,
					PhaseID:    phaseID,
					SchemaRef:  schemaRef,
					Raw:        raw,
					Violations: flattenViolations(ve),
				}
			}
			return nil, errors.Wrapf(err, "validate against %q", schemaRef)
		}
	}

	return &models.Artifact{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		SchemaRef:   schemaRef,
		Content:     raw,
		CreatedAt:   time.Now(),
	}, nil
}

// ForceAccept produces an artifact from non-conforming output. The artifact
// is explicitly flagged so it is never mistaken for a validated one.
func (g *Gate) ForceAccept(executionID string, raw json.RawMessage, schemaRef, reason string) *models.Artifact {
	g.logger.Infof("Force-accepting output for execution %s against schema %q: %s", executionID, schemaRef, reason)
	return &models.Artifact{
		ID:            uuid.NewString(),
		ExecutionID:   executionID,
		SchemaRef:     schemaRef,
		Content:       raw,
		ForceAccepted: true,
		AcceptReason:  reason,
		CreatedAt:     time.Now(),
	}
}

// flattenViolations walks the validator's error tree into flat field-level
// violations, keeping only leaf causes.
func flattenViolations(ve *jsonschema.ValidationError) []FieldViolation {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return []FieldViolation{{Path: path, Message: ve.Message}}
	}
	var out []FieldViolation
	for _, cause := range ve.Causes {
		out = append(out, flattenViolations(cause)...)
	}
	return out
}
