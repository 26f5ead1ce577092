package engine_test

import (
	"errors"
	"testing"

	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *engine.Gate {
	t.Helper()
	tmpl := models.WorkflowTemplate{
		ID: "t",
		Schemas: map[string]string{
			"report": `{
				"type": "object",
				"required": ["summary", "metrics"],
				"properties": {
					"summary": {"type": "string"},
					"metrics": {
						"type": "object",
						"required": ["count"],
						"properties": {"count": {"type": "integer"}}
					}
				}
			}`,
		},
	}
	gate, err := engine.NewGate(tmpl, logger{})
	require.NoError(t, err)
	return gate
}

func TestGate_Validate(t *testing.T) {
	gate := newTestGate(t)

	t.Run("ConformingOutput", func(t *testing.T) {
		raw := []byte(`{"summary": "done", "metrics": {"count": 3}}`)
		a, err := gate.Validate("run-1", "report", "exec-1", raw, "report")
		require.NoError(t, err)
		assert.Equal(t, "exec-1", a.ExecutionID)
		assert.Equal(t, "report", a.SchemaRef)
		assert.JSONEq(t, string(raw), string(a.Content))
		assert.False(t, a.ForceAccepted)
		assert.False(t, a.Partial)
		assert.NotEmpty(t, a.ID)
	})

	t.Run("ViolationsCarryFieldPaths", func(t *testing.T) {
		raw := []byte(`{"metrics": {"count": "three"}}`)
		_, err := gate.Validate("run-1", "report", "exec-1", raw, "report")
		var ve *engine.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "run-1", ve.RunID)
		assert.Equal(t, "report", ve.SchemaRef)
		assert.JSONEq(t, string(raw), string(ve.Raw))
		require.NotEmpty(t, ve.Violations)
		paths := make([]string, 0, len(ve.Violations))
		for _, v := range ve.Violations {
			assert.NotEmpty(t, v.Message)
			paths = append(paths, v.Path)
		}
		assert.Contains(t, paths, "/metrics/count", "nested violation keeps its location")
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := gate.Validate("run-1", "report", "exec-1", []byte(`not json at all`), "report")
		var ve *engine.ValidationError
		require.ErrorAs(t, err, &ve)
		require.Len(t, ve.Violations, 1)
		assert.Equal(t, "/", ve.Violations[0].Path)
	})

	t.Run("UnknownSchemaRef", func(t *testing.T) {
		_, err := gate.Validate("run-1", "report", "exec-1", []byte(`{}`), "missing")
		require.Error(t, err)
		var ve *engine.ValidationError
		assert.False(t, errors.As(err, &ve), "a missing schema is an engine bug, not a validation outcome")
	})

	t.Run("EmptySchemaRefAcceptsAnyJSON", func(t *testing.T) {
		a, err := gate.Validate("run-1", "notes", "exec-1", []byte(`{"free": "form"}`), "")
		require.NoError(t, err)
		assert.Empty(t, a.SchemaRef)
	})
}

func TestGate_ForceAccept(t *testing.T) {
	gate := newTestGate(t)
	raw := []byte(`{"summary": "missing metrics"}`)

	a := gate.ForceAccept("exec-1", raw, "report", "metrics unavailable in this environment")
	assert.True(t, a.ForceAccepted)
	assert.Equal(t, "metrics unavailable in this environment", a.AcceptReason)
	assert.Equal(t, "report", a.SchemaRef)
	assert.JSONEq(t, string(raw), string(a.Content))

	// The same output through the normal path still fails: force-accept is a
	// distinct, flagged code path, not a validation bypass inside Validate.
	_, err := gate.Validate("run-1", "report", "exec-1", raw, "report")
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
}
