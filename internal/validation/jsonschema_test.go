package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/pkg/schema"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.workflowSchema)
}

// --- ValidateDefinition ---

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(nil)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
	assert.Contains(t, engErr.Message, "nil")
}

func TestValidateDefinition_MinimalValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name: "minimal",
		Blocks: []schema.BlockDefinition{
			{ID: "blk-1", Type: "command"},
		},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_FullValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name:    "nightly-etl",
		Version: "2.1.0",
		Timeout: "2h",
		Blocks: []schema.BlockDefinition{
			{
				ID:      "extract",
				Type:    "command",
				Params:  json.RawMessage(`{"command": "extract.sh"}`),
				Outputs: []schema.OutputSlot{{Name: "rows", Type: "number"}},
				Retry:   &schema.RetryPolicy{Max: 3, Backoff: "exponential", Delay: "1s"},
				Timeout: "10m",
			},
			{
				ID:        "load",
				Type:      "command",
				Target:    "hpc-cluster",
				DependsOn: []string{"extract"},
				Condition: "blocks.extract.outputs.rows > 0",
				Transform: "{loaded: .stdout}",
				Params:    json.RawMessage(`{"command": "load.sh"}`),
			},
		},
		Inputs:   map[string]any{"date": "2025-06-01"},
		Metadata: map[string]any{"owner": "data-eng"},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_MissingName(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Blocks: []schema.BlockDefinition{{ID: "a", Type: "command"}},
	}
	err = v.ValidateDefinition(def)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestValidateDefinition_EmptyBlocks(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(&schema.WorkflowDefinition{Name: "empty"})
	require.Error(t, err)
}

func TestValidateDefinition_BlockMissingType(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name:   "no-type",
		Blocks: []schema.BlockDefinition{{ID: "a"}},
	}
	require.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadTimeoutPattern(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name:    "bad-timeout",
		Timeout: "two hours",
		Blocks:  []schema.BlockDefinition{{ID: "a", Type: "command"}},
	}
	require.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadBackoffValue(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name: "bad-backoff",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Retry: &schema.RetryPolicy{Max: 2, Backoff: "fibonacci"}},
		},
	}
	require.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadOutputSlotType(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name: "bad-slot",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Outputs: []schema.OutputSlot{{Name: "x", Type: "tensor"}}},
		},
	}
	require.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_DuplicateBlockIDs(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name: "dupes",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command"},
			{ID: "a", Type: "eval"},
		},
	}
	err = v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

// --- ValidateInput ---

func TestValidateInput_NoSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateInput(map[string]any{"x": 1}, nil))
}

func TestValidateInput_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["date"],
		"properties": {"date": {"type": "string"}}
	}`)
	assert.NoError(t, v.ValidateInput(map[string]any{"date": "2025-06-01"}, inputSchema))
}

func TestValidateInput_MissingRequired(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["date"],
		"properties": {"date": {"type": "string"}}
	}`)
	err = v.ValidateInput(map[string]any{"other": 1}, inputSchema)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(map[string]any{"x": 1}, []byte(`{not json`))
	require.Error(t, err)
}

func TestValidateInput_SchemaCacheIsConcurrencySafe(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{"type": "object"}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.ValidateInput(map[string]any{"x": 1}, inputSchema)
		}()
	}
	wg.Wait()

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
