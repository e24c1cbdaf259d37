package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/pkg/schema"
)

// mockBlockLookup implements BlockLookup for tests.
type mockBlockLookup struct {
	registered map[string]bool
}

func (m *mockBlockLookup) Has(name string) bool {
	return m.registered[name]
}

func newMockLookup(names ...string) *mockBlockLookup {
	m := &mockBlockLookup{registered: make(map[string]bool)}
	for _, n := range names {
		m.registered[n] = true
	}
	return m
}

func remoteSet(names ...string) RemoteLookup {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func issueMessages(issues []schema.ValidationIssue) []string {
	msgs := make([]string, len(issues))
	for i, iss := range issues {
		msgs[i] = iss.Message
	}
	return msgs
}

func TestSemantic_ValidWorkflow(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "ok",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Outputs: []schema.OutputSlot{{Name: "stdout"}}},
			{ID: "b", Type: "eval", DependsOn: []string{"a"},
				Params: json.RawMessage(`{"expressions":{"v":"${{blocks.a.outputs.stdout}}"}}`)},
		},
	}

	result := validateSemantic(def, newMockLookup("command", "eval"), nil)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_UnregisteredBlockType(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "bad-type",
		Blocks: []schema.BlockDefinition{{ID: "a", Type: "teleport"}},
	}

	result := validateSemantic(def, newMockLookup("command"), nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "blocks[0].type", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "teleport")
}

func TestSemantic_NilLookupSkipsTypeCheck(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:   "unchecked",
		Blocks: []schema.BlockDefinition{{ID: "a", Type: "anything"}},
	}

	result := validateSemantic(def, nil, nil)
	assert.True(t, result.Valid())
}

func TestSemantic_UnknownTarget(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "bad-target",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Target: "hpc-west"},
		},
	}

	result := validateSemantic(def, nil, remoteSet("hpc-east"))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeRemoteUnavailable, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "hpc-west")
}

func TestSemantic_KnownTarget(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "good-target",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Target: "hpc-east"},
		},
	}

	result := validateSemantic(def, nil, remoteSet("hpc-east"))
	assert.True(t, result.Valid())
}

func TestSemantic_DanglingDependsOn(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "dangling",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", DependsOn: []string{"ghost"}},
		},
	}

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeDanglingReference, result.Errors[0].Code)
	assert.Equal(t, "blocks[0].depends_on[0]", result.Errors[0].Path)
}

func TestSemantic_SelfDependency(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "selfish",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", DependsOn: []string{"a"}},
		},
	}

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "depends on itself")
}

func TestSemantic_RefToMissingBlock(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "bad-ref",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "eval",
				Params: json.RawMessage(`{"expressions":{"v":"${{blocks.ghost.outputs.x}}"}}`)},
		},
	}

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeDanglingReference, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "ghost")
}

func TestSemantic_RefToUndeclaredSlot(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "bad-slot",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Outputs: []schema.OutputSlot{{Name: "stdout"}}},
			{ID: "b", Type: "eval", DependsOn: []string{"a"},
				Params: json.RawMessage(`{"expressions":{"v":"${{blocks.a.outputs.rows}}"}}`)},
		},
	}

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, `no output slot "rows"`)
}

func TestSemantic_RefWithNoDeclaredSlotsUnchecked(t *testing.T) {
	// Blocks that declare no outputs accept any slot reference.
	def := &schema.WorkflowDefinition{
		Name: "undeclared",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command"},
			{ID: "b", Type: "eval", DependsOn: []string{"a"},
				Params: json.RawMessage(`{"expressions":{"v":"${{blocks.a.outputs.anything}}"}}`)},
		},
	}

	result := validateSemantic(def, nil, nil)
	assert.True(t, result.Valid())
}

func TestSemantic_SelfOutputReference(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "self-ref",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "eval", Outputs: []schema.OutputSlot{{Name: "x"}},
				Condition: "${{blocks.a.outputs.x}} > 0"},
		},
	}

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "its own outputs")
}

func TestSemantic_HighRetryCountWarns(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "stubborn",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Retry: &schema.RetryPolicy{Max: 50}},
		},
	}

	result := validateSemantic(def, nil, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "high retry count")
}

func TestSemantic_BlockTimeoutExceedsWorkflowTimeoutWarns(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name:    "over-budget",
		Timeout: "10m",
		Blocks: []schema.BlockDefinition{
			{ID: "a", Type: "command", Timeout: "1h"},
		},
	}

	result := validateSemantic(def, nil, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, issueMessages(result.Warnings)[0], "exceeds workflow timeout")
}
