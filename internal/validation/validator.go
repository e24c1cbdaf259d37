package validation

import "github.com/temple-compute/horus/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for document and input validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// BlockLookup answers whether a block type is registered. Satisfied by
// blocks.Registry.
type BlockLookup interface {
	Has(name string) bool
}

// RemoteLookup answers whether a remote target name is configured.
type RemoteLookup func(name string) bool
