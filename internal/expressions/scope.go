package expressions

import (
	"encoding/json"
	"sync"

	"github.com/temple-compute/horus/pkg/schema"
)

// ScopeBuilder constructs InterpolationScopes with proper variable isolation.
// It enforces:
//   - Block outputs are immutable after completion (frozen on insert).
//   - Append-only: new block outputs are added as blocks succeed.
//   - Inputs and run metadata are frozen at init.
type ScopeBuilder struct {
	mu     sync.RWMutex
	blocks map[string]map[string]any // block ID -> frozen outputs (deep-copied on insert)
	inputs map[string]any            // workflow input params (immutable after init)
	run    map[string]any            // run metadata (immutable after init)
}

// NewScopeBuilder creates a ScopeBuilder initialized with run-level data.
// inputs and run are deep-copied to prevent external mutation.
func NewScopeBuilder(inputs, run map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		blocks: make(map[string]map[string]any),
		inputs: deepCopyMap(inputs),
		run:    deepCopyMap(run),
	}
}

// AddBlockOutputs registers a succeeded block's outputs. The outputs are
// frozen (deep-copied) at the time of insertion. Subsequent calls with the
// same blockID are rejected; block outputs are immutable after completion.
func (sb *ScopeBuilder) AddBlockOutputs(blockID string, outputs map[string]any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.blocks[blockID]; exists {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"block %q outputs already registered; block outputs are immutable after completion", blockID)
	}

	sb.blocks[blockID] = deepCopyMap(outputs)
	return nil
}

// AddBlockOutputsRaw registers outputs from their JSON encoding, as read
// back from the store during resume.
func (sb *ScopeBuilder) AddBlockOutputsRaw(blockID string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return sb.AddBlockOutputs(blockID, nil)
	}
	var outputs map[string]any
	if err := json.Unmarshal(raw, &outputs); err != nil {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot parse block %q outputs: %s", blockID, err.Error())
	}
	return sb.AddBlockOutputs(blockID, outputs)
}

// Build creates an InterpolationScope snapshot. The returned scope is safe
// for concurrent use (block outputs are copied).
func (sb *ScopeBuilder) Build() *InterpolationScope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	blocks := make(map[string]map[string]any, len(sb.blocks))
	for id, outputs := range sb.blocks {
		blocks[id] = deepCopyMap(outputs)
	}

	return &InterpolationScope{
		Blocks: blocks,
		Inputs: sb.inputs, // already frozen at init
		Run:    sb.run,    // already frozen at init
	}
}

// BlockOutputs returns a read-only copy of one block's outputs, or nil.
func (sb *ScopeBuilder) BlockOutputs(blockID string) map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.blocks[blockID])
}

// CELData returns the scope shaped for CEL/expr evaluation: top-level
// blocks, inputs and run variables.
func (s *InterpolationScope) CELData() map[string]any {
	blocks := make(map[string]any, len(s.Blocks))
	for id, outputs := range s.Blocks {
		blocks[id] = map[string]any{"outputs": outputs}
	}
	return map[string]any{
		"blocks": blocks,
		"inputs": s.Inputs,
		"run":    s.Run,
	}
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
