package blocks

import (
	"context"
	"encoding/json"
)

// Block is an executable block type. Implementations receive fully
// interpolated params and return named output slot values.
type Block interface {
	Type() string
	Description() string
	Execute(ctx context.Context, in Input) (map[string]any, error)
	Validate(params json.RawMessage) error
}

// Input is the data handed to a block at execution time. Params are the
// block's interpolated parameters; Scope carries blocks/inputs/run data for
// expression-driven block types.
type Input struct {
	BlockID string          `json:"block_id"`
	RunID   string          `json:"run_id"`
	Params  json.RawMessage `json:"params"`
	Scope   map[string]any  `json:"scope,omitempty"`
}

// RemoteCommand describes how a block runs on a remote target: the command
// line, its environment, and the artifacts moved in each direction.
type RemoteCommand struct {
	Command   string            `json:"command"`
	Shell     string            `json:"shell,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Uploads   []string          `json:"uploads,omitempty"`
	Downloads []string          `json:"downloads,omitempty"`
}

// Offloadable is implemented by block types that can run on a remote
// target. The scheduler consults it when a block declares a target.
type Offloadable interface {
	RemoteCommand(params json.RawMessage) (*RemoteCommand, error)
}

// Info is a summary of a registered block type for listing.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}
