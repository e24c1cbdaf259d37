package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable workflow document.
// Blocks form a DAG; dependencies come from depends_on plus any
// ${{blocks.<id>.outputs.<slot>}} references in params or condition.
type WorkflowDefinition struct {
	Name     string            `json:"name"`
	Version  string            `json:"version,omitempty"`
	Blocks   []BlockDefinition `json:"blocks"`
	Inputs   map[string]any    `json:"inputs,omitempty"`
	Timeout  string            `json:"timeout,omitempty"` // run-level timeout (e.g. "2h")
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// BlockDefinition describes a single block in a workflow.
type BlockDefinition struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`                 // block type name (e.g. "command", "eval")
	Params    json.RawMessage `json:"params,omitempty"`     // type-specific parameters, may contain ${{...}} refs
	Outputs   []OutputSlot    `json:"outputs,omitempty"`    // declared output slots
	Target    string          `json:"target,omitempty"`     // remote name; empty means local execution
	DependsOn []string        `json:"depends_on,omitempty"` // block IDs that must succeed first
	Condition string          `json:"condition,omitempty"`  // CEL expression, evaluated before execution
	Transform string          `json:"transform,omitempty"`  // jq expression applied to the raw outputs
	Retry     *RetryPolicy    `json:"retry,omitempty"`
	Timeout   string          `json:"timeout,omitempty"` // block-level timeout (e.g. "30s", "5m")
}

// OutputSlot declares one named output a block produces. Downstream
// references are checked against declared slots during validation.
type OutputSlot struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"` // string | number | boolean | object | array | file
}

// RetryPolicy configures retry behavior for a block.
type RetryPolicy struct {
	Max     int    `json:"max"`               // max attempts including the first
	Backoff string `json:"backoff,omitempty"` // none | linear | exponential (default: exponential)
	Delay   string `json:"delay,omitempty"`   // initial delay (e.g. "1s", "500ms")
}

// CommandParams is the params block for command-type blocks.
type CommandParams struct {
	Command   string            `json:"command"`
	Shell     string            `json:"shell,omitempty"`   // defaults to /bin/sh
	Env       map[string]string `json:"env,omitempty"`
	WorkDir   string            `json:"workdir,omitempty"`
	Uploads   []string          `json:"uploads,omitempty"`   // local paths staged before a remote run
	Downloads []string          `json:"downloads,omitempty"` // remote paths retrieved after a remote run
}

// EvalParams is the params block for eval-type blocks. Each entry is an
// expression producing one output slot value.
type EvalParams struct {
	Expressions map[string]string `json:"expressions"`
}
