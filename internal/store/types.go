package store

import (
	"encoding/json"
	"time"

	"github.com/temple-compute/horus/pkg/schema"
)

// Run is the persisted representation of one workflow execution.
type Run struct {
	ID              string                    `json:"id"`
	WorkflowName    string                    `json:"workflow_name"`
	WorkflowVersion string                    `json:"workflow_version,omitempty"`
	SnapshotHash    string                    `json:"snapshot_hash,omitempty"`
	Definition      schema.WorkflowDefinition `json:"definition"`
	Status          schema.RunStatus          `json:"status"`
	Inputs          map[string]any            `json:"inputs,omitempty"`
	Error           json.RawMessage           `json:"error,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	StartedAt       *time.Time                `json:"started_at,omitempty"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// Event is an immutable entry in the per-run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	BlockID   string          `json:"block_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Remote    string          `json:"remote,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// BlockState is the materialized view of a block's current execution state.
type BlockState struct {
	RunID       string             `json:"run_id"`
	BlockID     string             `json:"block_id"`
	Status      schema.BlockStatus `json:"status"`
	Outputs     json.RawMessage    `json:"outputs,omitempty"`
	Error       json.RawMessage    `json:"error,omitempty"`
	Attempts    int                `json:"attempts"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	DurationMs  int64              `json:"duration_ms,omitempty"`
}

// WorkflowDoc is a stored workflow document, addressable by name+version.
type WorkflowDoc struct {
	Name        string                    `json:"name"`
	Version     string                    `json:"version"`
	Description string                    `json:"description,omitempty"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Snapshot is a content-addressed frozen workflow document.
type Snapshot struct {
	Hash         string          `json:"hash"` // "sha256:<hex>" over canonical JSON
	WorkflowName string          `json:"workflow_name"`
	Document     json.RawMessage `json:"document"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Secret is an encrypted key-value entry.
type Secret struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"-"` // encrypted, never serialized
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledRun is a cron-triggered run of a stored workflow.
type ScheduledRun struct {
	ID              string          `json:"id"`
	WorkflowName    string          `json:"workflow_name"`
	WorkflowVersion string          `json:"workflow_version,omitempty"`
	CronExpression  string          `json:"cron_expression"`
	Inputs          json.RawMessage `json:"inputs,omitempty"`
	Enabled         bool            `json:"enabled"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus   string          `json:"last_run_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       *schema.RunStatus `json:"status,omitempty"`
	WorkflowName string            `json:"workflow_name,omitempty"`
	Since        *time.Time        `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	BlockID   string     `json:"block_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// WorkflowFilter specifies criteria for listing stored workflow documents.
type WorkflowFilter struct {
	Name  string `json:"name,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}
