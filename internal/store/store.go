package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Block state (materialized view)
	UpsertBlockState(ctx context.Context, state *BlockState) error
	GetBlockState(ctx context.Context, runID, blockID string) (*BlockState, error)
	ListBlockStates(ctx context.Context, runID string) ([]*BlockState, error)

	// Stored workflow documents
	SaveWorkflow(ctx context.Context, doc *WorkflowDoc) error
	GetWorkflow(ctx context.Context, name, version string) (*WorkflowDoc, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowDoc, error)
	DeleteWorkflow(ctx context.Context, name, version string) error

	// Snapshots (content-addressed)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, hash string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, workflowName string) ([]*Snapshot, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, sr *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
