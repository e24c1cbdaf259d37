package schema

// Event type constants for the append-only run log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunResumed   = "run_resumed"

	EventBlockReady     = "block_ready"
	EventBlockStarted   = "block_started"
	EventBlockSucceeded = "block_succeeded"
	EventBlockFailed    = "block_failed"
	EventBlockSkipped   = "block_skipped"
	EventBlockCancelled = "block_cancelled"
	EventBlockRetrying  = "block_retrying"

	EventRemoteConnected    = "remote_connected"
	EventRemoteDisconnected = "remote_disconnected"
	EventRemoteAuthFailed   = "remote_auth_failed"
	EventTransferStarted    = "transfer_started"
	EventTransferCompleted  = "transfer_completed"
	EventTransferFailed     = "transfer_failed"

	EventSnapshotCreated = "snapshot_created"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusInitializing RunStatus = "initializing"
	RunStatusRunning      RunStatus = "running"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCancelled    RunStatus = "cancelled"
)

// Terminal reports whether the run status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// BlockStatus represents the lifecycle state of a block within a run.
type BlockStatus string

const (
	BlockStatusPending   BlockStatus = "pending"
	BlockStatusReady     BlockStatus = "ready"
	BlockStatusRunning   BlockStatus = "running"
	BlockStatusSucceeded BlockStatus = "succeeded"
	BlockStatusFailed    BlockStatus = "failed"
	BlockStatusSkipped   BlockStatus = "skipped"
	BlockStatusCancelled BlockStatus = "cancelled"
)

// Terminal reports whether the block status admits no further transitions.
func (s BlockStatus) Terminal() bool {
	switch s {
	case BlockStatusSucceeded, BlockStatusFailed, BlockStatusSkipped, BlockStatusCancelled:
		return true
	}
	return false
}
