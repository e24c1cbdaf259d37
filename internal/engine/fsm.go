package engine

import (
	"context"
	"encoding/json"

	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/pkg/schema"
)

// EventAppender is satisfied by the Store; used to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions defines the allowed lifecycle transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusInitializing: {schema.RunStatusRunning, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusRunning:      {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted:    {},
	schema.RunStatusFailed:       {schema.RunStatusRunning}, // resume re-enters the run loop
	schema.RunStatusCancelled:    {},
}

// ValidBlockTransitions defines the allowed lifecycle transitions for blocks.
// A retrying block goes back through ready so the scheduler re-queues it.
var ValidBlockTransitions = map[schema.BlockStatus][]schema.BlockStatus{
	schema.BlockStatusPending:   {schema.BlockStatusReady, schema.BlockStatusSkipped, schema.BlockStatusCancelled},
	schema.BlockStatusReady:     {schema.BlockStatusRunning, schema.BlockStatusSkipped, schema.BlockStatusCancelled},
	schema.BlockStatusRunning:   {schema.BlockStatusSucceeded, schema.BlockStatusFailed, schema.BlockStatusReady, schema.BlockStatusCancelled},
	schema.BlockStatusSucceeded: {},
	schema.BlockStatusFailed:    {schema.BlockStatusReady}, // resume re-dispatches failed blocks
	schema.BlockStatusSkipped:   {},
	schema.BlockStatusCancelled: {},
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func isValidBlockTransition(from, to schema.BlockStatus) bool {
	for _, a := range ValidBlockTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// TransitionRun validates a run transition and emits the corresponding event.
// The caller persists the new status.
func TransitionRun(ctx context.Context, appender EventAppender, runID string, from, to schema.RunStatus, payload any) error {
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	eventType := runEventType(from, to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{RunID: runID, Type: eventType}
	if payload != nil {
		event.Payload, _ = json.Marshal(payload)
	}
	if err := appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// TransitionBlock validates a block transition and emits the corresponding event.
func TransitionBlock(ctx context.Context, appender EventAppender, runID, blockID string, from, to schema.BlockStatus, payload any) error {
	if !isValidBlockTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid block transition: %s -> %s", from, to).
			WithBlock(blockID).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	eventType := blockEventType(from, to)
	if eventType == "" {
		return nil
	}
	event := &store.Event{RunID: runID, BlockID: blockID, Type: eventType}
	if payload != nil {
		event.Payload, _ = json.Marshal(payload)
	}
	if err := appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit block event: %s", err.Error()).
			WithBlock(blockID).WithCause(err)
	}
	return nil
}

func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		if from == schema.RunStatusFailed {
			return schema.EventRunResumed
		}
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

func blockEventType(from, to schema.BlockStatus) string {
	switch to {
	case schema.BlockStatusReady:
		if from == schema.BlockStatusRunning || from == schema.BlockStatusFailed {
			return schema.EventBlockRetrying
		}
		return schema.EventBlockReady
	case schema.BlockStatusRunning:
		return schema.EventBlockStarted
	case schema.BlockStatusSucceeded:
		return schema.EventBlockSucceeded
	case schema.BlockStatusFailed:
		return schema.EventBlockFailed
	case schema.BlockStatusSkipped:
		return schema.EventBlockSkipped
	case schema.BlockStatusCancelled:
		return schema.EventBlockCancelled
	default:
		return ""
	}
}
