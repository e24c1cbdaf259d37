package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("append failed")
}

func TestTransitionRun_ValidTransitions(t *testing.T) {
	tests := []struct {
		from, to  schema.RunStatus
		eventType string
	}{
		{schema.RunStatusInitializing, schema.RunStatusRunning, schema.EventRunStarted},
		{schema.RunStatusInitializing, schema.RunStatusFailed, schema.EventRunFailed},
		{schema.RunStatusInitializing, schema.RunStatusCancelled, schema.EventRunCancelled},
		{schema.RunStatusRunning, schema.RunStatusCompleted, schema.EventRunCompleted},
		{schema.RunStatusRunning, schema.RunStatusFailed, schema.EventRunFailed},
		{schema.RunStatusRunning, schema.RunStatusCancelled, schema.EventRunCancelled},
		{schema.RunStatusFailed, schema.RunStatusRunning, schema.EventRunResumed},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			app := &mockAppender{}
			err := TransitionRun(context.Background(), app, "run-1", tc.from, tc.to, nil)
			require.NoError(t, err)

			events := app.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tc.eventType, events[0].Type)
			assert.Equal(t, "run-1", events[0].RunID)
		})
	}
}

func TestTransitionRun_InvalidTransitions(t *testing.T) {
	tests := []struct{ from, to schema.RunStatus }{
		{schema.RunStatusCompleted, schema.RunStatusRunning},
		{schema.RunStatusCancelled, schema.RunStatusRunning},
		{schema.RunStatusRunning, schema.RunStatusRunning},
		{schema.RunStatusRunning, schema.RunStatusInitializing},
		{schema.RunStatusInitializing, schema.RunStatusCompleted},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			app := &mockAppender{}
			err := TransitionRun(context.Background(), app, "run-1", tc.from, tc.to, nil)

			var engErr *schema.EngineError
			require.ErrorAs(t, err, &engErr)
			assert.Equal(t, schema.ErrCodeInvalidTransition, engErr.Code)
			assert.Empty(t, app.Events())
		})
	}
}

func TestTransitionRun_PayloadMarshalled(t *testing.T) {
	app := &mockAppender{}
	err := TransitionRun(context.Background(), app, "run-1",
		schema.RunStatusRunning, schema.RunStatusFailed,
		map[string]any{"code": "EXECUTION_FAILURE"})
	require.NoError(t, err)

	events := app.Events()
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"code":"EXECUTION_FAILURE"}`, string(events[0].Payload))
}

func TestTransitionRun_AppendFailure(t *testing.T) {
	err := TransitionRun(context.Background(), &failAppender{}, "run-1",
		schema.RunStatusInitializing, schema.RunStatusRunning, nil)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeStore, engErr.Code)
}

func TestTransitionBlock_ValidTransitions(t *testing.T) {
	tests := []struct {
		from, to  schema.BlockStatus
		eventType string
	}{
		{schema.BlockStatusPending, schema.BlockStatusReady, schema.EventBlockReady},
		{schema.BlockStatusPending, schema.BlockStatusSkipped, schema.EventBlockSkipped},
		{schema.BlockStatusPending, schema.BlockStatusCancelled, schema.EventBlockCancelled},
		{schema.BlockStatusReady, schema.BlockStatusRunning, schema.EventBlockStarted},
		{schema.BlockStatusReady, schema.BlockStatusSkipped, schema.EventBlockSkipped},
		{schema.BlockStatusRunning, schema.BlockStatusSucceeded, schema.EventBlockSucceeded},
		{schema.BlockStatusRunning, schema.BlockStatusFailed, schema.EventBlockFailed},
		{schema.BlockStatusRunning, schema.BlockStatusReady, schema.EventBlockRetrying},
		{schema.BlockStatusRunning, schema.BlockStatusCancelled, schema.EventBlockCancelled},
		{schema.BlockStatusFailed, schema.BlockStatusReady, schema.EventBlockRetrying},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			app := &mockAppender{}
			err := TransitionBlock(context.Background(), app, "run-1", "blk-1", tc.from, tc.to, nil)
			require.NoError(t, err)

			events := app.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tc.eventType, events[0].Type)
			assert.Equal(t, "blk-1", events[0].BlockID)
		})
	}
}

func TestTransitionBlock_InvalidTransitions(t *testing.T) {
	tests := []struct{ from, to schema.BlockStatus }{
		{schema.BlockStatusSucceeded, schema.BlockStatusRunning},
		{schema.BlockStatusSkipped, schema.BlockStatusReady},
		{schema.BlockStatusCancelled, schema.BlockStatusReady},
		{schema.BlockStatusPending, schema.BlockStatusRunning},
		{schema.BlockStatusPending, schema.BlockStatusSucceeded},
		{schema.BlockStatusFailed, schema.BlockStatusRunning},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			app := &mockAppender{}
			err := TransitionBlock(context.Background(), app, "run-1", "blk-1", tc.from, tc.to, nil)

			var engErr *schema.EngineError
			require.ErrorAs(t, err, &engErr)
			assert.Equal(t, schema.ErrCodeInvalidTransition, engErr.Code)
			assert.Equal(t, "blk-1", engErr.BlockID)
			assert.Empty(t, app.Events())
		})
	}
}

func TestTransitionBlock_RetryEmitsRetryingNotReady(t *testing.T) {
	app := &mockAppender{}

	require.NoError(t, TransitionBlock(context.Background(), app, "run-1", "blk-1",
		schema.BlockStatusRunning, schema.BlockStatusReady,
		map[string]any{"attempt": 2, "max_attempts": 3}))

	events := app.Events()
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventBlockRetrying, events[0].Type)
	assert.JSONEq(t, `{"attempt":2,"max_attempts":3}`, string(events[0].Payload))
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, schema.RunStatusCompleted.Terminal())
	assert.True(t, schema.RunStatusFailed.Terminal())
	assert.True(t, schema.RunStatusCancelled.Terminal())
	assert.False(t, schema.RunStatusRunning.Terminal())
	assert.False(t, schema.RunStatusInitializing.Terminal())

	assert.True(t, schema.BlockStatusSucceeded.Terminal())
	assert.True(t, schema.BlockStatusFailed.Terminal())
	assert.True(t, schema.BlockStatusSkipped.Terminal())
	assert.True(t, schema.BlockStatusCancelled.Terminal())
	assert.False(t, schema.BlockStatusPending.Terminal())
	assert.False(t, schema.BlockStatusReady.Terminal())
	assert.False(t, schema.BlockStatusRunning.Terminal())
}
