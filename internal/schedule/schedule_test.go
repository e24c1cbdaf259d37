package schedule

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/pkg/schema"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runnerCall
	status schema.RunStatus
	err    error
}

type runnerCall struct {
	workflow string
	version  string
	inputs   map[string]any
}

func (f *fakeRunner) RunWorkflow(_ context.Context, workflow, version string, inputs map[string]any) (schema.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runnerCall{workflow: workflow, version: version, inputs: inputs})
	return f.status, f.err
}

func (f *fakeRunner) Calls() []runnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runnerCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "horus.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedSchedule(t *testing.T, st store.Store, mutate func(*store.ScheduledRun)) *store.ScheduledRun {
	t.Helper()
	sr := &store.ScheduledRun{
		ID:             uuid.NewString(),
		WorkflowName:   "nightly-report",
		CronExpression: "0 2 * * *",
		Inputs:         json.RawMessage(`{"env":"prod"}`),
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
	}
	if mutate != nil {
		mutate(sr)
	}
	require.NoError(t, st.CreateScheduledRun(context.Background(), sr))
	return sr
}

func TestNextRun(t *testing.T) {
	c := New(newTestStore(t), &fakeRunner{}, nil)

	from := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)

	next, err := c.NextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)

	next, err = c.NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), next)

	_, err = c.NextRun("not a cron", from)
	assert.Error(t, err)
}

func TestTick_RunsDueSchedule(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	past := time.Now().UTC().Add(-time.Minute)
	sr := seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.NextRunAt = &past
	})

	c.tick(context.Background())

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nightly-report", calls[0].workflow)
	assert.Equal(t, map[string]any{"env": "prod"}, calls[0].inputs)

	updated, err := st.GetScheduledRun(context.Background(), sr.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRunAt)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
	assert.Equal(t, string(schema.RunStatusCompleted), updated.LastRunStatus)
}

func TestTick_NilNextRunTreatedAsDue(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	sr := seedSchedule(t, st, nil)

	c.tick(context.Background())

	require.Len(t, runner.Calls(), 1)
	updated, err := st.GetScheduledRun(context.Background(), sr.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.NextRunAt)
}

func TestTick_FutureScheduleNotRun(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	future := time.Now().UTC().Add(time.Hour)
	seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.NextRunAt = &future
	})

	c.tick(context.Background())

	assert.Empty(t, runner.Calls())
}

func TestTick_DisabledScheduleSkipped(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	past := time.Now().UTC().Add(-time.Minute)
	seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.Enabled = false
		s.NextRunAt = &past
	})

	c.tick(context.Background())

	assert.Empty(t, runner.Calls())
}

func TestTick_RunnerErrorRecordsErrorStatus(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusFailed, err: assert.AnError}
	c := New(st, runner, nil)

	past := time.Now().UTC().Add(-time.Minute)
	sr := seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.NextRunAt = &past
	})

	c.tick(context.Background())

	updated, err := st.GetScheduledRun(context.Background(), sr.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", updated.LastRunStatus)
	assert.NotNil(t, updated.NextRunAt)
}

func TestTick_InFlightDedup(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	past := time.Now().UTC().Add(-time.Minute)
	sr := seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.NextRunAt = &past
	})

	require.True(t, c.tryAcquire(sr.ID))
	c.tick(context.Background())
	assert.Empty(t, runner.Calls())

	c.release(sr.ID)
	// Reset next_run_at; the first tick never ran so it is unchanged.
	c.tick(context.Background())
	assert.Len(t, runner.Calls(), 1)
}

func TestRecoverMissed(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	past := time.Now().UTC().Add(-2 * time.Hour)
	missed := seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.NextRunAt = &past
	})
	future := time.Now().UTC().Add(time.Hour)
	seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.WorkflowName = "weekly-cleanup"
		s.NextRunAt = &future
	})

	require.NoError(t, c.RecoverMissed(context.Background()))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nightly-report", calls[0].workflow)

	updated, err := st.GetScheduledRun(context.Background(), missed.ID)
	require.NoError(t, err)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
}

func TestStartStop(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{status: schema.RunStatusCompleted}
	c := New(st, runner, nil)

	past := time.Now().UTC().Add(-time.Minute)
	seedSchedule(t, st, func(s *store.ScheduledRun) {
		s.NextRunAt = &past
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))

	// The immediate tick fires on start.
	require.Eventually(t, func() bool {
		return len(runner.Calls()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}
