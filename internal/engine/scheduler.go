package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/temple-compute/horus/internal/blocks"
	"github.com/temple-compute/horus/internal/expressions"
	"github.com/temple-compute/horus/internal/graph"
	"github.com/temple-compute/horus/internal/remote"
	"github.com/temple-compute/horus/internal/secrets"
	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/internal/streaming"
	"github.com/temple-compute/horus/internal/version"
	"github.com/temple-compute/horus/pkg/schema"
)

// DefaultConcurrency is the default number of blocks executing at once.
const DefaultConcurrency = 4

// DefaultPollInterval is how long a worker waits on a remote handle before
// re-checking its state.
const DefaultPollInterval = 2 * time.Second

const defaultArtifactDir = ".horus/artifacts"

// Config holds scheduler dependencies and tunables. Store and block registry
// are required; everything else is optional.
type Config struct {
	Concurrency  int
	DefaultRetry *schema.RetryPolicy
	PollInterval time.Duration
	ArtifactDir  string // local destination for retrieved remote artifacts

	Remotes *remote.Manager
	Hub     streaming.EventHub
	Vault   secrets.Vault
	Logger  *slog.Logger
}

// Scheduler coordinates workflow runs: it walks the block DAG, dispatches
// ready blocks to a bounded worker pool, and owns all graph-state decisions
// in a single goroutine per run.
type Scheduler struct {
	store    store.Store
	registry *blocks.Registry
	cfg      Config
	events   *eventSink
	interp   *expressions.Interpolator
	cel      *expressions.CELEngine
	jq       *expressions.GoJQEngine
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewScheduler creates a Scheduler.
func NewScheduler(st store.Store, registry *blocks.Registry, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = defaultArtifactDir
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cel, _ := expressions.NewCELEngine()

	return &Scheduler{
		store:    st,
		registry: registry,
		cfg:      cfg,
		events:   &eventSink{st: st, hub: cfg.Hub},
		interp:   expressions.NewInterpolator(cfg.Vault),
		cel:      cel,
		jq:       expressions.NewGoJQEngine(),
		logger:   cfg.Logger,
		active:   make(map[string]context.CancelFunc),
	}
}

// RunResult is returned by Run and Resume with the run outcome.
type RunResult struct {
	RunID       string                  `json:"run_id"`
	Status      schema.RunStatus        `json:"status"`
	Error       *schema.EngineError     `json:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Blocks      map[string]*BlockResult `json:"blocks,omitempty"`
}

// BlockResult summarizes the outcome of a single block.
type BlockResult struct {
	BlockID    string              `json:"block_id"`
	Status     schema.BlockStatus  `json:"status"`
	Outputs    json.RawMessage     `json:"outputs,omitempty"`
	Error      *schema.EngineError `json:"error,omitempty"`
	Attempts   int                 `json:"attempts"`
	DurationMs int64               `json:"duration_ms,omitempty"`
}

// RunView is a point-in-time snapshot of a run for status queries.
type RunView struct {
	Run    *store.Run          `json:"run"`
	Blocks []*store.BlockState `json:"blocks"`
	Events []*store.Event      `json:"events,omitempty"`
}

// eventSink appends events to the store and mirrors them onto the hub.
type eventSink struct {
	st  store.Store
	hub streaming.EventHub
}

func (es *eventSink) AppendEvent(ctx context.Context, e *store.Event) error {
	if err := es.st.AppendEvent(ctx, e); err != nil {
		return err
	}
	if es.hub != nil {
		var payload any
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &payload)
		}
		_ = es.hub.Publish(ctx, streaming.StreamEvent{
			RunID:     e.RunID,
			BlockID:   e.BlockID,
			EventType: e.Type,
			Remote:    e.Remote,
			Payload:   payload,
		})
	}
	return nil
}

// Run validates the definition, snapshots it, and executes a new run to
// completion. It blocks until the run reaches a terminal status.
func (s *Scheduler) Run(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any) (*RunResult, error) {
	g, err := graph.Build(def)
	if err != nil {
		return nil, err
	}

	initial := make(map[string]schema.BlockStatus, len(g.Sorted))
	for _, id := range g.Sorted {
		initial[id] = schema.BlockStatusPending
	}
	hash, doc, err := version.Snapshot(def, initial)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	run := &store.Run{
		ID:              runID,
		WorkflowName:    def.Name,
		WorkflowVersion: def.Version,
		SnapshotHash:    hash,
		Definition:      *def,
		Status:          schema.RunStatusInitializing,
		Inputs:          inputs,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	if err := s.store.SaveSnapshot(ctx, &store.Snapshot{
		Hash:         hash,
		WorkflowName: def.Name,
		Document:     doc,
	}); err == nil {
		payload, _ := json.Marshal(map[string]string{"hash": hash, "workflow": def.Name})
		_ = s.events.AppendEvent(ctx, &store.Event{RunID: runID, Type: schema.EventSnapshotCreated, Payload: payload})
	}

	for _, id := range g.Sorted {
		if err := s.store.UpsertBlockState(ctx, &store.BlockState{
			RunID:   runID,
			BlockID: id,
			Status:  schema.BlockStatusPending,
		}); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "init block state %s: %s", id, err.Error()).WithCause(err)
		}
	}

	if err := TransitionRun(ctx, s.events, runID, schema.RunStatusInitializing, schema.RunStatusRunning, nil); err != nil {
		return nil, err
	}
	started := time.Now().UTC()
	running := schema.RunStatusRunning
	if err := s.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &running, StartedAt: &started}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	run.Status = running
	run.StartedAt = &started

	return s.execute(ctx, run, g, nil), nil
}

// Resume rebuilds an interrupted or failed run's state from its event log
// and continues execution. Succeeded and skipped blocks keep their replayed
// outcome; everything else is re-dispatched.
func (s *Scheduler) Resume(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == schema.RunStatusCompleted || run.Status == schema.RunStatusCancelled {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "cannot resume run in status %s", run.Status)
	}

	g, err := graph.Build(&run.Definition)
	if err != nil {
		return nil, err
	}

	proj, err := store.Replay(ctx, s.store, runID)
	if err != nil {
		return nil, err
	}
	if err := s.crossCheckProjection(ctx, runID, proj); err != nil {
		return nil, err
	}

	if err := s.events.AppendEvent(ctx, &store.Event{RunID: runID, Type: schema.EventRunResumed}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "emit resume event: %s", err.Error()).WithCause(err)
	}
	running := schema.RunStatusRunning
	if err := s.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &running}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	run.Status = running

	return s.execute(ctx, run, g, proj), nil
}

// crossCheckProjection verifies the replayed event log against the
// materialized block states. The store may lag the log by one write after a
// crash, but a terminal status that contradicts the log means the run's
// record is corrupt and resuming would be unsafe.
func (s *Scheduler) crossCheckProjection(ctx context.Context, runID string, proj *store.Projection) error {
	states, err := s.store.ListBlockStates(ctx, runID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list block states: %s", err.Error()).WithCause(err)
	}
	for _, bs := range states {
		if !bs.Status.Terminal() {
			continue
		}
		rb, ok := proj.Blocks[bs.BlockID]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeStore,
				"block %s is %s in the store but absent from the event log", bs.BlockID, bs.Status)
		}
		if rb.Status != bs.Status {
			return schema.NewErrorf(schema.ErrCodeStore,
				"event log and block states diverge for %s: replayed %s, stored %s", bs.BlockID, rb.Status, bs.Status)
		}
	}
	return nil
}

// Cancel terminates a run. For an in-process run the execution context is
// cancelled and the run loop finalizes state; otherwise statuses are
// persisted directly.
func (s *Scheduler) Cancel(ctx context.Context, runID string, reason string) error {
	s.mu.Lock()
	cancel, inProcess := s.active[runID]
	s.mu.Unlock()

	if inProcess {
		cancel()
		return nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run is already %s", run.Status)
	}

	states, err := s.store.ListBlockStates(ctx, runID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list block states: %s", err.Error()).WithCause(err)
	}
	for _, bs := range states {
		// Untouched blocks stay Pending; only dispatched or queued ones
		// are affected by the cancellation.
		if bs.Status.Terminal() || bs.Status == schema.BlockStatusPending {
			continue
		}
		_ = TransitionBlock(ctx, s.events, runID, bs.BlockID, bs.Status, schema.BlockStatusCancelled, nil)
		bs.Status = schema.BlockStatusCancelled
		_ = s.store.UpsertBlockState(ctx, bs)
	}

	payload, _ := json.Marshal(map[string]string{"reason": reason})
	if err := s.events.AppendEvent(ctx, &store.Event{RunID: runID, Type: schema.EventRunCancelled, Payload: payload}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit cancel event: %s", err.Error()).WithCause(err)
	}
	cancelled := schema.RunStatusCancelled
	now := time.Now().UTC()
	return s.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &cancelled, CompletedAt: &now, Error: payload})
}

// Status returns the run row, its block states and (optionally) its events.
func (s *Scheduler) Status(ctx context.Context, runID string, withEvents bool) (*RunView, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	blockStates, err := s.store.ListBlockStates(ctx, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list block states: %s", err.Error()).WithCause(err)
	}
	view := &RunView{Run: run, Blocks: blockStates}
	if withEvents {
		events, err := s.store.GetEvents(ctx, runID, 0)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
		}
		view.Events = events
	}
	return view, nil
}

// --- Run loop ---

// execute walks one run to a terminal state. It is the single writer for the
// run's graph state; workers only execute blocks and report outcomes.
func (s *Scheduler) execute(parent context.Context, run *store.Run, g *graph.Graph, proj *store.Projection) *RunResult {
	ctx, cancel := context.WithCancel(parent)
	if run.Definition.Timeout != "" {
		if dur, perr := time.ParseDuration(run.Definition.Timeout); perr == nil && dur > 0 {
			cancel()
			ctx, cancel = context.WithTimeout(parent, dur)
		}
	}
	defer cancel()

	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID)
		s.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	if run.StartedAt != nil {
		startedAt = *run.StartedAt
	}
	result := &RunResult{
		RunID:     run.ID,
		Status:    schema.RunStatusRunning,
		StartedAt: startedAt,
		Blocks:    make(map[string]*BlockResult, len(g.Sorted)),
	}

	states := make(map[string]schema.BlockStatus, len(g.Sorted))
	attempts := make(map[string]int, len(g.Sorted))
	for _, id := range g.Sorted {
		states[id] = schema.BlockStatusPending
	}

	scope := expressions.NewScopeBuilder(run.Inputs, map[string]any{
		"id":       run.ID,
		"workflow": run.WorkflowName,
		"version":  run.WorkflowVersion,
		"snapshot": run.SnapshotHash,
	})

	// Seed replayed state on resume.
	if proj != nil {
		for id, bs := range proj.Blocks {
			if _, known := states[id]; !known {
				continue
			}
			switch bs.Status {
			case schema.BlockStatusSucceeded:
				states[id] = schema.BlockStatusSucceeded
				_ = scope.AddBlockOutputsRaw(id, bs.Outputs)
				result.Blocks[id] = &BlockResult{
					BlockID: id, Status: bs.Status, Outputs: bs.Outputs,
					Attempts: bs.Attempts, DurationMs: bs.DurationMs,
				}
			case schema.BlockStatusSkipped:
				states[id] = schema.BlockStatusSkipped
				result.Blocks[id] = &BlockResult{BlockID: id, Status: bs.Status}
			default:
				// Re-dispatched from scratch; attempt counting restarts.
				_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
					RunID: run.ID, BlockID: id, Status: schema.BlockStatusPending,
				})
			}
		}
	}

	pool := NewPool(s.cfg.Concurrency)
	defer pool.Shutdown()

	outcomes := make(chan *blockOutcome, len(g.Sorted))
	queued := make(map[string]bool, len(g.Sorted))
	var queue []string
	inFlight := 0
	var firstErr *schema.EngineError

	markReady := func() {
		for _, id := range g.ReadyBlocks(states) {
			if queued[id] {
				continue
			}
			if err := TransitionBlock(s.persistCtx(ctx), s.events, run.ID, id, states[id], schema.BlockStatusReady, nil); err != nil {
				s.logger.Warn("block ready transition failed", "run_id", run.ID, "block_id", id, "error", err)
				continue
			}
			states[id] = schema.BlockStatusReady
			queued[id] = true
			queue = append(queue, id)
			_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
				RunID: run.ID, BlockID: id, Status: schema.BlockStatusReady, Attempts: attempts[id],
			})
		}
	}

	dispatch := func(id string) {
		def := g.Blocks[id]
		snap := scope.Build()
		prev := attempts[id]
		inFlight++
		if err := pool.Submit(ctx, func(workerCtx context.Context) error {
			outcomes <- s.executeBlock(workerCtx, run, def, snap, prev)
			return nil
		}); err != nil {
			outcomes <- &blockOutcome{
				blockID: id,
				status:  schema.BlockStatusCancelled,
				err:     schema.NewError(schema.ErrCodeCancelled, "run shutting down").WithBlock(id),
			}
		}
	}

	markReady()
	for {
		if ctx.Err() != nil {
			queue = nil
		}
		for len(queue) > 0 && inFlight < s.cfg.Concurrency {
			id := queue[0]
			queue = queue[1:]
			dispatch(id)
		}
		if inFlight == 0 {
			break
		}

		out := <-outcomes
		inFlight--
		s.applyOutcome(ctx, run, g, states, scope, attempts, result, out, &firstErr)
		if ctx.Err() == nil {
			markReady()
		}
	}

	return s.finalize(parent, ctx, run, g, states, attempts, result, firstErr)
}

// applyOutcome folds one worker outcome into the run state.
func (s *Scheduler) applyOutcome(ctx context.Context, run *store.Run, g *graph.Graph,
	states map[string]schema.BlockStatus, scope *expressions.ScopeBuilder,
	attempts map[string]int, result *RunResult, out *blockOutcome, firstErr **schema.EngineError) {

	pctx := s.persistCtx(ctx)
	id := out.blockID
	attempts[id] = out.attempts

	br := &BlockResult{
		BlockID:    id,
		Status:     out.status,
		Error:      out.err,
		Attempts:   out.attempts,
		DurationMs: out.durationMs,
	}

	switch out.status {
	case schema.BlockStatusSucceeded:
		outputsJSON, _ := json.Marshal(out.outputs)
		br.Outputs = outputsJSON
		_ = TransitionBlock(pctx, s.events, run.ID, id, schema.BlockStatusRunning, schema.BlockStatusSucceeded, map[string]any{
			"outputs":     out.outputs,
			"attempt":     out.attempts,
			"duration_ms": out.durationMs,
		})
		states[id] = schema.BlockStatusSucceeded
		_ = scope.AddBlockOutputs(id, out.outputs)
		now := time.Now().UTC()
		_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
			RunID: run.ID, BlockID: id, Status: schema.BlockStatusSucceeded,
			Outputs: outputsJSON, Attempts: out.attempts, CompletedAt: &now, DurationMs: out.durationMs,
		})

	case schema.BlockStatusSkipped:
		_ = TransitionBlock(pctx, s.events, run.ID, id, schema.BlockStatusReady, schema.BlockStatusSkipped, map[string]any{
			"reason": "condition_false",
		})
		states[id] = schema.BlockStatusSkipped
		_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
			RunID: run.ID, BlockID: id, Status: schema.BlockStatusSkipped,
		})
		s.skipOutputConsumers(pctx, run, g, states, result, id)

	case schema.BlockStatusFailed:
		errJSON, _ := json.Marshal(out.err)
		_ = TransitionBlock(pctx, s.events, run.ID, id, schema.BlockStatusRunning, schema.BlockStatusFailed, map[string]any{
			"error":       out.err,
			"attempt":     out.attempts,
			"duration_ms": out.durationMs,
		})
		states[id] = schema.BlockStatusFailed
		now := time.Now().UTC()
		_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
			RunID: run.ID, BlockID: id, Status: schema.BlockStatusFailed,
			Error: errJSON, Attempts: out.attempts, CompletedAt: &now, DurationMs: out.durationMs,
		})
		if *firstErr == nil {
			*firstErr = out.err
		}
		s.skipDownstream(pctx, run, g, states, result, id)

	case schema.BlockStatusCancelled:
		_ = TransitionBlock(pctx, s.events, run.ID, id, schema.BlockStatusRunning, schema.BlockStatusCancelled, nil)
		states[id] = schema.BlockStatusCancelled
		_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
			RunID: run.ID, BlockID: id, Status: schema.BlockStatusCancelled, Attempts: out.attempts,
		})
	}

	result.Blocks[id] = br
}

// skipDownstream skips every transitive dependent of a failed block.
func (s *Scheduler) skipDownstream(ctx context.Context, run *store.Run, g *graph.Graph,
	states map[string]schema.BlockStatus, result *RunResult, failedID string) {

	for _, d := range g.DownstreamOf(failedID) {
		if states[d] != schema.BlockStatusPending {
			continue
		}
		s.skipBlock(ctx, run, states, result, d, "upstream_failed")
	}
}

// skipOutputConsumers skips dependents that reference a skipped block's
// outputs. Dependents that only sequence on it still run; the skip chases
// consumers transitively.
func (s *Scheduler) skipOutputConsumers(ctx context.Context, run *store.Run, g *graph.Graph,
	states map[string]schema.BlockStatus, result *RunResult, skippedID string) {

	for _, d := range g.Reverse[skippedID] {
		if states[d] != schema.BlockStatusPending {
			continue
		}
		if !g.ConsumesOutputsOf(d, skippedID) {
			continue
		}
		s.skipBlock(ctx, run, states, result, d, "upstream_outputs_unavailable")
		s.skipOutputConsumers(ctx, run, g, states, result, d)
	}
}

func (s *Scheduler) skipBlock(ctx context.Context, run *store.Run,
	states map[string]schema.BlockStatus, result *RunResult, id, reason string) {

	_ = TransitionBlock(ctx, s.events, run.ID, id, states[id], schema.BlockStatusSkipped, map[string]any{"reason": reason})
	states[id] = schema.BlockStatusSkipped
	_ = s.store.UpsertBlockState(context.Background(), &store.BlockState{
		RunID: run.ID, BlockID: id, Status: schema.BlockStatusSkipped,
	})
	result.Blocks[id] = &BlockResult{BlockID: id, Status: schema.BlockStatusSkipped}
}

// finalize settles remaining block states and persists the run's terminal
// status.
func (s *Scheduler) finalize(parent, ctx context.Context, run *store.Run, g *graph.Graph,
	states map[string]schema.BlockStatus, attempts map[string]int,
	result *RunResult, firstErr *schema.EngineError) *RunResult {

	pctx := context.Background()

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	cancelled := ctx.Err() != nil && !timedOut

	// Settle blocks the loop never reached. On cancellation or timeout only
	// blocks that already left Pending are affected; untouched ones stay
	// Pending so their state reflects that they never saw the run.
	for _, id := range g.Sorted {
		if states[id].Terminal() {
			continue
		}
		if (cancelled || timedOut) && states[id] == schema.BlockStatusPending {
			result.Blocks[id] = &BlockResult{BlockID: id, Status: schema.BlockStatusPending}
			continue
		}
		to := schema.BlockStatusSkipped
		if cancelled || timedOut {
			to = schema.BlockStatusCancelled
		}
		_ = TransitionBlock(pctx, s.events, run.ID, id, states[id], to, nil)
		states[id] = to
		_ = s.store.UpsertBlockState(pctx, &store.BlockState{
			RunID: run.ID, BlockID: id, Status: to, Attempts: attempts[id],
		})
		result.Blocks[id] = &BlockResult{BlockID: id, Status: to}
	}

	switch {
	case timedOut:
		result.Status = schema.RunStatusFailed
		result.Error = schema.NewErrorf(schema.ErrCodeTimeout, "run exceeded timeout %s", run.Definition.Timeout)
	case cancelled:
		result.Status = schema.RunStatusCancelled
		result.Error = schema.NewError(schema.ErrCodeCancelled, "run cancelled")
	case firstErr != nil:
		result.Status = schema.RunStatusFailed
		result.Error = firstErr
	default:
		result.Status = schema.RunStatusCompleted
	}

	// Completion snapshot: definition plus final block statuses.
	if hash, doc, serr := version.Snapshot(&run.Definition, states); serr == nil {
		if err := s.store.SaveSnapshot(pctx, &store.Snapshot{
			Hash:         hash,
			WorkflowName: run.WorkflowName,
			Document:     doc,
		}); err == nil {
			payload, _ := json.Marshal(map[string]string{"hash": hash, "workflow": run.WorkflowName})
			_ = s.events.AppendEvent(pctx, &store.Event{RunID: run.ID, Type: schema.EventSnapshotCreated, Payload: payload})
		}
	}

	var payload any
	if result.Error != nil {
		payload = map[string]any{"code": result.Error.Code, "message": result.Error.Message}
	}
	_ = TransitionRun(pctx, s.events, run.ID, schema.RunStatusRunning, result.Status, payload)

	now := time.Now().UTC()
	result.CompletedAt = &now
	update := store.RunUpdate{Status: &result.Status, CompletedAt: &now}
	if result.Error != nil {
		update.Error, _ = json.Marshal(result.Error)
	}
	_ = s.store.UpdateRun(pctx, run.ID, update)

	return result
}

// persistCtx returns ctx, or a background context once ctx is cancelled so
// terminal bookkeeping still reaches the store.
func (s *Scheduler) persistCtx(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}
