package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/temple-compute/horus/internal/blocks"
	"github.com/temple-compute/horus/internal/expressions"
	"github.com/temple-compute/horus/internal/logging"
	"github.com/temple-compute/horus/internal/remote"
	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/pkg/schema"
)

// blockOutcome is what a worker reports back to the run loop.
type blockOutcome struct {
	blockID    string
	status     schema.BlockStatus
	outputs    map[string]any
	err        *schema.EngineError
	attempts   int
	durationMs int64
}

// executeBlock runs one block to a terminal outcome, owning the per-attempt
// retry loop and the started/retrying events for its attempts.
func (s *Scheduler) executeBlock(ctx context.Context, run *store.Run, def *schema.BlockDefinition,
	scope *expressions.InterpolationScope, prevAttempts int) *blockOutcome {

	ctx = logging.WithIDs(ctx, run.ID, def.ID, def.Target)
	log := logging.LogWith(ctx, s.logger)

	blk, err := s.registry.Get(def.Type)
	if err != nil {
		return s.failedOutcome(def.ID, prevAttempts, 0, err)
	}

	// Condition gate.
	if def.Condition != "" {
		v, cerr := s.cel.Evaluate(ctx, def.Condition, scope.CELData())
		if cerr != nil {
			return s.failedOutcome(def.ID, prevAttempts, 0, cerr)
		}
		ok, isBool := v.(bool)
		if !isBool {
			return s.failedOutcome(def.ID, prevAttempts, 0,
				schema.NewErrorf(schema.ErrCodeValidation, "condition %q evaluated to %T, want bool", def.Condition, v))
		}
		if !ok {
			log.Info("block condition false, skipping")
			return &blockOutcome{blockID: def.ID, status: schema.BlockStatusSkipped, attempts: prevAttempts}
		}
	}

	params := def.Params
	if expressions.HasInterpolation(params) {
		resolved, ierr := s.interp.Resolve(ctx, params, scope)
		if ierr != nil {
			return s.failedOutcome(def.ID, prevAttempts, 0, ierr)
		}
		params = resolved
	}

	policy := retryPolicyFor(def, s.cfg.DefaultRetry)
	maxAttempts := policy.Max
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var elapsed int64
	attempt := prevAttempts
	for attempt < maxAttempts {
		attempt++

		if terr := TransitionBlock(ctx, s.events, run.ID, def.ID, schema.BlockStatusReady, schema.BlockStatusRunning,
			map[string]any{"attempt": attempt}); terr != nil {
			return s.failedOutcome(def.ID, attempt, 0, terr)
		}
		now := time.Now().UTC()
		_ = s.store.UpsertBlockState(ctx, &store.BlockState{
			RunID: run.ID, BlockID: def.ID, Status: schema.BlockStatusRunning,
			Attempts: attempt, StartedAt: &now,
		})

		start := time.Now()
		outputs, rerr := s.runAttempt(ctx, run, def, blk, params, scope, attempt)
		elapsed = time.Since(start).Milliseconds()

		if rerr == nil {
			if def.Transform != "" {
				outputs, rerr = s.applyTransform(ctx, def, outputs)
			}
			if rerr == nil {
				log.Info("block succeeded", "attempt", attempt, "duration_ms", elapsed)
				return &blockOutcome{
					blockID: def.ID, status: schema.BlockStatusSucceeded,
					outputs: outputs, attempts: attempt, durationMs: elapsed,
				}
			}
		}
		lastErr = rerr

		engErr := asEngineError(def.ID, rerr)
		if errors.Is(rerr, context.Canceled) || engErr.Code == schema.ErrCodeCancelled {
			return &blockOutcome{blockID: def.ID, status: schema.BlockStatusCancelled, err: engErr, attempts: attempt}
		}
		if !IsRetryableError(rerr) || attempt >= maxAttempts {
			break
		}

		delay := ComputeBackoff(policy, attempt)
		log.Warn("block attempt failed, retrying", "attempt", attempt, "backoff", delay.String(), "error", rerr)
		if terr := TransitionBlock(ctx, s.events, run.ID, def.ID, schema.BlockStatusRunning, schema.BlockStatusReady,
			map[string]any{"attempt": attempt + 1, "max_attempts": maxAttempts, "error": engErr.Message}); terr != nil {
			return s.failedOutcome(def.ID, attempt, elapsed, terr)
		}
		_ = s.store.UpsertBlockState(ctx, &store.BlockState{
			RunID: run.ID, BlockID: def.ID, Status: schema.BlockStatusReady, Attempts: attempt,
		})
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return &blockOutcome{blockID: def.ID, status: schema.BlockStatusCancelled,
				err: asEngineError(def.ID, werr), attempts: attempt}
		}
	}

	finalErr := asEngineError(def.ID, lastErr)
	if maxAttempts > 1 && attempt >= maxAttempts && IsRetryableError(lastErr) {
		finalErr = schema.NewErrorf(schema.ErrCodeRetryExhausted, "retries exhausted after %d attempts: %s",
			attempt, finalErr.Message).WithBlock(def.ID).WithCause(lastErr)
	}
	log.Error("block failed", "attempt", attempt, "error", finalErr)
	return s.failedOutcome(def.ID, attempt, elapsed, finalErr)
}

// runAttempt executes one attempt, locally or on the block's target remote.
func (s *Scheduler) runAttempt(ctx context.Context, run *store.Run, def *schema.BlockDefinition,
	blk blocks.Block, params json.RawMessage, scope *expressions.InterpolationScope, attempt int) (map[string]any, error) {

	if def.Timeout != "" {
		if dur, err := time.ParseDuration(def.Timeout); err == nil && dur > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, dur)
			defer cancel()
		}
	}

	if def.Target != "" {
		return s.runRemote(ctx, run, def, blk, params, attempt)
	}

	return blk.Execute(ctx, blocks.Input{
		BlockID: def.ID,
		RunID:   run.ID,
		Params:  params,
		Scope:   scope.CELData(),
	})
}

// runRemote offloads one attempt to the block's target via the remote
// manager, polling the handle until it settles and retrieving any declared
// downloads afterwards.
func (s *Scheduler) runRemote(ctx context.Context, run *store.Run, def *schema.BlockDefinition,
	blk blocks.Block, params json.RawMessage, attempt int) (map[string]any, error) {

	if s.cfg.Remotes == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"block %s targets remote %q but no remotes are configured", def.ID, def.Target).WithBlock(def.ID)
	}
	off, ok := blk.(blocks.Offloadable)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"block type %q cannot run on a remote target", def.Type).WithBlock(def.ID)
	}

	rc, err := off.RemoteCommand(params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	handle, err := s.cfg.Remotes.Dispatch(ctx, def.Target, remote.DispatchSpec{
		RunID:     run.ID,
		BlockID:   def.ID,
		Attempt:   attempt,
		Command:   rc.Command,
		Shell:     rc.Shell,
		Env:       rc.Env,
		Uploads:   rc.Uploads,
		Downloads: rc.Downloads,
		Inputs:    params,
	})
	if err != nil {
		if remote.IsAuthFailure(err) {
			s.emitRemoteEvent(run.ID, def.ID, def.Target, schema.EventRemoteAuthFailed, err.Error())
		}
		return nil, err
	}
	s.emitRemoteEvent(run.ID, def.ID, def.Target, schema.EventRemoteConnected, "")

	for {
		state, perr := handle.Poll(ctx, s.cfg.PollInterval)
		if perr != nil {
			_ = handle.Cancel(context.Background())
			return nil, perr
		}
		if state.Terminal() {
			break
		}
	}

	res, rerr := handle.Result()
	if rerr != nil {
		return nil, rerr
	}
	elapsed := time.Since(start).Milliseconds()
	if res.ExitCode != 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"remote command on %s exited with code %d", def.Target, res.ExitCode).
			WithBlock(def.ID).
			WithDetails(map[string]any{"exit_code": res.ExitCode, "stderr": res.Stderr})
	}

	outputs := blocks.CommandOutputs(res.Stdout, res.Stderr, res.ExitCode, elapsed)

	if len(rc.Downloads) > 0 {
		localDir := filepath.Join(s.cfg.ArtifactDir, run.ID, def.ID)
		s.emitRemoteEvent(run.ID, def.ID, def.Target, schema.EventTransferStarted,
			fmt.Sprintf("%d files", len(rc.Downloads)))
		if derr := handle.Retrieve(ctx, rc.Downloads, localDir); derr != nil {
			s.emitRemoteEvent(run.ID, def.ID, def.Target, schema.EventTransferFailed, derr.Error())
			return nil, schema.NewErrorf(schema.ErrCodeTransfer, "retrieve artifacts from %s: %s",
				def.Target, derr.Error()).WithBlock(def.ID).WithCause(derr)
		}
		s.emitRemoteEvent(run.ID, def.ID, def.Target, schema.EventTransferCompleted, localDir)
		outputs["artifact_dir"] = localDir
	}

	return outputs, nil
}

// applyTransform reshapes block outputs with the block's jq expression.
// A non-object result lands under the "value" key.
func (s *Scheduler) applyTransform(ctx context.Context, def *schema.BlockDefinition, outputs map[string]any) (map[string]any, error) {
	v, err := s.jq.EvaluateNormalized(ctx, def.Transform, outputs)
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": v}, nil
}

// emitRemoteEvent records a remote lifecycle event. Event emission failures
// never fail the block.
func (s *Scheduler) emitRemoteEvent(runID, blockID, target, eventType, detail string) {
	var payload json.RawMessage
	if detail != "" {
		payload, _ = json.Marshal(map[string]string{"detail": detail})
	}
	_ = s.events.AppendEvent(context.Background(), &store.Event{
		RunID:   runID,
		BlockID: blockID,
		Type:    eventType,
		Remote:  target,
		Payload: payload,
	})
}

func (s *Scheduler) failedOutcome(blockID string, attempts int, durationMs int64, err error) *blockOutcome {
	return &blockOutcome{
		blockID:    blockID,
		status:     schema.BlockStatusFailed,
		err:        asEngineError(blockID, err),
		attempts:   attempts,
		durationMs: durationMs,
	}
}

// asEngineError coerces any error into an EngineError tagged with the block.
func asEngineError(blockID string, err error) *schema.EngineError {
	if err == nil {
		return schema.NewError(schema.ErrCodeExecution, "block failed").WithBlock(blockID)
	}
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		if engErr.BlockID == "" {
			return engErr.WithBlock(blockID)
		}
		return engErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "block timed out").WithBlock(blockID).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s", err.Error()).WithBlock(blockID).WithCause(err)
}
