package remote

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/temple-compute/horus/pkg/schema"
)

// Handle tracks one dispatched block attempt on a remote target. State moves
// Dispatched → Running → Succeeded/Failed/Cancelled; waiters block on the
// done channel instead of polling the remote.
type Handle struct {
	RunID   string
	BlockID string
	Attempt int
	Remote  string
	WorkDir string

	client  Client
	process Process

	mu     sync.Mutex
	state  HandleState
	result *Result
	err    error
	done   chan struct{}
}

func newHandle(spec DispatchSpec, remote, workdir string, client Client) *Handle {
	return &Handle{
		RunID:   spec.RunID,
		BlockID: spec.BlockID,
		Attempt: spec.Attempt,
		Remote:  remote,
		WorkDir: workdir,
		client:  client,
		state:   HandleDispatched,
		done:    make(chan struct{}),
	}
}

// run transitions to Running and waits for the process to finish.
func (h *Handle) run(p Process) {
	h.mu.Lock()
	h.process = p
	h.state = HandleRunning
	h.mu.Unlock()

	go func() {
		result, err := p.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.state == HandleCancelled {
			close(h.done)
			return
		}
		h.result = result
		h.err = err
		if err != nil || (result != nil && result.ExitCode != 0) {
			h.state = HandleFailed
		} else {
			h.state = HandleSucceeded
		}
		close(h.done)
	}()
}

// State returns the handle's current state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Poll waits up to timeout for the attempt to reach a terminal state.
// It returns the current state; callers inspect Result or Err afterwards.
func (h *Handle) Poll(ctx context.Context, timeout time.Duration) (HandleState, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return h.State(), nil
	case <-timer.C:
		return h.State(), nil
	case <-ctx.Done():
		return h.State(), schema.NewError(schema.ErrCodeCancelled, "poll cancelled").WithCause(ctx.Err())
	}
}

// Wait blocks until the attempt reaches a terminal state or ctx is done.
func (h *Handle) Wait(ctx context.Context) (HandleState, error) {
	select {
	case <-h.done:
		return h.State(), nil
	case <-ctx.Done():
		return h.State(), schema.NewError(schema.ErrCodeCancelled, "wait cancelled").WithCause(ctx.Err())
	}
}

// Result returns the remote command's result once terminal.
func (h *Handle) Result() (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case HandleSucceeded, HandleFailed:
		return h.result, h.err
	case HandleCancelled:
		return nil, schema.NewErrorf(schema.ErrCodeCancelled, "block %s attempt %d was cancelled", h.BlockID, h.Attempt)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "block %s attempt %d still %s", h.BlockID, h.Attempt, h.state)
	}
}

// Retrieve downloads the listed remote paths into localDir. A partial
// transfer failure aborts and surfaces as TRANSFER_ERROR.
func (h *Handle) Retrieve(ctx context.Context, downloads []string, localDir string) error {
	for _, remotePath := range downloads {
		src := remotePath
		if !path.IsAbs(src) {
			src = path.Join(h.WorkDir, src)
		}
		dst := path.Join(localDir, path.Base(remotePath))
		if err := h.client.Download(ctx, src, dst); err != nil {
			return err
		}
	}
	return nil
}

// Cancel kills the remote process and removes the attempt workdir,
// best-effort. The handle ends Cancelled even if the remote is unreachable.
func (h *Handle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return nil
	}
	prev := h.state
	h.state = HandleCancelled
	p := h.process
	h.mu.Unlock()

	var killErr error
	if p != nil {
		killErr = p.Kill()
	}
	if prev == HandleDispatched {
		// No process started; nothing is going to close done for us.
		close(h.done)
	}

	cleanupErr := h.client.RemoveAll(ctx, h.WorkDir)

	if killErr != nil {
		return schema.NewErrorf(schema.ErrCodeConnection, "cancel block %s: %v", h.BlockID, killErr).WithCause(killErr)
	}
	return cleanupErr
}
