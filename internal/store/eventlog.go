package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temple-compute/horus/pkg/schema"
)

// Projection is the state of a run reconstructed from its event log.
type Projection struct {
	RunID        string
	Status       schema.RunStatus
	Blocks       map[string]*BlockState
	LastSequence int64
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Error        json.RawMessage
}

// blockEventPayload carries the block-level fields emitted with lifecycle events.
type blockEventPayload struct {
	Outputs    json.RawMessage `json:"outputs,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// Replay reconstructs a run's state by folding its event log in sequence
// order. It validates that sequences are contiguous starting at 1; a gap
// means the log was corrupted or partially written and the run cannot be
// safely resumed.
func Replay(ctx context.Context, s Store, runID string) (*Projection, error) {
	events, err := s.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no events for run %q", runID)
	}

	p := &Projection{
		RunID:  runID,
		Status: schema.RunStatusInitializing,
		Blocks: make(map[string]*BlockState),
	}

	for i, e := range events {
		want := int64(i) + 1
		if e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"event log for run %q has a sequence gap: expected %d, got %d", runID, want, e.Sequence)
		}
		p.apply(e)
		p.LastSequence = e.Sequence
	}
	return p, nil
}

func (p *Projection) apply(e *Event) {
	switch e.Type {
	case schema.EventRunStarted, schema.EventRunResumed:
		p.Status = schema.RunStatusRunning
		if p.StartedAt == nil {
			t := e.Timestamp
			p.StartedAt = &t
		}
	case schema.EventRunCompleted:
		p.Status = schema.RunStatusCompleted
		t := e.Timestamp
		p.CompletedAt = &t
	case schema.EventRunFailed:
		p.Status = schema.RunStatusFailed
		t := e.Timestamp
		p.CompletedAt = &t
		p.Error = e.Payload
	case schema.EventRunCancelled:
		p.Status = schema.RunStatusCancelled
		t := e.Timestamp
		p.CompletedAt = &t

	case schema.EventBlockReady:
		p.block(e).Status = schema.BlockStatusReady
	case schema.EventBlockStarted:
		bs := p.block(e)
		bs.Status = schema.BlockStatusRunning
		t := e.Timestamp
		bs.StartedAt = &t
		if bs.Attempts == 0 {
			bs.Attempts = 1
		}
	case schema.EventBlockSucceeded:
		bs := p.block(e)
		bs.Status = schema.BlockStatusSucceeded
		t := e.Timestamp
		bs.CompletedAt = &t
		var payload blockEventPayload
		if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &payload) == nil {
			bs.Outputs = payload.Outputs
			bs.DurationMs = payload.DurationMs
		}
	case schema.EventBlockFailed:
		bs := p.block(e)
		bs.Status = schema.BlockStatusFailed
		t := e.Timestamp
		bs.CompletedAt = &t
		var payload blockEventPayload
		if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &payload) == nil {
			bs.Error = payload.Error
			bs.DurationMs = payload.DurationMs
		}
	case schema.EventBlockSkipped:
		p.block(e).Status = schema.BlockStatusSkipped
	case schema.EventBlockCancelled:
		p.block(e).Status = schema.BlockStatusCancelled
	case schema.EventBlockRetrying:
		bs := p.block(e)
		bs.Status = schema.BlockStatusReady
		var payload blockEventPayload
		if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &payload) == nil && payload.Attempt > 0 {
			bs.Attempts = payload.Attempt
		} else {
			bs.Attempts++
		}
	}
}

func (p *Projection) block(e *Event) *BlockState {
	bs, ok := p.Blocks[e.BlockID]
	if !ok {
		bs = &BlockState{RunID: p.RunID, BlockID: e.BlockID, Status: schema.BlockStatusPending}
		p.Blocks[e.BlockID] = bs
	}
	return bs
}

// TerminalBlocks returns the IDs of blocks whose replayed status is terminal.
func (p *Projection) TerminalBlocks() []string {
	var ids []string
	for id, bs := range p.Blocks {
		if bs.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
