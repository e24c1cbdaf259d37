package remote

import (
	"sync"
	"time"

	"github.com/temple-compute/horus/pkg/schema"
)

// BreakerState represents the state of a remote's circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota // normal operation
	BreakerOpen                       // failing, rejecting dispatches
	BreakerLatched                    // auth failure, open until reset
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerLatched:
		return "latched"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-remote failure handling.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive connection failures
	// before the breaker opens.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before allowing another
	// connection attempt. A latched breaker ignores the cooldown.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// breaker tracks failure state for a single remote. Transient connection
// failures open it for a cooldown; an authentication failure latches it open
// until an explicit Reset (fresh credentials imply operator action).
type breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time
	config              BreakerConfig
}

// BreakerRegistry manages per-remote breakers.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
	}
}

// Allow checks whether a connection to the remote is permitted. Returns nil
// if allowed, or an EngineError describing why the breaker rejected it.
func (r *BreakerRegistry) Allow(remote string) error {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.config.Cooldown {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeRemoteUnavailable,
			"remote %q unavailable: %d consecutive connection failures, cooling down", remote, b.consecutiveFailures).
			WithDetails(map[string]any{
				"remote":               remote,
				"consecutive_failures": b.consecutiveFailures,
				"state":                b.state.String(),
				"cooldown_remaining":   (b.config.Cooldown - time.Since(b.lastFailure)).String(),
			})

	case BreakerLatched:
		return schema.NewErrorf(schema.ErrCodeRemoteUnavailable,
			"remote %q unavailable: authentication failed, manual reset required", remote).
			WithDetails(map[string]any{
				"remote": remote,
				"state":  b.state.String(),
			})
	}

	return nil
}

// RecordSuccess records a successful connection. A latched breaker stays
// latched; connection success cannot clear an auth failure.
func (r *BreakerRegistry) RecordSuccess(remote string) {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerLatched {
		return
	}
	b.consecutiveFailures = 0
	b.state = BreakerClosed
}

// RecordFailure records a failed connection attempt. Returns the new state.
func (r *BreakerRegistry) RecordFailure(remote string) BreakerState {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerLatched {
		return BreakerLatched
	}

	b.consecutiveFailures++
	b.lastFailure = time.Now()
	if b.consecutiveFailures >= b.config.FailureThreshold {
		b.state = BreakerOpen
	}
	return b.state
}

// Latch opens the breaker permanently for the remote (auth failure).
func (r *BreakerRegistry) Latch(remote string) {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerLatched
	b.lastFailure = time.Now()
}

// Reset closes the breaker for the remote, clearing a latch.
func (r *BreakerRegistry) Reset(remote string) {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFailures = 0
}

// State returns the current breaker state for a remote.
func (r *BreakerRegistry) State(remote string) BreakerState {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns diagnostic information about a remote's breaker.
func (r *BreakerRegistry) Stats(remote string) map[string]any {
	b := r.getOrCreate(remote)
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]any{
		"remote":               remote,
		"state":                b.state.String(),
		"consecutive_failures": b.consecutiveFailures,
		"failure_threshold":    b.config.FailureThreshold,
		"cooldown":             b.config.Cooldown.String(),
	}
}

func (r *BreakerRegistry) getOrCreate(remote string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[remote]
	if !ok {
		b = &breaker{
			state:  BreakerClosed,
			config: r.config,
		}
		r.breakers[remote] = b
	}
	return b
}
