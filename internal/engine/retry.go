package engine

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/temple-compute/horus/internal/remote"
	"github.com/temple-compute/horus/pkg/schema"
)

// DefaultRetryPolicy applies when a block declares no retry policy.
var DefaultRetryPolicy = schema.RetryPolicy{Max: 3, Backoff: "exponential", Delay: "1s"}

// maxBackoff caps the computed delay regardless of policy.
const maxBackoff = 30 * time.Second

// IsRetryableError classifies whether a block error warrants another attempt.
// Typed engine errors carry their own retryability (connection, transfer and
// timeout codes). Validation, interpolation and plain execution failures are
// deterministic and never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Block timeout is retryable; run cancellation is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// An auth failure latches the remote's breaker; further attempts can
	// only bounce off it.
	if remote.IsAuthFailure(err) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// ComputeBackoff calculates the delay before retry attempt n (1-based: the
// delay applied after the n-th failed attempt).
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		policy = &DefaultRetryPolicy
	}
	if policy.Delay == "" || policy.Backoff == "none" {
		if policy.Backoff == "none" {
			return 0
		}
		policy = &schema.RetryPolicy{Max: policy.Max, Backoff: policy.Backoff, Delay: DefaultRetryPolicy.Delay}
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch policy.Backoff {
	case "linear":
		delay = base * time.Duration(attempt)
	case "", "exponential":
		delay = base
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= maxBackoff {
				break
			}
		}
	default:
		delay = base
	}

	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// WaitForBackoff sleeps for the given delay or returns early if the context
// is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryPolicyFor returns the effective retry policy for a block definition.
func retryPolicyFor(def *schema.BlockDefinition, fallback *schema.RetryPolicy) *schema.RetryPolicy {
	if def != nil && def.Retry != nil {
		return def.Retry
	}
	if fallback != nil {
		return fallback
	}
	return &DefaultRetryPolicy
}
