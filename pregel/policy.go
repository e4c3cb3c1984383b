package pregel

import (
	"math/rand"
	"time"
)

// NodePolicy configures the execution behavior for a specific node: timeout,
// retry, and idempotency key generation.
//
// Policies are attached to nodes; the Runner applies Timeout and
// RetryPolicy. Zero values fall back to the run's defaults.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for each attempt of
	// this node. If zero, the run's step timeout (WithStepTimeout) applies.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, no retries are attempted.
	RetryPolicy *RetryPolicy

	// IdempotencyKeyFunc generates a custom idempotency key from the state.
	// The Runner does not call it: a completed task's persisted writes are
	// matched by its task ID, derived from node, step and sorted triggers.
	IdempotencyKeyFunc func(state any) string
}

// RetryPolicy defines automatic retry configuration for transient node failures.
//
// When a node execution fails, the retry policy determines whether the failure.
// is retryable and how long to wait before the next attempt. Exponential backoff.
// with jitter is used to avoid thundering herd problems.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including initial attempt).
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The actual delay is computed as: min(BaseDelay * 2^attempt, MaxDelay) + jitter,
	// with jitter in [0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay is the maximum delay cap for exponential backoff.
	// Must be >= BaseDelay; zero means no cap.
	MaxDelay time.Duration

	// Retryable is a predicate function that determines if an error is retryable.
	// If nil, all errors are considered non-retryable.
	// Common patterns:
	// - Network errors: temporary, connection refused, timeout.
	// - HTTP 429, 503, 504.
	// - Database deadlocks.
	Retryable func(error) bool
}

// SideEffectPolicy declares the external I/O characteristics of a node, for
// emitters and tracing sinks that want to distinguish deterministic nodes
// from ones touching the outside world.
type SideEffectPolicy struct {
	// Recordable indicates this node's output is a function of its input
	// alone (an LLM call, say) and can be cached or replayed rather than
	// re-executed.
	Recordable bool

	// RequiresIdempotency indicates this node needs an idempotency key to
	// guarantee exactly-once effects — database writes, payments,
	// notifications. If true, NodePolicy.IdempotencyKeyFunc must be set.
	RequiresIdempotency bool
}

// computeBackoff returns the delay before the next retry attempt:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = delay before the first retry). jitter spreads
// concurrent nodes' retries out to avoid a thundering herd against the same
// downstream service.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}
	if base <= 0 {
		return exponentialDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing jitter, not security-sensitive
	}

	return exponentialDelay + jitter
}

// Validate checks if the RetryPolicy configuration is valid.
// Returns an error if any constraints are violated:
//   - MaxAttempts must be >= 1 (1 means no retries, just initial attempt)
//   - If both MaxDelay and BaseDelay are > 0, then MaxDelay must be >= BaseDelay
//     (MaxDelay == 0 is treated as "no maximum delay cap")
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}
