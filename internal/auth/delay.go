package auth

import (
	"context"
	"time"
)

// DelayConfig holds configuration for progressive delays
type DelayConfig struct {
	Base time.Duration // delay applied at the second prior failure
	Max  time.Duration // hard cap on any computed delay
}

// ProgressiveDelay slows repeated authentication failures with an
// exponentially growing pause. It is the guard's explicit suspension point:
// the request waits before responding but holds no database resources.
type ProgressiveDelay struct {
	config DelayConfig
}

// NewProgressiveDelay creates a new ProgressiveDelay
func NewProgressiveDelay(config DelayConfig) *ProgressiveDelay {
	return &ProgressiveDelay{config: config}
}

// DelayFor computes the pause for a subject with the given prior failure
// count: 0 or 1 failures → no delay; otherwise base × 2^(attempts−1), capped.
// Pure function, monotonically non-decreasing in attempts.
func (pd *ProgressiveDelay) DelayFor(priorFailures int) time.Duration {
	if priorFailures <= 1 {
		return 0
	}

	delay := pd.config.Base
	for i := 1; i < priorFailures; i++ {
		delay *= 2
		if delay >= pd.config.Max {
			return pd.config.Max
		}
	}

	if delay > pd.config.Max {
		return pd.config.Max
	}
	return delay
}

// Wait pauses for the computed delay. Returns early if the caller abandons
// the request; accounting writes are the caller's responsibility and must not
// depend on the wait completing.
func (pd *ProgressiveDelay) Wait(ctx context.Context, priorFailures int) {
	delay := pd.DelayFor(priorFailures)
	if delay == 0 {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
