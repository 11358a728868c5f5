// Package ratelimit paces calls to upstream APIs. Each provider owns its
// own limiter state; no global coordination is attempted.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter blocks the caller until it may proceed, or until ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Gate enforces a minimum time between calls tagged with the same
// provider. A caller that arrives while another is waiting simply
// computes its own wait from the (possibly just-updated) last-call
// timestamp; exact mutual exclusion is not required, only approximate
// pacing.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Wait blocks until at least the configured interval has elapsed since
// the previous recorded call, then records now as the new last-call time.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil || g.interval <= 0 {
		return nil
	}
	g.mu.Lock()
	wait := time.Until(g.last.Add(g.interval))
	g.mu.Unlock()
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	g.mu.Lock()
	g.last = time.Now()
	g.mu.Unlock()
	return nil
}

// FromLimits picks the limiter style for a provider: a token bucket
// when a requests-per-minute budget is configured, otherwise a
// min-interval gate. A provider with neither gets a Gate that never
// blocks.
func FromLimits(minInterval time.Duration, rpm, burst int) Limiter {
	if rpm > 0 {
		return NewTokenBucket(float64(rpm)/60.0, burst)
	}
	return NewGate(minInterval)
}

// None is a pass-through limiter for providers without pacing.
type None struct{}

func (None) Wait(context.Context) error { return nil }
