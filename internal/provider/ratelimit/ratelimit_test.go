package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SecondCallDelayed(t *testing.T) {
	t.Parallel()

	interval := 80 * time.Millisecond
	g := NewGate(interval)

	// First call passes immediately.
	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	require.Less(t, time.Since(start), interval)

	// Second call within the interval must be delayed by at least the
	// remainder of it.
	start = time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), interval-10*time.Millisecond)
}

func TestGate_ZeroIntervalNeverBlocks(t *testing.T) {
	t.Parallel()

	g := NewGate(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestGate_ContextCancelAbortsWait(t *testing.T) {
	t.Parallel()

	g := NewGate(5 * time.Second)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_IndependentGatesDoNotInterfere(t *testing.T) {
	t.Parallel()

	a := NewGate(time.Hour)
	b := NewGate(10 * time.Millisecond)
	require.NoError(t, a.Wait(context.Background()))

	// Gate b has its own last-call state and is unaffected by a's.
	start := time.Now()
	require.NoError(t, b.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTokenBucket_BurstThenPaced(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(20, 2) // 20/s, burst 2

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), 40*time.Millisecond, "burst should not block")

	// Third call needs a refill (~50ms at 20/s).
	start = time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestFromLimits_RPMSelectsTokenBucket(t *testing.T) {
	t.Parallel()

	l := FromLimits(time.Second, 120, 3)
	require.IsType(t, &TokenBucket{}, l)

	// Burst admits back-to-back calls that a min-interval gate would
	// have spaced out.
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestFromLimits_NoRPMSelectsGate(t *testing.T) {
	t.Parallel()

	l := FromLimits(50*time.Millisecond, 0, 0)
	require.IsType(t, &Gate{}, l)

	require.NoError(t, l.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestTokenBucket_ContextCancel(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(0.001, 1)
	require.NoError(t, tb.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}
