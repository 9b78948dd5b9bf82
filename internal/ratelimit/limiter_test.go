package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/store"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestAssertAllowedRejectsOverCapacity(t *testing.T) {
	st := store.NewMemory()
	now := time.Now()
	limiter := NewLimiter(3, 1).WithClock(fixedClock(now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.AssertAllowed(ctx, st, "account:a:op:transfer"), "request %d", i+1)
	}

	err := limiter.AssertAllowed(ctx, st, "account:a:op:transfer")
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindRateLimited, de.Kind)
	assert.GreaterOrEqual(t, de.RetryAfterSeconds, 1)
}

func TestAssertAllowedLeaksOverTime(t *testing.T) {
	st := store.NewMemory()
	now := time.Now()
	limiter := NewLimiter(2, 1)
	ctx := context.Background()

	clocked := limiter.WithClock(fixedClock(now))
	require.NoError(t, clocked.AssertAllowed(ctx, st, "account:b:op:transfer"))
	require.NoError(t, clocked.AssertAllowed(ctx, st, "account:b:op:transfer"))
	require.Error(t, clocked.AssertAllowed(ctx, st, "account:b:op:transfer"))

	// After 2 seconds the bucket has fully drained.
	later := limiter.WithClock(fixedClock(now.Add(2 * time.Second)))
	require.NoError(t, later.AssertAllowed(ctx, st, "account:b:op:transfer"))
}

func TestAssertAllowedSubjectsAreIndependent(t *testing.T) {
	st := store.NewMemory()
	now := time.Now()
	limiter := NewLimiter(1, 1).WithClock(fixedClock(now))
	ctx := context.Background()

	require.NoError(t, limiter.AssertAllowed(ctx, st, TransferSubject("a")))
	require.Error(t, limiter.AssertAllowed(ctx, st, TransferSubject("a")))
	require.NoError(t, limiter.AssertAllowed(ctx, st, TransferSubject("b")))
}

func TestAssertAllowedRetryAfterScalesWithLeakRate(t *testing.T) {
	st := store.NewMemory()
	now := time.Now()
	// Leak of 0.5/s: one unit over capacity needs 2 seconds to drain.
	limiter := NewLimiter(1, 0.5).WithClock(fixedClock(now))
	ctx := context.Background()

	require.NoError(t, limiter.AssertAllowed(ctx, st, "s"))

	err := limiter.AssertAllowed(ctx, st, "s")
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.RetryAfterSeconds)
}

func TestAssertAllowedCreatesStateLazily(t *testing.T) {
	st := store.NewMemory()
	now := time.Now()
	limiter := NewLimiter(5, 1).WithClock(fixedClock(now))
	ctx := context.Background()

	_, err := st.GetBucketState(ctx, "fresh")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, limiter.AssertAllowed(ctx, st, "fresh"))

	state, err := st.GetBucketState(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1.0, state.WaterLevel)
	assert.Equal(t, int64(0), state.Version)
}
