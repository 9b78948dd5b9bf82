// Package ratelimit implements a leaky-bucket admission gate over persisted
// per-subject state, so instances sharing one backing store enforce a single
// limit. Contention on the bucket row is resolved by a bounded optimistic
// compare-and-swap loop rather than a lock.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/store"
)

const casAttempts = 5

// Limiter admits at most Capacity requests per subject while the bucket
// drains at LeakPerSecond.
type Limiter struct {
	Capacity      float64
	LeakPerSecond float64

	// now is swappable for tests; defaults to time.Now.
	now func() time.Time
}

func NewLimiter(capacity, leakPerSecond float64) *Limiter {
	return &Limiter{Capacity: capacity, LeakPerSecond: leakPerSecond, now: time.Now}
}

// WithClock returns a copy of the limiter using clock for the current time.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	copied := *l
	copied.now = clock
	return &copied
}

// AssertAllowed admits one request for subject or fails with RateLimited
// carrying retryAfterSeconds. State is created lazily; losing the creation
// race or a CAS swap retries the read path, up to the attempt bound.
func (l *Limiter) AssertAllowed(ctx context.Context, st store.Store, subject string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		now := l.now()

		state, err := st.GetBucketState(ctx, subject)
		if errors.Is(err, store.ErrNotFound) {
			inserted, err := l.tryInsert(ctx, st, subject, now)
			if err != nil {
				return err
			}
			if inserted {
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("rate limiter read failed: %w", err)
		}

		elapsed := now.Sub(state.LastLeakAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		current := math.Max(0, state.WaterLevel-l.LeakPerSecond*elapsed)
		next := current + 1

		if next > l.Capacity {
			retryAfter := int(math.Ceil((next - l.Capacity) / l.LeakPerSecond))
			if retryAfter < 1 {
				retryAfter = 1
			}
			return domain.NewRateLimited("Rate limit exceeded", retryAfter)
		}

		swapped, err := st.UpdateBucketStateCAS(ctx, subject, state.Version, next, now)
		if err != nil {
			return fmt.Errorf("rate limiter update failed: %w", err)
		}
		if swapped {
			return nil
		}
	}

	return domain.NewInternal("Rate limiter busy, please retry")
}

func (l *Limiter) tryInsert(ctx context.Context, st store.Store, subject string, now time.Time) (bool, error) {
	err := st.InsertBucketState(ctx, &domain.BucketState{
		Subject:    subject,
		WaterLevel: 1,
		LastLeakAt: now,
		Version:    0,
		UpdatedAt:  now,
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rate limiter insert failed: %w", err)
	}
	return true, nil
}

// TransferSubject names the bucket consulted before a transfer debits the
// source account.
func TransferSubject(accountID string) string {
	return "account:" + accountID + ":op:transfer"
}
