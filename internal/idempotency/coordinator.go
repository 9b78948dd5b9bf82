// Package idempotency maps a client-supplied key to a single execution
// outcome. A record moves ABSENT -> PENDING -> COMPLETED, or back to ABSENT
// when a reservation is released; no other transition exists.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/store"
)

const (
	pollAttempts = 8
	pollInterval = 25 * time.Millisecond
)

// Coordinator mediates concurrent duplicate requests through the store's
// unique (source_account_id, key) index.
type Coordinator struct {
	ttl   time.Duration
	sleep func(context.Context, time.Duration) error
}

func NewCoordinator(ttl time.Duration) *Coordinator {
	return &Coordinator{ttl: ttl, sleep: sleepCtx}
}

// Find returns the record for (sourceAccountID, key), or store.ErrNotFound.
func (c *Coordinator) Find(ctx context.Context, st store.Store, sourceAccountID, key string) (*domain.IdempotencyRecord, error) {
	return st.GetIdempotencyRecord(ctx, sourceAccountID, key)
}

// Reserve atomically inserts a PENDING record. On success the caller is the
// sole executor; a pre-existing record comes back with ok=false and control
// passes to Replay.
func (c *Coordinator) Reserve(ctx context.Context, st store.Store, sourceAccountID, key, requestHash string) (*domain.IdempotencyRecord, bool, error) {
	now := time.Now()
	record := &domain.IdempotencyRecord{
		ID:              uuid.NewString(),
		SourceAccountID: sourceAccountID,
		Key:             key,
		RequestHash:     requestHash,
		Status:          domain.IdempotencyPending,
		ExpiresAt:       now.Add(c.ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := st.InsertIdempotencyRecord(ctx, record)
	if err == nil {
		return record, true, nil
	}
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, err := st.GetIdempotencyRecord(ctx, sourceAccountID, key)
		if errors.Is(err, store.ErrNotFound) {
			// The competing reservation was released between our insert and
			// this read.
			return nil, false, domain.NewConflict("Idempotency conflict")
		}
		if err != nil {
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("idempotency reservation failed: %w", err)
}

// Replay resolves a duplicate request against an existing record. A hash
// mismatch is a hard Conflict. While the record is PENDING it is polled a
// bounded number of times; once COMPLETED the stored payload is returned
// tagged as a replay. Exhausting the poll yields a retryable Conflict.
func (c *Coordinator) Replay(ctx context.Context, st store.Store, record *domain.IdempotencyRecord, requestHash string) (*domain.TransferReceipt, error) {
	if record.RequestHash != requestHash {
		return nil, domain.NewConflict("Idempotency key already used with different payload")
	}

	current := record
	for attempt := 0; attempt < pollAttempts; attempt++ {
		if current.Completed() {
			return c.decode(current, requestHash)
		}
		if !current.Pending() {
			break
		}

		if err := c.sleep(ctx, pollInterval); err != nil {
			return nil, err
		}

		refreshed, err := st.GetIdempotencyRecord(ctx, current.SourceAccountID, current.Key)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewConflict("Idempotency conflict")
		}
		if err != nil {
			return nil, fmt.Errorf("idempotency poll failed: %w", err)
		}
		current = refreshed
	}

	if current.Completed() {
		return c.decode(current, requestHash)
	}
	return nil, domain.NewConflict("Idempotency key is currently being processed. Retry with the same idempotency key")
}

// Finalize attaches the serialized receipt and flips the record to
// COMPLETED. It must run inside the same atomic unit as the ledger
// mutation it records.
func (c *Coordinator) Finalize(ctx context.Context, st store.Store, recordID string, receipt *domain.TransferReceipt) error {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return domain.NewInternal("Unable to persist idempotency payload")
	}
	if err := st.CompleteIdempotencyRecord(ctx, recordID, string(payload), time.Now()); err != nil {
		return fmt.Errorf("idempotency finalize failed: %w", err)
	}
	return nil
}

// Release deletes a reservation that never completed. The conditional
// delete (still PENDING, no payload, same hash) makes it safe to call even
// when another execution has since completed the record; a no-op is not an
// error.
func (c *Coordinator) Release(ctx context.Context, st store.Store, recordID, requestHash string) error {
	err := st.DeleteIdempotencyRecordIfPending(ctx, recordID, requestHash)
	if err == nil || errors.Is(err, store.ErrConditionFailed) {
		return nil
	}
	return fmt.Errorf("idempotency release failed: %w", err)
}

// PurgeExpired garbage-collects records past their TTL.
func (c *Coordinator) PurgeExpired(ctx context.Context, st store.Store) (int64, error) {
	return st.DeleteExpiredIdempotencyRecords(ctx, time.Now())
}

func (c *Coordinator) decode(record *domain.IdempotencyRecord, requestHash string) (*domain.TransferReceipt, error) {
	if record.RequestHash != requestHash {
		return nil, domain.NewConflict("Idempotency key already used with different payload")
	}

	var receipt domain.TransferReceipt
	if err := json.Unmarshal([]byte(record.ResponsePayload), &receipt); err != nil {
		return nil, domain.NewInternal("Idempotency replay payload is invalid")
	}
	receipt.IdempotentReplay = true
	return &receipt, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
