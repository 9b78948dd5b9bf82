package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/transfer-engine/internal/domain"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, "a", decimal.RequireFromString("100.00"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.DebitAccount(ctx, "a", decimal.RequireFromString("30.00")); err != nil {
			return err
		}
		if err := tx.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID: "e1", FromAccountID: "a", ToAccountID: "b",
			Amount: decimal.RequireFromString("30.00"), IdempotencyKey: "k", CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	account, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "100.00", domain.FormatAmount(account.Balance))

	_, err = m.GetLedgerEntry(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithinTxCommits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, "a", decimal.RequireFromString("100.00"))
	require.NoError(t, err)

	err = m.WithinTx(ctx, func(tx Store) error {
		_, err := tx.DebitAccount(ctx, "a", decimal.RequireFromString("30.00"))
		return err
	})
	require.NoError(t, err)

	account, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "70.00", domain.FormatAmount(account.Balance))
}

func TestLedgerEntryUniquePerSourceAndKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	entry := &domain.LedgerEntry{
		ID: "e1", FromAccountID: "a", ToAccountID: "b",
		Amount: decimal.RequireFromString("1.00"), IdempotencyKey: "k", CreatedAt: time.Now(),
	}
	require.NoError(t, m.InsertLedgerEntry(ctx, entry))

	dup := *entry
	dup.ID = "e2"
	assert.ErrorIs(t, m.InsertLedgerEntry(ctx, &dup), ErrDuplicateKey)
}

func TestBucketStateCAS(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.InsertBucketState(ctx, &domain.BucketState{
		Subject: "s", WaterLevel: 1, LastLeakAt: now, Version: 0, UpdatedAt: now,
	}))

	swapped, err := m.UpdateBucketStateCAS(ctx, "s", 0, 2, now)
	require.NoError(t, err)
	assert.True(t, swapped)

	// Stale version loses.
	swapped, err = m.UpdateBucketStateCAS(ctx, "s", 0, 3, now)
	require.NoError(t, err)
	assert.False(t, swapped)

	state, err := m.GetBucketState(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2.0, state.WaterLevel)
	assert.Equal(t, int64(1), state.Version)
}
