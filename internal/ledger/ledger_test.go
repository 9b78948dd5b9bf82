package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/store"
)

func newAccount(t *testing.T, st *store.Memory, id, balance string) {
	t.Helper()
	_, err := st.CreateAccount(context.Background(), id, decimal.RequireFromString(balance))
	require.NoError(t, err)
}

func TestDebitAndCreditConserveValue(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	newAccount(t, st, "src", "100.00")
	newAccount(t, st, "dst", "5.00")

	amount := decimal.RequireFromString("40.25")

	debited, err := Debit(ctx, st, "src", amount)
	require.NoError(t, err)
	assert.Equal(t, "59.75", domain.FormatAmount(debited.Balance))

	credited, err := Credit(ctx, st, "dst", amount)
	require.NoError(t, err)
	assert.Equal(t, "45.25", domain.FormatAmount(credited.Balance))
}

func TestDebitBumpsVersion(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	newAccount(t, st, "src", "10.00")

	before, err := st.GetAccount(ctx, "src")
	require.NoError(t, err)

	after, err := Debit(ctx, st, "src", decimal.RequireFromString("1.00"))
	require.NoError(t, err)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestDebitInsufficientFunds(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	newAccount(t, st, "src", "10.00")

	_, err := Debit(ctx, st, "src", decimal.RequireFromString("10.01"))
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientFunds, domain.KindOf(err))

	// The failed debit left the balance untouched.
	account, err := st.GetAccount(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, "10.00", domain.FormatAmount(account.Balance))
}

func TestDebitInactiveAccount(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	newAccount(t, st, "src", "100.00")
	require.NoError(t, st.SetAccountStatus("src", domain.AccountInactive))

	_, err := Debit(ctx, st, "src", decimal.RequireFromString("1.00"))
	assert.Equal(t, domain.KindAccountInactive, domain.KindOf(err))
}

func TestDebitUnknownAccount(t *testing.T) {
	st := store.NewMemory()

	_, err := Debit(context.Background(), st, "missing", decimal.RequireFromString("1.00"))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCreditInactiveAccount(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	newAccount(t, st, "dst", "0.00")
	require.NoError(t, st.SetAccountStatus("dst", domain.AccountInactive))

	_, err := Credit(ctx, st, "dst", decimal.RequireFromString("1.00"))
	assert.Equal(t, domain.KindAccountInactive, domain.KindOf(err))
}

func TestCreditUnknownAccount(t *testing.T) {
	st := store.NewMemory()

	_, err := Credit(context.Background(), st, "missing", decimal.RequireFromString("1.00"))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
