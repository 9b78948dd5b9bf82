// Package ledger exposes the atomic balance primitives. Debit and credit
// are single conditional mutations against the store, so concurrent
// operations on one account serialize through the store's conditional
// update instead of an in-process lock.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/store"
)

// Debit withdraws amount from the account. The store applies the mutation
// only if the account is ACTIVE and the balance covers the amount; when the
// condition fails the account is re-read once to tell NotFound,
// AccountInactive and InsufficientFunds apart.
func Debit(ctx context.Context, st store.Store, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	account, err := st.DebitAccount(ctx, accountID, amount)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrConditionFailed) {
		return nil, fmt.Errorf("debit %s: %w", accountID, err)
	}

	current, err := st.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewNotFound("Source account not found")
		}
		return nil, fmt.Errorf("debit %s: %w", accountID, err)
	}
	if current.Status != domain.AccountActive {
		return nil, domain.NewAccountInactive("Source account is inactive")
	}
	return nil, domain.NewInsufficientFunds("Insufficient funds")
}

// Credit deposits amount into the account; only ACTIVE accounts accept
// credits.
func Credit(ctx context.Context, st store.Store, accountID string, amount decimal.Decimal) (*domain.Account, error) {
	account, err := st.CreditAccount(ctx, accountID, amount)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrConditionFailed) {
		return nil, fmt.Errorf("credit %s: %w", accountID, err)
	}

	current, err := st.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewNotFound("Destination account not found")
		}
		return nil, fmt.Errorf("credit %s: %w", accountID, err)
	}
	if current.Status != domain.AccountActive {
		return nil, domain.NewAccountInactive("Destination account is inactive")
	}
	return nil, domain.NewNotFound("Destination account not found")
}
