package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corebank/transfer-engine/internal/domain"
)

// Storage-level sentinels. Callers classify these into domain errors; the
// store itself never speaks the domain error vocabulary.
var (
	// ErrNotFound is returned by reads when no row matches.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateKey is returned by inserts that violate a unique index.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrConditionFailed is returned by conditional updates and deletes
	// whose WHERE clause matched no row.
	ErrConditionFailed = errors.New("store: condition not met")

	// ErrTxConflict is returned when the backing store aborts a transaction
	// because of concurrent writes (serialization failure, deadlock).
	ErrTxConflict = errors.New("store: transaction conflict")
)

// Store is the persistence boundary for the transfer engine. Every method is
// an atomic step on its own; WithinTx groups steps into one all-or-nothing
// unit. Implementations must guarantee the conditional primitives carry no
// read-then-write race window.
type Store interface {
	// WithinTx runs fn against a transaction-scoped Store and commits only
	// if fn returns nil. A conflict detected at commit time surfaces as
	// ErrTxConflict.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	CreateAccount(ctx context.Context, id string, balance decimal.Decimal) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// DebitAccount decrements the balance and bumps the version in a single
	// conditional mutation: it matches only an ACTIVE account whose balance
	// covers the amount, and returns ErrConditionFailed otherwise. The
	// caller re-reads the account to find out why.
	DebitAccount(ctx context.Context, id string, amount decimal.Decimal) (*domain.Account, error)

	// CreditAccount increments the balance and bumps the version; it
	// matches only an ACTIVE account.
	CreditAccount(ctx context.Context, id string, amount decimal.Decimal) (*domain.Account, error)

	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	ListEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)

	GetIdempotencyRecord(ctx context.Context, sourceAccountID, key string) (*domain.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, record *domain.IdempotencyRecord) error

	// CompleteIdempotencyRecord transitions a record to COMPLETED with its
	// payload. The transition happens at most once.
	CompleteIdempotencyRecord(ctx context.Context, id, payload string, now time.Time) error

	// DeleteIdempotencyRecordIfPending removes a record only while it is
	// still PENDING, has no payload, and carries the given request hash.
	DeleteIdempotencyRecordIfPending(ctx context.Context, id, requestHash string) error

	DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error)

	GetBucketState(ctx context.Context, subject string) (*domain.BucketState, error)
	InsertBucketState(ctx context.Context, state *domain.BucketState) error

	// UpdateBucketStateCAS persists a new water level only if the stored
	// version still matches; it reports whether the swap happened.
	UpdateBucketStateCAS(ctx context.Context, subject string, version int64, waterLevel float64, now time.Time) (bool, error)
}
