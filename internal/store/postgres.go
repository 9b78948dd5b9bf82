package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/corebank/transfer-engine/internal/domain"
)

// querier covers the shared query surface of pgxpool.Pool and pgx.Tx so the
// same methods serve both the pool-backed store and its tx-scoped view.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on top of a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool, q: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// WithinTx runs fn in a REPEATABLE READ transaction. Concurrent writers to
// the same rows make the loser's commit fail with a serialization error,
// which surfaces as ErrTxConflict for the caller to re-resolve.
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if _, nested := p.q.(pgx.Tx); nested {
		return fn(p)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	scoped := &Postgres{pool: p.pool, q: tx}
	if err := fn(scoped); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

func (p *Postgres) CreateAccount(ctx context.Context, id string, balance decimal.Decimal) (*domain.Account, error) {
	row := p.q.QueryRow(ctx, `
		INSERT INTO accounts (id, balance, status)
		VALUES ($1, $2::numeric, 'ACTIVE')
		RETURNING id, balance::text, status, version, created_at, updated_at`,
		id, balance.StringFixed(2))
	return scanAccount(row)
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := p.q.QueryRow(ctx, `
		SELECT id, balance::text, status, version, created_at, updated_at
		FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (p *Postgres) DebitAccount(ctx context.Context, id string, amount decimal.Decimal) (*domain.Account, error) {
	row := p.q.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $2::numeric, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE' AND balance >= $2::numeric
		RETURNING id, balance::text, status, version, created_at, updated_at`,
		id, amount.StringFixed(2))
	account, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConditionFailed
	}
	return account, err
}

func (p *Postgres) CreditAccount(ctx context.Context, id string, amount decimal.Decimal) (*domain.Account, error) {
	row := p.q.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2::numeric, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING id, balance::text, status, version, created_at, updated_at`,
		id, amount.StringFixed(2))
	account, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConditionFailed
	}
	return account, err
}

func (p *Postgres) InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, from_account_id, to_account_id, amount, description, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		entry.ID, entry.FromAccountID, entry.ToAccountID,
		entry.Amount.StringFixed(2), entry.Description, entry.IdempotencyKey, entry.CreatedAt)
	return classifyPgError(err)
}

func (p *Postgres) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	row := p.q.QueryRow(ctx, `
		SELECT id, from_account_id, to_account_id, amount::text, description, idempotency_key, created_at
		FROM ledger_entries WHERE id = $1`, id)
	return scanLedgerEntry(row)
}

func (p *Postgres) ListEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, from_account_id, to_account_id, amount::text, description, idempotency_key, created_at
		FROM ledger_entries
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (p *Postgres) GetIdempotencyRecord(ctx context.Context, sourceAccountID, key string) (*domain.IdempotencyRecord, error) {
	row := p.q.QueryRow(ctx, `
		SELECT id, source_account_id, key, request_hash, status, COALESCE(response_payload, ''), expires_at, created_at, updated_at
		FROM idempotency_records
		WHERE source_account_id = $1 AND key = $2`, sourceAccountID, key)
	return scanIdempotencyRecord(row)
}

func (p *Postgres) InsertIdempotencyRecord(ctx context.Context, record *domain.IdempotencyRecord) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO idempotency_records (id, source_account_id, key, request_hash, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.SourceAccountID, record.Key, record.RequestHash,
		string(record.Status), record.ExpiresAt, record.CreatedAt, record.UpdatedAt)
	return classifyPgError(err)
}

func (p *Postgres) CompleteIdempotencyRecord(ctx context.Context, id, payload string, now time.Time) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE idempotency_records
		SET status = 'COMPLETED', response_payload = $2, updated_at = $3
		WHERE id = $1 AND status = 'PENDING'`, id, payload, now)
	if err != nil {
		return classifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (p *Postgres) DeleteIdempotencyRecordIfPending(ctx context.Context, id, requestHash string) error {
	tag, err := p.q.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE id = $1 AND request_hash = $2 AND status = 'PENDING'
		  AND (response_payload IS NULL OR response_payload = '')`, id, requestHash)
	if err != nil {
		return classifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (p *Postgres) DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, classifyPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) GetBucketState(ctx context.Context, subject string) (*domain.BucketState, error) {
	var state domain.BucketState
	err := p.q.QueryRow(ctx, `
		SELECT subject, water_level, last_leak_at, version, updated_at
		FROM leaky_bucket_state WHERE subject = $1`, subject).
		Scan(&state.Subject, &state.WaterLevel, &state.LastLeakAt, &state.Version, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPgError(err)
	}
	return &state, nil
}

func (p *Postgres) InsertBucketState(ctx context.Context, state *domain.BucketState) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO leaky_bucket_state (subject, water_level, last_leak_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		state.Subject, state.WaterLevel, state.LastLeakAt, state.Version, state.UpdatedAt)
	return classifyPgError(err)
}

func (p *Postgres) UpdateBucketStateCAS(ctx context.Context, subject string, version int64, waterLevel float64, now time.Time) (bool, error) {
	tag, err := p.q.Exec(ctx, `
		UPDATE leaky_bucket_state
		SET water_level = $3, last_leak_at = $4, version = version + 1, updated_at = $4
		WHERE subject = $1 AND version = $2`, subject, version, waterLevel, now)
	if err != nil {
		return false, classifyPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	var balance, status string
	err := row.Scan(&account.ID, &balance, &status, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPgError(err)
	}
	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("malformed balance %q: %w", balance, err)
	}
	account.Status = domain.AccountStatus(status)
	return &account, nil
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var amount string
	err := row.Scan(&entry.ID, &entry.FromAccountID, &entry.ToAccountID, &amount,
		&entry.Description, &entry.IdempotencyKey, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPgError(err)
	}
	entry.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("malformed amount %q: %w", amount, err)
	}
	return &entry, nil
}

func scanIdempotencyRecord(row pgx.Row) (*domain.IdempotencyRecord, error) {
	var record domain.IdempotencyRecord
	var status string
	err := row.Scan(&record.ID, &record.SourceAccountID, &record.Key, &record.RequestHash,
		&status, &record.ResponsePayload, &record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPgError(err)
	}
	record.Status = domain.IdempotencyStatus(status)
	return &record, nil
}

// classifyPgError maps SQLSTATE codes onto the store sentinels: 23505 is a
// unique violation, 40001/40P01 are serialization failure and deadlock.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Code)
		}
	}
	return err
}
