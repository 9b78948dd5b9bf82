package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/events"
	"github.com/corebank/transfer-engine/internal/idempotency"
	"github.com/corebank/transfer-engine/internal/ledger"
	"github.com/corebank/transfer-engine/internal/ratelimit"
	"github.com/corebank/transfer-engine/internal/store"
)

const (
	maxDescriptionLength    = 140
	maxIdempotencyKeyLength = 128
)

// TransferInput is the raw request as received from the API layer; nothing
// in it is trusted until Validate has run.
type TransferInput struct {
	FromAccountID  string
	ToAccountID    string
	Amount         string
	Description    string
	IdempotencyKey string
}

// TransferService orchestrates a funds transfer: validate, reserve the
// idempotency slot, then run rate-limit check, debit, credit, entry insert
// and idempotency finalize as one all-or-nothing unit against the store.
type TransferService struct {
	store       store.Store
	limiter     *ratelimit.Limiter
	idempotency *idempotency.Coordinator
	publisher   events.Publisher
}

func NewTransferService(st store.Store, limiter *ratelimit.Limiter, coordinator *idempotency.Coordinator, publisher events.Publisher) *TransferService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &TransferService{
		store:       st,
		limiter:     limiter,
		idempotency: coordinator,
		publisher:   publisher,
	}
}

// Transfer moves money between two accounts with exactly-once semantics
// under retries and concurrent duplicates. Domain rejections (insufficient
// funds, inactive account, rate limit) surface with their kind preserved
// and leave no idempotency record behind, so a later retry with the same
// key can succeed once conditions change.
func (s *TransferService) Transfer(ctx context.Context, input TransferInput) (*domain.TransferReceipt, error) {
	fromID, toID, amount, description, key, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	requestHash := domain.RequestHash(fromID, toID, amount, description)

	existing, err := s.idempotency.Find(ctx, s.store, fromID, key)
	if err == nil {
		return s.idempotency.Replay(ctx, s.store, existing, requestHash)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	record, reserved, err := s.idempotency.Reserve(ctx, s.store, fromID, key, requestHash)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return s.idempotency.Replay(ctx, s.store, record, requestHash)
	}

	receipt, err := s.execute(ctx, record, fromID, toID, amount, description, key)
	if err != nil {
		if releaseErr := s.idempotency.Release(ctx, s.store, record.ID, requestHash); releaseErr != nil {
			log.Printf("transfer %s->%s: release failed: %v", fromID, toID, releaseErr)
		}
		if isWriteConflict(err) {
			// A concurrent execution with the same key likely won; resolve
			// against whatever it committed.
			return s.resolveAfterConflict(ctx, fromID, key, requestHash)
		}
		return nil, err
	}

	s.publish(ctx, receipt)
	return receipt, nil
}

func (s *TransferService) execute(ctx context.Context, record *domain.IdempotencyRecord, fromID, toID string, amount decimal.Decimal, description, key string) (*domain.TransferReceipt, error) {
	var receipt *domain.TransferReceipt

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := s.limiter.AssertAllowed(ctx, tx, ratelimit.TransferSubject(fromID)); err != nil {
			return err
		}

		now := time.Now().UTC()

		debited, err := ledger.Debit(ctx, tx, fromID, amount)
		if err != nil {
			return err
		}
		credited, err := ledger.Credit(ctx, tx, toID, amount)
		if err != nil {
			return err
		}

		entry := &domain.LedgerEntry{
			ID:             uuid.NewString(),
			FromAccountID:  fromID,
			ToAccountID:    toID,
			Amount:         amount,
			Description:    description,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}

		receipt = &domain.TransferReceipt{
			Entry:              entry.View(),
			FromAccountBalance: domain.FormatAmount(debited.Balance),
			ToAccountBalance:   domain.FormatAmount(credited.Balance),
			IdempotentReplay:   false,
			ProcessedAt:        now,
		}

		return s.idempotency.Finalize(ctx, tx, record.ID, receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *TransferService) resolveAfterConflict(ctx context.Context, fromID, key, requestHash string) (*domain.TransferReceipt, error) {
	record, err := s.idempotency.Find(ctx, s.store, fromID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NewConflict("Idempotency conflict")
	}
	if err != nil {
		return nil, err
	}
	return s.idempotency.Replay(ctx, s.store, record, requestHash)
}

func (s *TransferService) validate(input TransferInput) (fromID, toID string, amount decimal.Decimal, description, key string, err error) {
	fromID = strings.TrimSpace(input.FromAccountID)
	if fromID == "" {
		return "", "", decimal.Zero, "", "", domain.NewValidationError("fromAccountId", "Source account is required")
	}

	toID = strings.TrimSpace(input.ToAccountID)
	if toID == "" {
		return "", "", decimal.Zero, "", "", domain.NewValidationError("toAccountId", "Destination account is required")
	}

	if fromID == toID {
		return "", "", decimal.Zero, "", "", domain.NewValidationError("toAccountId", "Source and destination accounts must be different")
	}

	amount, err = domain.ParsePositiveAmount(input.Amount, "amount")
	if err != nil {
		return "", "", decimal.Zero, "", "", err
	}

	description = strings.TrimSpace(input.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return "", "", decimal.Zero, "", "", domain.NewValidationError("description", "Description must have at most 140 characters")
	}

	key = strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return "", "", decimal.Zero, "", "", domain.NewValidationError("idempotencyKey", "Idempotency key is required")
	}
	if utf8.RuneCountInString(key) > maxIdempotencyKeyLength {
		return "", "", decimal.Zero, "", "", domain.NewValidationError("idempotencyKey", "Idempotency key must have at most 128 characters")
	}

	return fromID, toID, amount, description, key, nil
}

func (s *TransferService) publish(ctx context.Context, receipt *domain.TransferReceipt) {
	event := domain.TransferCompleted{
		EntryID:       receipt.Entry.ID,
		FromAccountID: receipt.Entry.FromAccountID,
		ToAccountID:   receipt.Entry.ToAccountID,
		Amount:        receipt.Entry.Amount,
		ProcessedAt:   receipt.ProcessedAt,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("transfer %s: event publish failed: %v", receipt.Entry.ID, err)
	}
}

// isWriteConflict tells conflicts inherent to concurrent execution (unique
// violations, store transaction aborts) apart from domain rejections, which
// must propagate untouched.
func isWriteConflict(err error) bool {
	return errors.Is(err, store.ErrDuplicateKey) || errors.Is(err, store.ErrTxConflict)
}
