package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus gates whether an account may participate in transfers.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

// Account holds a balance under optimistic concurrency: Version is bumped on
// every mutation and checked by conditional updates. Balance never goes
// negative; the store's conditional debit enforces that, not this struct.
type Account struct {
	ID        string
	Balance   decimal.Decimal
	Status    AccountStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountView is the wire shape of an account; the balance serializes as a
// fixed 2-decimal string.
type AccountView struct {
	ID        string    `json:"id"`
	Balance   string    `json:"balance"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (a Account) View() AccountView {
	return AccountView{
		ID:        a.ID,
		Balance:   FormatAmount(a.Balance),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
}

// LedgerEntry is the immutable record of one completed transfer. Exactly one
// exists per successful (FromAccountID, IdempotencyKey) pair.
type LedgerEntry struct {
	ID             string
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// LedgerEntryView is the wire shape of a ledger entry.
type LedgerEntryView struct {
	ID             string    `json:"id"`
	FromAccountID  string    `json:"from_account_id"`
	ToAccountID    string    `json:"to_account_id"`
	Amount         string    `json:"amount"`
	Description    string    `json:"description"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

func (e LedgerEntry) View() LedgerEntryView {
	return LedgerEntryView{
		ID:             e.ID,
		FromAccountID:  e.FromAccountID,
		ToAccountID:    e.ToAccountID,
		Amount:         FormatAmount(e.Amount),
		Description:    e.Description,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
}

// IdempotencyStatus tracks the lifecycle of a reservation: PENDING on
// insert, COMPLETED once a payload is attached. There is no failed state;
// a reservation that did not complete is deleted.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "PENDING"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord maps (SourceAccountID, Key) to a single execution
// outcome. RequestHash detects key reuse with a different payload.
type IdempotencyRecord struct {
	ID              string
	SourceAccountID string
	Key             string
	RequestHash     string
	Status          IdempotencyStatus
	ResponsePayload string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r IdempotencyRecord) Pending() bool {
	return r.Status == IdempotencyPending
}

func (r IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyCompleted && r.ResponsePayload != ""
}

// BucketState is the persisted leaky-bucket level for one rate-limit
// subject. Version is the optimistic token for the CAS update path.
type BucketState struct {
	Subject    string
	WaterLevel float64
	LastLeakAt time.Time
	Version    int64
	UpdatedAt  time.Time
}

// TransferReceipt is the canonical transfer result. It is returned to the
// caller and, serialized, stored on the idempotency record for replay.
type TransferReceipt struct {
	Entry              LedgerEntryView `json:"ledger_entry"`
	FromAccountBalance string          `json:"from_account_balance"`
	ToAccountBalance   string          `json:"to_account_balance"`
	IdempotentReplay   bool            `json:"idempotent_replay"`
	ProcessedAt        time.Time       `json:"processed_at"`
}

// TransferCompleted is the event published after a transfer commits.
type TransferCompleted struct {
	EntryID       string    `json:"entry_id"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Amount        string    `json:"amount"`
	ProcessedAt   time.Time `json:"processed_at"`
}
