package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corebank/transfer-engine/internal/domain"
)

// Memory implements Store with plain maps. It backs component tests and
// local runs without a database. WithinTx stages mutations on a deep copy
// and swaps it in on success, so the all-or-nothing contract holds; the
// store mutex stays held for the whole unit, which also serializes
// transactions the way the database's conflict detection would.
type Memory struct {
	mu   *sync.Mutex
	data *memoryData
	inTx bool
}

type memoryData struct {
	accounts     map[string]domain.Account
	entries      map[string]domain.LedgerEntry
	entryByPair  map[string]string // from|key -> entry id
	records      map[string]domain.IdempotencyRecord
	recordByPair map[string]string // source|key -> record id
	buckets      map[string]domain.BucketState
}

func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		data: &memoryData{
			accounts:     make(map[string]domain.Account),
			entries:      make(map[string]domain.LedgerEntry),
			entryByPair:  make(map[string]string),
			records:      make(map[string]domain.IdempotencyRecord),
			recordByPair: make(map[string]string),
			buckets:      make(map[string]domain.BucketState),
		},
	}
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		accounts:     make(map[string]domain.Account, len(d.accounts)),
		entries:      make(map[string]domain.LedgerEntry, len(d.entries)),
		entryByPair:  make(map[string]string, len(d.entryByPair)),
		records:      make(map[string]domain.IdempotencyRecord, len(d.records)),
		recordByPair: make(map[string]string, len(d.recordByPair)),
		buckets:      make(map[string]domain.BucketState, len(d.buckets)),
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	for k, v := range d.entryByPair {
		c.entryByPair[k] = v
	}
	for k, v := range d.records {
		c.records[k] = v
	}
	for k, v := range d.recordByPair {
		c.recordByPair[k] = v
	}
	for k, v := range d.buckets {
		c.buckets[k] = v
	}
	return c
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &Memory{mu: m.mu, data: m.data.clone(), inTx: true}
	if err := fn(staged); err != nil {
		return err
	}
	m.data = staged.data
	return nil
}

func (m *Memory) CreateAccount(ctx context.Context, id string, balance decimal.Decimal) (*domain.Account, error) {
	defer m.lock()()

	if _, exists := m.data.accounts[id]; exists {
		return nil, ErrDuplicateKey
	}
	now := time.Now()
	account := domain.Account{
		ID:        id,
		Balance:   balance,
		Status:    domain.AccountActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.data.accounts[id] = account
	return &account, nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	defer m.lock()()

	account, ok := m.data.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (m *Memory) DebitAccount(ctx context.Context, id string, amount decimal.Decimal) (*domain.Account, error) {
	defer m.lock()()

	account, ok := m.data.accounts[id]
	if !ok || account.Status != domain.AccountActive || account.Balance.LessThan(amount) {
		return nil, ErrConditionFailed
	}
	account.Balance = account.Balance.Sub(amount)
	account.Version++
	account.UpdatedAt = time.Now()
	m.data.accounts[id] = account
	return &account, nil
}

func (m *Memory) CreditAccount(ctx context.Context, id string, amount decimal.Decimal) (*domain.Account, error) {
	defer m.lock()()

	account, ok := m.data.accounts[id]
	if !ok || account.Status != domain.AccountActive {
		return nil, ErrConditionFailed
	}
	account.Balance = account.Balance.Add(amount)
	account.Version++
	account.UpdatedAt = time.Now()
	m.data.accounts[id] = account
	return &account, nil
}

// SetAccountStatus flips an account's status. Test helper standing in for
// the account-management surface that owns status toggling.
func (m *Memory) SetAccountStatus(id string, status domain.AccountStatus) error {
	defer m.lock()()

	account, ok := m.data.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.Status = status
	account.Version++
	m.data.accounts[id] = account
	return nil
}

func (m *Memory) InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	defer m.lock()()

	pair := entry.FromAccountID + "|" + entry.IdempotencyKey
	if _, exists := m.data.entryByPair[pair]; exists {
		return ErrDuplicateKey
	}
	if _, exists := m.data.entries[entry.ID]; exists {
		return ErrDuplicateKey
	}
	m.data.entries[entry.ID] = *entry
	m.data.entryByPair[pair] = entry.ID
	return nil
}

func (m *Memory) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	defer m.lock()()

	entry, ok := m.data.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (m *Memory) ListEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	defer m.lock()()

	var entries []domain.LedgerEntry
	for _, entry := range m.data.entries {
		if entry.FromAccountID == accountID || entry.ToAccountID == accountID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *Memory) GetIdempotencyRecord(ctx context.Context, sourceAccountID, key string) (*domain.IdempotencyRecord, error) {
	defer m.lock()()

	id, ok := m.data.recordByPair[sourceAccountID+"|"+key]
	if !ok {
		return nil, ErrNotFound
	}
	record := m.data.records[id]
	return &record, nil
}

func (m *Memory) InsertIdempotencyRecord(ctx context.Context, record *domain.IdempotencyRecord) error {
	defer m.lock()()

	pair := record.SourceAccountID + "|" + record.Key
	if _, exists := m.data.recordByPair[pair]; exists {
		return ErrDuplicateKey
	}
	m.data.records[record.ID] = *record
	m.data.recordByPair[pair] = record.ID
	return nil
}

func (m *Memory) CompleteIdempotencyRecord(ctx context.Context, id, payload string, now time.Time) error {
	defer m.lock()()

	record, ok := m.data.records[id]
	if !ok || record.Status != domain.IdempotencyPending {
		return ErrConditionFailed
	}
	record.Status = domain.IdempotencyCompleted
	record.ResponsePayload = payload
	record.UpdatedAt = now
	m.data.records[id] = record
	return nil
}

func (m *Memory) DeleteIdempotencyRecordIfPending(ctx context.Context, id, requestHash string) error {
	defer m.lock()()

	record, ok := m.data.records[id]
	if !ok || record.Status != domain.IdempotencyPending ||
		record.ResponsePayload != "" || record.RequestHash != requestHash {
		return ErrConditionFailed
	}
	delete(m.data.records, id)
	delete(m.data.recordByPair, record.SourceAccountID+"|"+record.Key)
	return nil
}

func (m *Memory) DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	defer m.lock()()

	var purged int64
	for id, record := range m.data.records {
		if record.ExpiresAt.Before(now) {
			delete(m.data.records, id)
			delete(m.data.recordByPair, record.SourceAccountID+"|"+record.Key)
			purged++
		}
	}
	return purged, nil
}

func (m *Memory) GetBucketState(ctx context.Context, subject string) (*domain.BucketState, error) {
	defer m.lock()()

	state, ok := m.data.buckets[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

func (m *Memory) InsertBucketState(ctx context.Context, state *domain.BucketState) error {
	defer m.lock()()

	if _, exists := m.data.buckets[state.Subject]; exists {
		return ErrDuplicateKey
	}
	m.data.buckets[state.Subject] = *state
	return nil
}

func (m *Memory) UpdateBucketStateCAS(ctx context.Context, subject string, version int64, waterLevel float64, now time.Time) (bool, error) {
	defer m.lock()()

	state, ok := m.data.buckets[subject]
	if !ok || state.Version != version {
		return false, nil
	}
	state.WaterLevel = waterLevel
	state.LastLeakAt = now
	state.Version++
	state.UpdatedAt = now
	m.data.buckets[subject] = state
	return true, nil
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)
