package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/transfer-engine/internal/cache"
	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/events"
	"github.com/corebank/transfer-engine/internal/idempotency"
	"github.com/corebank/transfer-engine/internal/ratelimit"
	"github.com/corebank/transfer-engine/internal/service"
	"github.com/corebank/transfer-engine/internal/store"
)

type testEnv struct {
	store  *store.Memory
	router *mux.Router
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	st := store.NewMemory()
	if limiter == nil {
		limiter = ratelimit.NewLimiter(10000, 10000)
	}
	svc := service.NewTransferService(st, limiter, idempotency.NewCoordinator(time.Hour), events.Noop{})
	handler := NewHandler(st, svc, cache.NewAccountCache(nil, 0))

	r := mux.NewRouter()
	handler.Routes(r)
	return &testEnv{store: st, router: r}
}

func (e *testEnv) account(t *testing.T, id, balance string) {
	t.Helper()
	_, err := e.store.CreateAccount(context.Background(), id, decimal.RequireFromString(balance))
	require.NoError(t, err)
}

func (e *testEnv) do(method, url, idempotencyKey string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewBuffer(b)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func transferBody(from, to, amount string) map[string]interface{} {
	return map[string]interface{}{
		"from_account_id": from,
		"to_account_id":   to,
		"amount":          amount,
		"description":     "lunch",
	}
}

func TestCreateTransferRequiresIdempotencyKey(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/api/v1/transfers", "", transferBody("a", "b", "1.00"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Idempotency-Key")
}

func TestCreateTransferMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("POST", "/api/v1/transfers", bytes.NewBufferString("{nope"))
	req.Header.Set("Idempotency-Key", "k1")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTransferSuccessAndReplay(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "100.00")
	env.account(t, "b", "0.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "10.00"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created domain.TransferReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "10.00", created.Entry.Amount)
	assert.Equal(t, "90.00", created.FromAccountBalance)
	assert.False(t, created.IdempotentReplay)
	assert.Equal(t, "/api/v1/transfers/"+created.Entry.ID, w.Header().Get("Location"))

	// Same request again: 200 with the identical entry, tagged as replay.
	w = env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "10.00"))
	require.Equal(t, http.StatusOK, w.Code)

	var replayed domain.TransferReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replayed))
	assert.Equal(t, created.Entry.ID, replayed.Entry.ID)
	assert.True(t, replayed.IdempotentReplay)
}

func TestCreateTransferValidationMapsTo422(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "100.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "a", "1.00"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Kind  string `json:"kind"`
		Field string `json:"field"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.KindValidation), resp.Kind)
	assert.Equal(t, "toAccountId", resp.Field)
}

func TestCreateTransferScaleRejection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "100.00")
	env.account(t, "b", "0.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "1.001"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "at most 2 decimal places")
}

func TestCreateTransferInsufficientFunds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "1.00")
	env.account(t, "b", "0.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "10.00"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), string(domain.KindInsufficientFunds))
}

func TestCreateTransferKeyReuseMapsTo409(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "100.00")
	env.account(t, "b", "0.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "10.00"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "20.00"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateTransferRateLimitedMapsTo429(t *testing.T) {
	now := time.Now()
	limiter := ratelimit.NewLimiter(1, 1).WithClock(func() time.Time { return now })
	env := newTestEnv(t, limiter)
	env.account(t, "a", "100.00")
	env.account(t, "b", "0.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "1.00"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do("POST", "/api/v1/transfers", "k2", transferBody("a", "b", "1.00"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCreateAndGetAccount(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/api/v1/accounts", "", map[string]string{"initial_balance": "250.00"})
	require.Equal(t, http.StatusCreated, w.Code)

	var view domain.AccountView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "250.00", view.Balance)
	assert.Equal(t, string(domain.AccountActive), view.Status)

	w = env.do("GET", "/api/v1/accounts/"+view.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched domain.AccountView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, view.ID, fetched.ID)
	assert.Equal(t, "250.00", fetched.Balance)
}

func TestGetAccountNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/api/v1/accounts/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAccountEntries(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "100.00")
	env.account(t, "b", "0.00")

	require.Equal(t, http.StatusCreated,
		env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "10.00")).Code)
	require.Equal(t, http.StatusCreated,
		env.do("POST", "/api/v1/transfers", "k2", transferBody("b", "a", "5.00")).Code)

	w := env.do("GET", "/api/v1/accounts/a/entries", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []domain.LedgerEntryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	w = env.do("GET", "/api/v1/accounts/a/entries?limit=0", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do("GET", "/api/v1/accounts/missing/entries", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTransfer(t *testing.T) {
	env := newTestEnv(t, nil)
	env.account(t, "a", "100.00")
	env.account(t, "b", "0.00")

	w := env.do("POST", "/api/v1/transfers", "k1", transferBody("a", "b", "10.00"))
	require.Equal(t, http.StatusCreated, w.Code)

	var receipt domain.TransferReceipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))

	w = env.do("GET", "/api/v1/transfers/"+receipt.Entry.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entry domain.LedgerEntryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, receipt.Entry.ID, entry.ID)
	assert.Equal(t, "10.00", entry.Amount)

	w = env.do("GET", "/api/v1/transfers/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
