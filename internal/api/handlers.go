package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/corebank/transfer-engine/internal/cache"
	"github.com/corebank/transfer-engine/internal/domain"
	"github.com/corebank/transfer-engine/internal/service"
	"github.com/corebank/transfer-engine/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer outcomes by result kind",
	}, []string{"outcome"})
)

const defaultEntriesLimit = 50

type Handler struct {
	store    store.Store
	transfer *service.TransferService
	accounts *cache.AccountCache
}

func NewHandler(st store.Store, transfer *service.TransferService, accounts *cache.AccountCache) *Handler {
	return &Handler{store: st, transfer: transfer, accounts: accounts}
}

// Routes mounts the API on r under /api/v1.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	apiV1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	apiV1.HandleFunc("/accounts/{id}/entries", h.GetAccountEntriesHandler).Methods("GET")
	apiV1.HandleFunc("/transfers", h.CreateTransferHandler).Methods("POST")
	apiV1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods("GET")
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createAccountRequest struct {
	InitialBalance *domain.Amount `json:"initial_balance"`
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.Body != nil {
		// An empty body means a zero opening balance.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	balance := decimal.Zero
	if req.InitialBalance != nil && req.InitialBalance.IsSet() {
		parsed, err := domain.ParseNonNegativeAmount(req.InitialBalance.String(), "initialBalance")
		if err != nil {
			h.respondDomainError(w, err, "POST", "/accounts")
			return
		}
		balance = parsed
	}

	account, err := h.store.CreateAccount(r.Context(), uuid.NewString(), balance)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/accounts", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "System error creating account")
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/accounts", "201").Inc()
	respondWithJSON(w, http.StatusCreated, account.View())
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if view, ok := h.accounts.Get(r.Context(), id); ok {
		httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}", "200").Inc()
		respondWithJSON(w, http.StatusOK, view)
		return
	}

	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	view := account.View()
	h.accounts.Set(r.Context(), view)

	httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := defaultEntriesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}/entries", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	if _, err := h.store.GetAccount(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}/entries", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}/entries", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	entries, err := h.store.ListEntriesByAccount(r.Context(), id, limit)
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}/entries", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	views := make([]domain.LedgerEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, entry.View())
	}

	httpRequestsTotal.WithLabelValues("GET", "/accounts/{id}/entries", "200").Inc()
	respondWithJSON(w, http.StatusOK, views)
}

type transferRequest struct {
	FromAccountID string        `json:"from_account_id"`
	ToAccountID   string        `json:"to_account_id"`
	Amount        domain.Amount `json:"amount"`
	Description   string        `json:"description"`
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		httpRequestsTotal.WithLabelValues("POST", "/transfers", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/transfers", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	receipt, err := h.transfer.Transfer(r.Context(), service.TransferInput{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount.String(),
		Description:    req.Description,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		transfersTotal.WithLabelValues(string(domain.KindOf(err))).Inc()
		h.respondDomainError(w, err, "POST", "/transfers")
		return
	}

	h.accounts.Invalidate(r.Context(), receipt.Entry.FromAccountID, receipt.Entry.ToAccountID)

	if receipt.IdempotentReplay {
		transfersTotal.WithLabelValues("replay").Inc()
		httpRequestsTotal.WithLabelValues("POST", "/transfers", "200").Inc()
		respondWithJSON(w, http.StatusOK, receipt)
		return
	}

	transfersTotal.WithLabelValues("created").Inc()
	httpRequestsTotal.WithLabelValues("POST", "/transfers", "201").Inc()
	w.Header().Set("Location", "/api/v1/transfers/"+receipt.Entry.ID)
	respondWithJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, err := h.store.GetLedgerEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpRequestsTotal.WithLabelValues("GET", "/transfers/{id}", "404").Inc()
			respondWithError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		httpRequestsTotal.WithLabelValues("GET", "/transfers/{id}", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/transfers/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, entry.View())
}

type errorResponse struct {
	Error             string `json:"error"`
	Kind              string `json:"kind,omitempty"`
	Field             string `json:"field,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.NewInternal("Internal Server Error")
	}

	status := statusForKind(de.Kind)
	if de.Kind == domain.KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(de.RetryAfterSeconds))
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	respondWithJSON(w, status, errorResponse{
		Error:             de.Message,
		Kind:              string(de.Kind),
		Field:             de.Field,
		RetryAfterSeconds: de.RetryAfterSeconds,
	})
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindInsufficientFunds, domain.KindAccountInactive:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
