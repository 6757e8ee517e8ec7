package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

const (
	// IdempotencyKeyHeader carries the optional client idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxIdempotencyKeyLen = 255
	maxBodyBytes         = 1 << 20
	defaultHistoryLimit  = 50
	maxHistoryLimit      = 500
	requestTimeout       = 5 * time.Second
)

// Handlers adapts HTTP requests to ledger operations.
type Handlers struct {
	ledger *domain.LedgerService
	logger *zap.Logger
}

// NewHandlers creates a new Handlers.
func NewHandlers(ledger *domain.LedgerService, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{ledger: ledger, logger: logger.Named("http")}
}

type openAccountRequest struct {
	OwnerID    string          `json:"ownerId"`
	Currency   string          `json:"currency"`
	MinBalance decimal.Decimal `json:"minBalance"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	FromAccount uuid.UUID       `json:"fromAccount"`
	ToAccount   uuid.UUID       `json:"toAccount"`
	Amount      decimal.Decimal `json:"amount"`
}

type accountResponse struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Currency   string    `json:"currency"`
	Balance    string    `json:"balance"`
	MinBalance string    `json:"minBalance"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type balanceResponse struct {
	AccountID uuid.UUID `json:"accountId"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	AsOf      time.Time `json:"asOf"`
}

type transactionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Type               string     `json:"type"`
	SourceAccount      *uuid.UUID `json:"sourceAccount,omitempty"`
	DestinationAccount *uuid.UUID `json:"destinationAccount,omitempty"`
	Amount             string     `json:"amount"`
	Currency           string     `json:"currency"`
	Status             string     `json:"status"`
	FailureReason      string     `json:"failureReason,omitempty"`
	Message            string     `json:"message,omitempty"`
	ReversalOf         *uuid.UUID `json:"reversalOf,omitempty"`
	ReversedBy         *uuid.UUID `json:"reversedBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// resultResponse is the body of balance-changing requests.
type resultResponse struct {
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transactionId,omitempty"`
	Message       string     `json:"message"`
	Code          string     `json:"code,omitempty"`
}

type historyResponse struct {
	Status       string                `json:"status"`
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"nextCursor,omitempty"`
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// POST /accounts
func (h *Handlers) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	account, err := h.ledger.OpenAccount(ctx, domain.OpenAccountRequest{
		OwnerID:    strings.TrimSpace(req.OwnerID),
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
		MinBalance: req.MinBalance,
	})
	if err != nil {
		h.writeDomainErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// GET /accounts/{id}
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.writeDomainErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// GET /accounts/{id}/balance
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	balance, err := h.ledger.GetBalance(ctx, id)
	if err != nil {
		h.writeDomainErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: balance.AccountID,
		Balance:   domain.FormatAmount(balance.Amount),
		Currency:  balance.Currency,
		Status:    string(balance.Status),
		AsOf:      balance.AsOf,
	})
}

// POST /accounts/{id}/deposits
func (h *Handlers) Deposit(w http.ResponseWriter, r *http.Request) {
	h.changeBalance(w, r, h.ledger.Deposit)
}

// POST /accounts/{id}/withdrawals
func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.changeBalance(w, r, h.ledger.Withdraw)
}

type singleAccountOp func(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*domain.Transaction, error)

func (h *Handlers) changeBalance(w http.ResponseWriter, r *http.Request, op singleAccountOp) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	txn, err := op(ctx, id, req.Amount, key)
	h.writeResult(w, txn, err)
}

// POST /accounts/{id}/freeze
func (h *Handlers) FreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ledger.FreezeAccount)
}

// POST /accounts/{id}/unfreeze
func (h *Handlers) UnfreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ledger.UnfreezeAccount)
}

// POST /accounts/{id}/close
func (h *Handlers) CloseAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.ledger.CloseAccount)
}

func (h *Handlers) changeStatus(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*domain.Account, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	account, err := op(ctx, id)
	if err != nil {
		h.writeDomainErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// POST /transactions
func (h *Handlers) PostTransfer(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if req.FromAccount == uuid.Nil || req.ToAccount == uuid.Nil {
		writeErr(w, http.StatusBadRequest, "fromAccount and toAccount are required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	txn, err := h.ledger.Transfer(ctx, req.FromAccount, req.ToAccount, req.Amount, key)
	h.writeResult(w, txn, err)
}

// GET /transactions/{id}
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeDomainErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// POST /transactions/{id}/reverse
func (h *Handlers) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	txn, err := h.ledger.Reverse(ctx, id, key)
	h.writeResult(w, txn, err)
}

// GET /transactions?accountId=&from=&to=&limit=&cursor=
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	accountID, err := uuid.Parse(q.Get("accountId"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid accountId", nil)
		return
	}

	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), nil)
			return
		}
		limit = n
	}

	var rng domain.HistoryRange
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid "+bound.name+": expected RFC 3339 timestamp", nil)
			return
		}
		*bound.dst = t
	}
	if v := q.Get("cursor"); v != "" {
		if rng.After, err = domain.ParseHistoryCursor(v); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid cursor", nil)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	// One extra record tells whether another page exists.
	page := make([]*domain.Transaction, 0, limit+1)
	for txn, err := range h.ledger.History(ctx, accountID, rng) {
		if err != nil {
			h.writeDomainErr(w, err, nil)
			return
		}
		page = append(page, txn)
		if len(page) > limit {
			break
		}
	}

	resp := historyResponse{Status: "success", Transactions: make([]transactionResponse, 0, len(page))}
	if len(page) > limit {
		page = page[:limit]
		resp.NextCursor = domain.CursorOf(page[len(page)-1]).Token()
	}
	for _, txn := range page {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeResult writes the outcome of a balance-changing request. Rejected
// requests that left a FAILED record carry its id.
func (h *Handlers) writeResult(w http.ResponseWriter, txn *domain.Transaction, err error) {
	if err != nil {
		var id *uuid.UUID
		if txn != nil {
			id = &txn.ID
		}
		h.writeDomainErr(w, err, id)
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse{
		Status:        "success",
		TransactionID: &txn.ID,
		Message:       txn.Message,
	})
}

func (h *Handlers) writeDomainErr(w http.ResponseWriter, err error, transactionID *uuid.UUID) {
	code := httpStatusForErr(err)
	if code >= 500 && code != http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.Error(err))
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, code, resultResponse{
		Status:        "error",
		TransactionID: transactionID,
		Message:       publicErrMessage(code, err),
		Code:          domain.Code(err),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string, transactionID *uuid.UUID) {
	writeJSON(w, code, resultResponse{Status: "error", Message: msg, TransactionID: transactionID})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("%s must be at most %d characters", IdempotencyKeyHeader, maxIdempotencyKeyLen), nil)
		return "", false
	}
	return key, true
}

func toAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		OwnerID:    a.OwnerID,
		Currency:   a.Currency,
		Balance:    domain.FormatAmount(a.Balance),
		MinBalance: domain.FormatAmount(a.MinBalance),
		Status:     string(a.Status),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toTransactionResponse(t *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:                 t.ID,
		Type:               string(t.Type),
		SourceAccount:      t.SourceID,
		DestinationAccount: t.DestinationID,
		Amount:             domain.FormatAmount(t.Amount),
		Currency:           t.Currency,
		Status:             string(t.Status),
		FailureReason:      t.FailureReason,
		Message:            t.Message,
		ReversalOf:         t.ReversalOf,
		ReversedBy:         t.ReversedBy,
		CreatedAt:          t.CreatedAt,
		CompletedAt:        t.CompletedAt,
	}
}
