package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents a ledger account.
// Balance never drops below MinBalance; accounts are never deleted.
type Account struct {
	ID         uuid.UUID       // Unique identifier of the account
	OwnerID    string          // Opaque reference to the owning user
	Currency   string          // ISO 4217 currency code (e.g., "RUB")
	Balance    decimal.Decimal // Current committed balance
	MinBalance decimal.Decimal // Lowest allowed balance; zero disables overdraft
	Status     AccountStatus   // Lifecycle status
	CreatedAt  time.Time       // Timestamp when the account was opened
	UpdatedAt  time.Time       // Timestamp of the last account update
}

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	// AccountStatusActive accounts accept every balance operation
	AccountStatusActive AccountStatus = "ACTIVE"

	// AccountStatusFrozen accounts reject balance changes until unfrozen
	AccountStatusFrozen AccountStatus = "FROZEN"

	// AccountStatusClosed is terminal
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Transaction is an append-only record of a requested balance change.
// Once COMPLETED or FAILED it only ever changes by being marked REVERSED.
type Transaction struct {
	ID             uuid.UUID         // Time-ordered unique identifier (UUIDv7)
	Type           TransactionType   // DEPOSIT, WITHDRAWAL or TRANSFER
	SourceID       *uuid.UUID        // Debited account; nil for deposits
	DestinationID  *uuid.UUID        // Credited account; nil for withdrawals
	Amount         decimal.Decimal   // Always positive
	Currency       string            // Currency of the involved accounts
	Status         TransactionStatus // Current status of the record
	FailureReason  string            // Error code for FAILED records
	Message        string            // Human-readable outcome
	IdempotencyKey string            // Optional client-supplied key
	RequestHash    string            // Hash of the canonical request, set with IdempotencyKey
	ReversalOf     *uuid.UUID        // Record compensated by this one
	ReversedBy     *uuid.UUID        // Compensating record, set when REVERSED
	CreatedAt      time.Time         // Record timestamp; history is ordered by it
	CompletedAt    *time.Time        // When the record reached a terminal status
}

// TransactionType is the kind of balance change.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
)

// TransactionStatus represents the possible states of a transaction record.
type TransactionStatus string

const (
	// TransactionStatusPending is held only in memory while the operation runs
	TransactionStatusPending TransactionStatus = "PENDING"

	// TransactionStatusCompleted indicates the balance change was applied
	TransactionStatusCompleted TransactionStatus = "COMPLETED"

	// TransactionStatusFailed indicates the request was rejected; no balance changed
	TransactionStatusFailed TransactionStatus = "FAILED"

	// TransactionStatusReversed indicates a compensating record was applied
	TransactionStatusReversed TransactionStatus = "REVERSED"
)

// NewAccount creates an ACTIVE account with a zero balance.
func NewAccount(ownerID, currency string, minBalance decimal.Decimal, now time.Time) *Account {
	return &Account{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Currency:   currency,
		Balance:    decimal.Zero,
		MinBalance: minBalance,
		Status:     AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewTransaction creates a PENDING record. Source or destination may be nil
// depending on the type.
func NewTransaction(typ TransactionType, source, destination *uuid.UUID, amount decimal.Decimal, now time.Time) *Transaction {
	return &Transaction{
		ID:            newRecordID(),
		Type:          typ,
		SourceID:      source,
		DestinationID: destination,
		Amount:        amount,
		Status:        TransactionStatusPending,
		CreatedAt:     now,
	}
}

func newRecordID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// MarkCompleted marks the record as applied.
func (t *Transaction) MarkCompleted(message string, now time.Time) {
	t.Status = TransactionStatusCompleted
	t.Message = message
	t.CompletedAt = &now
}

// MarkFailed marks the record as rejected with the code of cause.
func (t *Transaction) MarkFailed(cause error, now time.Time) {
	t.Status = TransactionStatusFailed
	t.FailureReason = Code(cause)
	t.Message = cause.Error()
	t.CompletedAt = &now
}

// Involves reports whether the record debits or credits the account.
func (t *Transaction) Involves(accountID uuid.UUID) bool {
	return (t.SourceID != nil && *t.SourceID == accountID) ||
		(t.DestinationID != nil && *t.DestinationID == accountID)
}

// Reversible reports whether reverse may be applied to the record.
func (t *Transaction) Reversible() bool {
	return t.Status == TransactionStatusCompleted && t.ReversalOf == nil && t.ReversedBy == nil
}

// AccountIDs returns the distinct accounts touched by the record in ascending order.
func (t *Transaction) AccountIDs() []uuid.UUID {
	var ids []uuid.UUID
	if t.SourceID != nil {
		ids = append(ids, *t.SourceID)
	}
	if t.DestinationID != nil {
		ids = append(ids, *t.DestinationID)
	}
	return lockOrder(ids...)
}

// Clone returns a copy that shares no mutable state with t.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.SourceID = cloneID(t.SourceID)
	c.DestinationID = cloneID(t.DestinationID)
	c.ReversalOf = cloneID(t.ReversalOf)
	c.ReversedBy = cloneID(t.ReversedBy)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// CanDebit reports whether amount can be withdrawn without going below MinBalance.
func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.Balance.Sub(amount).GreaterThanOrEqual(a.MinBalance)
}

// Debit subtracts the given amount from the account balance.
// Returns ErrInsufficientFunds if the result would be below MinBalance.
func (a *Account) Debit(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if !a.CanDebit(amount) {
		return ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	return nil
}

// Credit adds the given amount to the account balance.
func (a *Account) Credit(amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	return nil
}

// IsActive reports whether balance changes are allowed.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Freeze moves an ACTIVE account to FROZEN.
func (a *Account) Freeze(now time.Time) error {
	if a.Status != AccountStatusActive {
		return ErrInvalidStatusTransition
	}
	a.Status = AccountStatusFrozen
	a.UpdatedAt = now
	return nil
}

// Unfreeze moves a FROZEN account back to ACTIVE.
func (a *Account) Unfreeze(now time.Time) error {
	if a.Status != AccountStatusFrozen {
		return ErrInvalidStatusTransition
	}
	a.Status = AccountStatusActive
	a.UpdatedAt = now
	return nil
}

// Close moves the account to the terminal CLOSED status. The balance must be zero.
func (a *Account) Close(now time.Time) error {
	if a.Status == AccountStatusClosed {
		return ErrInvalidStatusTransition
	}
	if !a.Balance.IsZero() {
		return ErrAccountNotEmpty
	}
	a.Status = AccountStatusClosed
	a.UpdatedAt = now
	return nil
}
