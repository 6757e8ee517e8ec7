package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for account data access operations.
type AccountRepository interface {
	// Create persists a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves the committed state of an account.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Lock acquires an exclusive lock on the account for the duration of the
	// surrounding transaction and returns its current state.
	// Must be called within a transaction context. Returns ErrBusy when the
	// lock is not granted within the configured lock timeout.
	Lock(ctx context.Context, id uuid.UUID) (*Account, error)

	// Update persists changes to a locked account.
	Update(ctx context.Context, account *Account) error
}

// TransactionRepository defines the interface for the append-only transaction log.
type TransactionRepository interface {
	// Create appends a new record.
	// Returns ErrDuplicateIdempotencyKey if a record with the same key exists.
	Create(ctx context.Context, txn *Transaction) error

	// GetByID retrieves a record by its unique identifier.
	// Returns ErrTransactionNotFound if the record doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByIdempotencyKey retrieves a record by its idempotency key.
	// Returns nil if no record is found with the given key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// MarkReversed moves a COMPLETED record to REVERSED and links the
	// compensating record. This is the only mutation allowed on the log.
	MarkReversed(ctx context.Context, id, reversedBy uuid.UUID) error

	// ListByAccount returns at most q.Limit records involving q.AccountID,
	// ordered by CreatedAt then ID, strictly after q.After when set.
	ListByAccount(ctx context.Context, q HistoryQuery) ([]*Transaction, error)
}

// HistoryQuery selects one page of an account's history.
type HistoryQuery struct {
	AccountID uuid.UUID
	From      time.Time // inclusive; zero means unbounded
	To        time.Time // exclusive; zero means unbounded
	After     *HistoryCursor
	Limit     int
}

// HistoryCursor is the position of a record in history order.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Before reports whether the cursor position sorts before t.
func (c HistoryCursor) Before(t *Transaction) bool {
	if !c.CreatedAt.Equal(t.CreatedAt) {
		return c.CreatedAt.Before(t.CreatedAt)
	}
	return compareIDs(c.ID, t.ID) < 0
}

// TransactionManager defines the interface for managing storage transactions.
// This abstraction allows the service layer to work with transactions
// without being coupled to a specific storage implementation.
type TransactionManager interface {
	// WithTransaction executes the given function within a transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher hands terminal transaction records to external systems.
// Implementations must not block the caller for long; delivery is best-effort.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, txn *Transaction) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
