package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

// AccountRepository implements domain.AccountRepository on a Store.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Create stores a new account, staged when called inside a transaction.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	c := *account
	if uow := getUnitOfWork(ctx); uow != nil {
		uow.newAccounts = append(uow.newAccounts, &c)
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.accounts[c.ID]; exists {
		return fmt.Errorf("memstore: account %s already exists", c.ID)
	}
	r.store.accounts[c.ID] = c
	return nil
}

// GetByID returns the account as seen by the current transaction, if any.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if uow := getUnitOfWork(ctx); uow != nil {
		if staged, ok := uow.accounts[id]; ok {
			c := *staged
			return &c, nil
		}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	account, ok := r.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

// Lock acquires the account for the surrounding transaction and returns its state.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	uow := getUnitOfWork(ctx)
	if uow == nil {
		return nil, errNoTransaction
	}
	if err := r.store.lockAccount(ctx, uow, id); err != nil {
		return nil, err
	}

	if _, ok := uow.accounts[id]; !ok {
		r.store.mu.RLock()
		account := r.store.accounts[id]
		r.store.mu.RUnlock()
		uow.accounts[id] = &account
	}
	c := *uow.accounts[id]
	return &c, nil
}

// Update stages new state for an account locked by the current transaction.
func (r *AccountRepository) Update(ctx context.Context, account *domain.Account) error {
	uow := getUnitOfWork(ctx)
	if uow == nil {
		return errNoTransaction
	}
	if _, ok := uow.held[account.ID]; !ok {
		return fmt.Errorf("memstore: account %s is not locked", account.ID)
	}
	c := *account
	uow.accounts[account.ID] = &c
	uow.dirty[account.ID] = true
	return nil
}

// TransactionRepository implements domain.TransactionRepository on a Store.
type TransactionRepository struct {
	store *Store
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{store: store}
}

// Create appends a record, staged when called inside a transaction.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	if uow := getUnitOfWork(ctx); uow != nil {
		if txn.IdempotencyKey != "" && uow.createdByKey(txn.IdempotencyKey) != nil {
			return domain.ErrDuplicateIdempotencyKey
		}
		uow.created = append(uow.created, txn.Clone())
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if txn.IdempotencyKey != "" {
		if _, exists := r.store.byKey[txn.IdempotencyKey]; exists {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	r.store.insertLocked(txn)
	return nil
}

// GetByID returns a record as seen by the current transaction, if any.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	uow := getUnitOfWork(ctx)
	if uow != nil {
		if t := uow.createdByID(id); t != nil {
			return t.Clone(), nil
		}
	}

	r.store.mu.RLock()
	stored, ok := r.store.txns[id]
	var t *domain.Transaction
	if ok {
		t = stored.Clone()
	}
	r.store.mu.RUnlock()
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}

	if uow != nil {
		if by, staged := uow.reversed[id]; staged {
			t.Status = domain.TransactionStatusReversed
			t.ReversedBy = &by
		}
	}
	return t, nil
}

// GetByIdempotencyKey returns the committed record for key, or nil.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	if uow := getUnitOfWork(ctx); uow != nil {
		if t := uow.createdByKey(key); t != nil {
			return t.Clone(), nil
		}
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.byKey[key]
	if !ok {
		return nil, nil
	}
	return r.store.txns[id].Clone(), nil
}

// MarkReversed links a COMPLETED record to its compensation.
func (r *TransactionRepository) MarkReversed(ctx context.Context, id, reversedBy uuid.UUID) error {
	uow := getUnitOfWork(ctx)
	if uow == nil {
		return errNoTransaction
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != domain.TransactionStatusCompleted {
		return domain.ErrNotReversible
	}
	uow.reversed[id] = reversedBy
	return nil
}

// ListByAccount returns one page of committed history.
func (r *TransactionRepository) ListByAccount(_ context.Context, q domain.HistoryQuery) ([]*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var matched []*domain.Transaction
	for _, id := range r.store.byAccount[q.AccountID] {
		t := r.store.txns[id]
		if !q.From.IsZero() && t.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !t.CreatedAt.Before(q.To) {
			continue
		}
		if q.After != nil && !q.After.Before(t) {
			continue
		}
		matched = append(matched, t)
	}

	slices.SortFunc(matched, func(a, b *domain.Transaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	page := make([]*domain.Transaction, len(matched))
	for i, t := range matched {
		page[i] = t.Clone()
	}
	return page, nil
}
