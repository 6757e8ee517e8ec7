// Package memstore is an in-process implementation of the ledger storage
// ports. Writes are staged per transaction and applied all at once on
// commit; accounts are locked with one weighted semaphore each.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

// DefaultLockTimeout bounds how long Lock waits for a contended account.
const DefaultLockTimeout = 2 * time.Second

var errNoTransaction = errors.New("memstore: operation requires a transaction")

// Store holds committed ledger state.
type Store struct {
	mu          sync.RWMutex
	accounts    map[uuid.UUID]domain.Account
	txns        map[uuid.UUID]*domain.Transaction
	byKey       map[string]uuid.UUID
	byAccount   map[uuid.UUID][]uuid.UUID
	locks       map[uuid.UUID]*semaphore.Weighted
	lockTimeout time.Duration
}

// New creates an empty store. A non-positive lockTimeout waits until the
// caller's context is done.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]domain.Account),
		txns:        make(map[uuid.UUID]*domain.Transaction),
		byKey:       make(map[string]uuid.UUID),
		byAccount:   make(map[uuid.UUID][]uuid.UUID),
		locks:       make(map[uuid.UUID]*semaphore.Weighted),
		lockTimeout: lockTimeout,
	}
}

// unitOfWork is the state of one open transaction.
type unitOfWork struct {
	held        map[uuid.UUID]*semaphore.Weighted
	accounts    map[uuid.UUID]*domain.Account
	dirty       map[uuid.UUID]bool
	newAccounts []*domain.Account
	created     []*domain.Transaction
	reversed    map[uuid.UUID]uuid.UUID
}

type uowKey struct{}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{
		held:     make(map[uuid.UUID]*semaphore.Weighted),
		accounts: make(map[uuid.UUID]*domain.Account),
		dirty:    make(map[uuid.UUID]bool),
		reversed: make(map[uuid.UUID]uuid.UUID),
	}
}

func getUnitOfWork(ctx context.Context) *unitOfWork {
	if uow, ok := ctx.Value(uowKey{}).(*unitOfWork); ok {
		return uow
	}
	return nil
}

func (u *unitOfWork) release() {
	for id, sem := range u.held {
		sem.Release(1)
		delete(u.held, id)
	}
}

func (u *unitOfWork) createdByID(id uuid.UUID) *domain.Transaction {
	for _, t := range u.created {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (u *unitOfWork) createdByKey(key string) *domain.Transaction {
	for _, t := range u.created {
		if t.IdempotencyKey == key {
			return t
		}
	}
	return nil
}

// lockAccount acquires the account semaphore for uow.
func (s *Store) lockAccount(ctx context.Context, uow *unitOfWork, id uuid.UUID) error {
	if _, ok := uow.held[id]; ok {
		return nil
	}

	s.mu.Lock()
	if _, ok := s.accounts[id]; !ok {
		s.mu.Unlock()
		return domain.ErrAccountNotFound
	}
	sem, ok := s.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[id] = sem
	}
	s.mu.Unlock()

	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := sem.Acquire(lockCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: account %s is locked", domain.ErrBusy, id)
	}
	uow.held[id] = sem
	return nil
}

// commit validates and applies uow atomically. It never observes the
// caller's context: once started it runs to completion.
func (s *Store) commit(uow *unitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range uow.newAccounts {
		if _, exists := s.accounts[a.ID]; exists {
			return fmt.Errorf("memstore: account %s already exists", a.ID)
		}
	}
	seen := make(map[string]bool)
	for _, t := range uow.created {
		if t.IdempotencyKey == "" {
			continue
		}
		if _, exists := s.byKey[t.IdempotencyKey]; exists || seen[t.IdempotencyKey] {
			return domain.ErrDuplicateIdempotencyKey
		}
		seen[t.IdempotencyKey] = true
	}
	for id := range uow.reversed {
		stored, ok := s.txns[id]
		if !ok {
			return domain.ErrTransactionNotFound
		}
		if stored.Status != domain.TransactionStatusCompleted {
			return domain.ErrNotReversible
		}
	}

	for _, a := range uow.newAccounts {
		s.accounts[a.ID] = *a
	}
	for id, a := range uow.accounts {
		if uow.dirty[id] {
			s.accounts[id] = *a
		}
	}
	for _, t := range uow.created {
		s.insertLocked(t)
	}
	for id, by := range uow.reversed {
		stored := s.txns[id]
		stored.Status = domain.TransactionStatusReversed
		reversedBy := by
		stored.ReversedBy = &reversedBy
	}
	return nil
}

func (s *Store) insertLocked(t *domain.Transaction) {
	s.txns[t.ID] = t.Clone()
	if t.IdempotencyKey != "" {
		s.byKey[t.IdempotencyKey] = t.ID
	}
	for _, id := range t.AccountIDs() {
		s.byAccount[id] = append(s.byAccount[id], t.ID)
	}
}

// TransactionManager implements domain.TransactionManager for the store.
type TransactionManager struct {
	store *Store
}

// NewTransactionManager creates a new TransactionManager.
func NewTransactionManager(store *Store) *TransactionManager {
	return &TransactionManager{store: store}
}

// WithTransaction runs fn with a fresh unit of work in the context. Staged
// writes are discarded if fn fails and applied together otherwise. Locks
// are held until the unit of work is committed or discarded. A nested call
// joins the surrounding transaction.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if getUnitOfWork(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	uow := newUnitOfWork()
	defer uow.release()

	if err := fn(context.WithValue(ctx, uowKey{}, uow)); err != nil {
		return err
	}
	return tm.store.commit(uow)
}
