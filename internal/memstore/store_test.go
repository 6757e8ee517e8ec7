package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

func newTestStore(t *testing.T, lockTimeout time.Duration) (*Store, *AccountRepository, *TransactionRepository, *TransactionManager) {
	t.Helper()
	s := New(lockTimeout)
	return s, NewAccountRepository(s), NewTransactionRepository(s), NewTransactionManager(s)
}

func seedAccount(t *testing.T, repo *AccountRepository, balance string) *domain.Account {
	t.Helper()
	account := domain.NewAccount("owner", "RUB", decimal.Zero, time.Now())
	account.Balance = decimal.RequireFromString(balance)
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return account
}

func TestWithTransaction_RollbackDiscardsStagedWrites(t *testing.T) {
	_, accounts, txns, tm := newTestStore(t, time.Second)
	account := seedAccount(t, accounts, "100")
	boom := errors.New("boom")

	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		locked, err := accounts.Lock(ctx, account.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.RequireFromString("1")
		if err := accounts.Update(ctx, locked); err != nil {
			return err
		}
		txn := domain.NewTransaction(domain.TransactionTypeDeposit, nil, &account.ID, decimal.NewFromInt(1), time.Now())
		if err := txns.Create(ctx, txn); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTransaction() error = %v, want boom", err)
	}

	stored, err := accounts.GetByID(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if !stored.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %s after rollback, want 100", stored.Balance)
	}
	page, _ := txns.ListByAccount(context.Background(), domain.HistoryQuery{AccountID: account.ID, Limit: 10})
	if len(page) != 0 {
		t.Errorf("history has %d records after rollback, want 0", len(page))
	}

	// The lock was released with the discarded unit of work.
	err = tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := accounts.Lock(ctx, account.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Lock() after rollback error: %v", err)
	}
}

func TestLock_TimesOutWithBusy(t *testing.T) {
	_, accounts, _, tm := newTestStore(t, 20*time.Millisecond)
	account := seedAccount(t, accounts, "0")

	err := tm.WithTransaction(context.Background(), func(outer context.Context) error {
		if _, err := accounts.Lock(outer, account.ID); err != nil {
			return err
		}
		// A second, independent transaction competes for the same row.
		return tm.WithTransaction(context.Background(), func(inner context.Context) error {
			_, err := accounts.Lock(inner, account.ID)
			return err
		})
	})
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy", err)
	}
}

func TestLock_RequiresTransactionAndAccount(t *testing.T) {
	_, accounts, _, tm := newTestStore(t, time.Second)

	if _, err := accounts.Lock(context.Background(), uuid.New()); !errors.Is(err, errNoTransaction) {
		t.Errorf("Lock() outside transaction error = %v, want errNoTransaction", err)
	}
	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := accounts.Lock(ctx, uuid.New())
		return err
	})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Lock(unknown) error = %v, want ErrAccountNotFound", err)
	}
}

func TestUpdate_RequiresLock(t *testing.T) {
	_, accounts, _, tm := newTestStore(t, time.Second)
	account := seedAccount(t, accounts, "0")

	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		return accounts.Update(ctx, account)
	})
	if err == nil {
		t.Fatal("Update() without Lock should fail")
	}
}

func TestCommit_RejectsDuplicateIdempotencyKey(t *testing.T) {
	_, accounts, txns, tm := newTestStore(t, time.Second)
	account := seedAccount(t, accounts, "0")

	create := func() error {
		return tm.WithTransaction(context.Background(), func(ctx context.Context) error {
			txn := domain.NewTransaction(domain.TransactionTypeDeposit, nil, &account.ID, decimal.NewFromInt(1), time.Now())
			txn.IdempotencyKey = "k"
			return txns.Create(ctx, txn)
		})
	}
	if err := create(); err != nil {
		t.Fatalf("first create error: %v", err)
	}
	if err := create(); !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		t.Fatalf("second create error = %v, want ErrDuplicateIdempotencyKey", err)
	}

	got, err := txns.GetByIdempotencyKey(context.Background(), "k")
	if err != nil || got == nil {
		t.Fatalf("GetByIdempotencyKey() = %v, %v", got, err)
	}
	missing, err := txns.GetByIdempotencyKey(context.Background(), "other")
	if err != nil || missing != nil {
		t.Errorf("GetByIdempotencyKey(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMarkReversed(t *testing.T) {
	_, accounts, txns, tm := newTestStore(t, time.Second)
	account := seedAccount(t, accounts, "0")

	original := domain.NewTransaction(domain.TransactionTypeDeposit, nil, &account.ID, decimal.NewFromInt(5), time.Now())
	original.MarkCompleted("ok", time.Now())
	if err := txns.Create(context.Background(), original); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	compensation := uuid.New()
	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		if err := txns.MarkReversed(ctx, original.ID, compensation); err != nil {
			return err
		}
		seen, err := txns.GetByID(ctx, original.ID)
		if err != nil {
			return err
		}
		if seen.Status != domain.TransactionStatusReversed {
			t.Errorf("status inside transaction = %s, want REVERSED", seen.Status)
		}
		return txns.MarkReversed(ctx, original.ID, compensation)
	})
	if !errors.Is(err, domain.ErrNotReversible) {
		t.Fatalf("double MarkReversed() error = %v, want ErrNotReversible", err)
	}

	stored, _ := txns.GetByID(context.Background(), original.ID)
	if stored.Status != domain.TransactionStatusCompleted {
		t.Errorf("status after rollback = %s, want COMPLETED", stored.Status)
	}
}

func TestListByAccount_OrdersAndPages(t *testing.T) {
	_, accounts, txns, _ := newTestStore(t, time.Second)
	account := seedAccount(t, accounts, "0")
	other := seedAccount(t, accounts, "0")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of order on purpose.
	for _, minute := range []int{3, 1, 2, 0} {
		txn := domain.NewTransaction(domain.TransactionTypeDeposit, nil, &account.ID, decimal.NewFromInt(1), base.Add(time.Duration(minute)*time.Minute))
		if err := txns.Create(context.Background(), txn); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}
	unrelated := domain.NewTransaction(domain.TransactionTypeDeposit, nil, &other.ID, decimal.NewFromInt(1), base)
	if err := txns.Create(context.Background(), unrelated); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	first, _ := txns.ListByAccount(context.Background(), domain.HistoryQuery{AccountID: account.ID, Limit: 2})
	if len(first) != 2 || !first[0].CreatedAt.Equal(base) || !first[1].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("first page = %d records, want minutes 0 and 1", len(first))
	}
	second, _ := txns.ListByAccount(context.Background(), domain.HistoryQuery{
		AccountID: account.ID,
		After:     domain.CursorOf(first[1]),
		Limit:     2,
	})
	if len(second) != 2 || !second[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("second page = %d records, want minutes 2 and 3", len(second))
	}

	window, _ := txns.ListByAccount(context.Background(), domain.HistoryQuery{
		AccountID: account.ID,
		From:      base.Add(time.Minute),
		To:        base.Add(3 * time.Minute),
		Limit:     10,
	})
	if len(window) != 2 {
		t.Errorf("window = %d records, want 2", len(window))
	}
}
