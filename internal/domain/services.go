package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/a3emond/FortisBankSystem/internal/metrics"
)

// DefaultHistoryPageSize is the number of records fetched per history page.
const DefaultHistoryPageSize = 100

// LedgerService is the ledger transfer engine. It owns account balances and
// the transaction log and applies every balance change atomically.
type LedgerService struct {
	accounts     AccountRepository
	transactions TransactionRepository
	txManager    TransactionManager

	// Optional event publisher to emit terminal transaction records
	publisher EventPublisher
	clock     Clock
	logger    *zap.Logger
	metrics   metrics.Collector
	pageSize  int
}

// Option configures a LedgerService.
type Option func(*LedgerService)

// WithEventPublisher sets the publisher notified after every committed record.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *LedgerService) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *LedgerService) { s.metrics = m }
}

// WithHistoryPageSize sets how many records History fetches per round trip.
func WithHistoryPageSize(n int) Option {
	return func(s *LedgerService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	accounts AccountRepository,
	transactions TransactionRepository,
	txManager TransactionManager,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		accounts:     accounts,
		transactions: transactions,
		txManager:    txManager,
		clock:        SystemClock,
		logger:       zap.NewNop(),
		metrics:      metrics.NoOpCollector{},
		pageSize:     DefaultHistoryPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenAccountRequest describes a new account.
type OpenAccountRequest struct {
	OwnerID    string
	Currency   string
	MinBalance decimal.Decimal // zero or negative; zero disables overdraft
}

// Balance is a point-in-time view of an account balance.
type Balance struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Status    AccountStatus
	AsOf      time.Time
}

// posting describes one balance-affecting request.
type posting struct {
	operation   string
	typ         TransactionType
	source      *uuid.UUID
	destination *uuid.UUID
	amount      decimal.Decimal
	key         string
	reversalOf  *Transaction
}

// OpenAccount creates an ACTIVE account with a zero balance.
func (s *LedgerService) OpenAccount(ctx context.Context, req OpenAccountRequest) (*Account, error) {
	start := time.Now()
	account, err := s.openAccount(ctx, req)
	s.observe("open_account", err, start)
	return account, err
}

func (s *LedgerService) openAccount(ctx context.Context, req OpenAccountRequest) (*Account, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	if err := ValidateCurrencyCode(req.Currency); err != nil {
		return nil, err
	}
	if !withinMaxAmount(req.MinBalance) {
		return nil, fmt.Errorf("%w: minimum balance must not be below -%s", ErrInvalidRequest, MaxAmount.String())
	}
	if req.MinBalance.IsPositive() || !req.MinBalance.Equal(req.MinBalance.Truncate(AmountScale)) {
		return nil, fmt.Errorf("%w: minimum balance must be zero or negative with at most %d decimal places", ErrInvalidRequest, AmountScale)
	}

	account := NewAccount(req.OwnerID, req.Currency, req.MinBalance, s.now())
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, s.classify(err)
	}

	s.logger.Info("account opened",
		zap.String("account_id", account.ID.String()),
		zap.String("currency", account.Currency),
	)
	return account, nil
}

// GetAccount returns the committed state of an account.
func (s *LedgerService) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, s.classify(err)
	}
	return account, nil
}

// GetTransaction returns a single record from the log.
func (s *LedgerService) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, s.classify(err)
	}
	return txn, nil
}

// Deposit credits an account.
//
// On a conflict (account not active) a FAILED record is committed and
// returned together with the error. Validation errors return no record.
func (s *LedgerService) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*Transaction, error) {
	return s.execute(ctx, posting{
		operation:   "deposit",
		typ:         TransactionTypeDeposit,
		destination: &accountID,
		amount:      amount,
		key:         idempotencyKey,
	})
}

// Withdraw debits an account. Fails with ErrInsufficientFunds if the balance
// would drop below the account minimum; the FAILED record is returned with the error.
func (s *LedgerService) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*Transaction, error) {
	return s.execute(ctx, posting{
		operation: "withdraw",
		typ:       TransactionTypeWithdrawal,
		source:    &accountID,
		amount:    amount,
		key:       idempotencyKey,
	})
}

// Transfer moves amount from source to destination. Either both balances
// change and a COMPLETED record is written, or neither changes.
//
// This operation is idempotent when idempotencyKey is set: calling it again
// with the same key and request returns the stored outcome without
// executing the transfer again.
//
// The transfer is executed atomically within one storage transaction:
//  1. Lock both accounts in ascending id order
//  2. Check status, currency and sufficient funds
//  3. Debit source, credit destination
//  4. Append the transaction record
//  5. Commit
func (s *LedgerService) Transfer(ctx context.Context, sourceID, destinationID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*Transaction, error) {
	return s.execute(ctx, posting{
		operation:   "transfer",
		typ:         TransactionTypeTransfer,
		source:      &sourceID,
		destination: &destinationID,
		amount:      amount,
		key:         idempotencyKey,
	})
}

// Reverse applies the compensating record for a COMPLETED transaction and
// marks the original REVERSED in the same atomic unit.
// A transfer A→B is compensated by a transfer B→A, a deposit by a
// withdrawal and a withdrawal by a deposit.
func (s *LedgerService) Reverse(ctx context.Context, transactionID uuid.UUID, idempotencyKey string) (*Transaction, error) {
	start := time.Now()
	original, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		err = s.classify(err)
		s.observe("reverse", err, start)
		return nil, err
	}

	p := posting{
		operation:  "reverse",
		amount:     original.Amount,
		key:        idempotencyKey,
		reversalOf: original,
	}
	switch original.Type {
	case TransactionTypeTransfer:
		p.typ = TransactionTypeTransfer
		p.source, p.destination = cloneID(original.DestinationID), cloneID(original.SourceID)
	case TransactionTypeDeposit:
		p.typ = TransactionTypeWithdrawal
		p.source = cloneID(original.DestinationID)
	case TransactionTypeWithdrawal:
		p.typ = TransactionTypeDeposit
		p.destination = cloneID(original.SourceID)
	default:
		s.observe("reverse", ErrNotReversible, start)
		return nil, ErrNotReversible
	}

	return s.execute(ctx, p)
}

// GetBalance returns the committed balance, read under the account lock so
// that it never observes a half-applied change.
func (s *LedgerService) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	start := time.Now()
	var balance *Balance
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := s.accounts.Lock(txCtx, accountID)
		if err != nil {
			return err
		}
		balance = &Balance{
			AccountID: account.ID,
			Amount:    account.Balance,
			Currency:  account.Currency,
			Status:    account.Status,
			AsOf:      s.now(),
		}
		return nil
	})
	err = s.classify(err)
	s.observe("get_balance", err, start)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// FreezeAccount moves an ACTIVE account to FROZEN.
func (s *LedgerService) FreezeAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.changeStatus(ctx, "freeze_account", accountID, (*Account).Freeze)
}

// UnfreezeAccount moves a FROZEN account back to ACTIVE.
func (s *LedgerService) UnfreezeAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.changeStatus(ctx, "unfreeze_account", accountID, (*Account).Unfreeze)
}

// CloseAccount closes an account with a zero balance. CLOSED is terminal.
func (s *LedgerService) CloseAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.changeStatus(ctx, "close_account", accountID, (*Account).Close)
}

func (s *LedgerService) changeStatus(ctx context.Context, operation string, accountID uuid.UUID, apply func(*Account, time.Time) error) (*Account, error) {
	start := time.Now()
	var account *Account
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		locked, err := s.accounts.Lock(txCtx, accountID)
		if err != nil {
			return err
		}
		if err := apply(locked, s.now()); err != nil {
			return err
		}
		if err := s.accounts.Update(txCtx, locked); err != nil {
			return fmt.Errorf("update account status: %w", err)
		}
		account = locked
		return nil
	})
	err = s.classify(err)
	s.observe(operation, err, start)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account status changed",
		zap.String("account_id", account.ID.String()),
		zap.String("status", string(account.Status)),
	)
	return account, nil
}

func (s *LedgerService) execute(ctx context.Context, p posting) (*Transaction, error) {
	start := time.Now()
	txn, err := s.apply(ctx, p)
	s.observe(p.operation, err, start)
	return txn, err
}

func (s *LedgerService) apply(ctx context.Context, p posting) (*Transaction, error) {
	if err := ValidateAmount(p.amount); err != nil {
		return nil, err
	}
	if p.source != nil && p.destination != nil && *p.source == *p.destination {
		return nil, ErrSameAccount
	}

	var hash string
	if p.key != "" {
		var reversalOf *uuid.UUID
		if p.reversalOf != nil {
			reversalOf = &p.reversalOf.ID
		}
		h, err := hashRequest(newOperationShape(p.typ, p.source, p.destination, p.amount, reversalOf))
		if err != nil {
			return nil, s.classify(err)
		}
		hash = h

		existing, err := s.transactions.GetByIdempotencyKey(ctx, p.key)
		if err != nil {
			return nil, s.classify(fmt.Errorf("check idempotency: %w", err))
		}
		if existing != nil {
			return replay(existing, hash)
		}
	}

	var (
		txn      *Transaction
		conflict error
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		conflict = nil

		var ids []uuid.UUID
		if p.source != nil {
			ids = append(ids, *p.source)
		}
		if p.destination != nil {
			ids = append(ids, *p.destination)
		}
		locked := make(map[uuid.UUID]*Account, len(ids))
		for _, id := range lockOrder(ids...) {
			account, err := s.accounts.Lock(txCtx, id)
			if err != nil {
				return fmt.Errorf("lock account %s: %w", id, err)
			}
			locked[id] = account
		}

		now := s.now()
		txn = NewTransaction(p.typ, p.source, p.destination, p.amount, now)
		txn.IdempotencyKey = p.key
		txn.RequestHash = hash

		var original *Transaction
		if p.reversalOf != nil {
			// Re-read under the account locks: a concurrent reverse may have won.
			o, err := s.transactions.GetByID(txCtx, p.reversalOf.ID)
			if err != nil {
				return err
			}
			if !o.Reversible() {
				return ErrNotReversible
			}
			original = o
			txn.ReversalOf = &o.ID
		}

		var source, destination *Account
		if p.source != nil {
			source = locked[*p.source]
			txn.Currency = source.Currency
		}
		if p.destination != nil {
			destination = locked[*p.destination]
			txn.Currency = destination.Currency
		}

		conflict = checkPosting(source, destination, p.amount)
		if conflict != nil {
			txn.MarkFailed(conflict, now)
			if err := s.transactions.Create(txCtx, txn); err != nil {
				return fmt.Errorf("create failed transaction record: %w", err)
			}
			return nil
		}

		if source != nil {
			if err := source.Debit(p.amount, now); err != nil {
				return fmt.Errorf("debit source account: %w", err)
			}
			if err := s.accounts.Update(txCtx, source); err != nil {
				return fmt.Errorf("update source account: %w", err)
			}
		}
		if destination != nil {
			if err := destination.Credit(p.amount, now); err != nil {
				return fmt.Errorf("credit destination account: %w", err)
			}
			if err := s.accounts.Update(txCtx, destination); err != nil {
				return fmt.Errorf("update destination account: %w", err)
			}
		}

		txn.MarkCompleted(completionMessage(txn), now)
		if err := s.transactions.Create(txCtx, txn); err != nil {
			return fmt.Errorf("create transaction record: %w", err)
		}
		if original != nil {
			if err := s.transactions.MarkReversed(txCtx, original.ID, txn.ID); err != nil {
				return fmt.Errorf("mark transaction reversed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if p.key != "" && errors.Is(err, ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent request carrying the same key.
			existing, lookupErr := s.transactions.GetByIdempotencyKey(ctx, p.key)
			if lookupErr == nil && existing != nil {
				return replay(existing, hash)
			}
		}
		return nil, s.classify(err)
	}

	s.publish(ctx, txn)
	if conflict != nil {
		return txn, conflict
	}
	return txn, nil
}

// checkPosting reports the conflict that prevents applying amount, if any.
// Either account may be nil.
func checkPosting(source, destination *Account, amount decimal.Decimal) error {
	for _, account := range []*Account{source, destination} {
		if account != nil && !account.IsActive() {
			return ErrAccountNotActive
		}
	}
	if source != nil && destination != nil && source.Currency != destination.Currency {
		return ErrCurrencyMismatch
	}
	if source != nil && !source.CanDebit(amount) {
		return ErrInsufficientFunds
	}
	return nil
}

func completionMessage(txn *Transaction) string {
	if txn.ReversalOf != nil {
		return "Reversal completed successfully"
	}
	switch txn.Type {
	case TransactionTypeDeposit:
		return "Deposit completed successfully"
	case TransactionTypeWithdrawal:
		return "Withdrawal completed successfully"
	default:
		return "Transfer completed successfully"
	}
}

// publish hands the record to the event publisher. Publishing never affects
// the outcome of an already committed operation.
func (s *LedgerService) publish(ctx context.Context, txn *Transaction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransaction(context.WithoutCancel(ctx), txn.Clone()); err != nil {
		s.logger.Warn("failed to publish transaction event",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
	}
}

// classify keeps ledger errors as they are and wraps everything else in ErrInternal.
func (s *LedgerService) classify(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

func (s *LedgerService) observe(operation string, err error, start time.Time) {
	code := Code(err)
	s.metrics.RecordOperation(operation, code, time.Since(start))

	switch {
	case err == nil:
		s.logger.Debug("ledger operation completed", zap.String("operation", operation))
	case errors.Is(err, ErrInternal):
		s.logger.Error("ledger operation failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
	case IsRetryable(err):
		s.logger.Warn("ledger operation busy", zap.String("operation", operation))
	default:
		s.logger.Debug("ledger operation rejected",
			zap.String("operation", operation),
			zap.String("code", code),
		)
	}
}

// now returns the clock time at the precision every store can persist.
func (s *LedgerService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
