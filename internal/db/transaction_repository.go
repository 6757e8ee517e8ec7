package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

const transactionColumns = `
	id, type, source_id, destination_id, amount::text, currency, status,
	COALESCE(failure_reason, ''), message,
	COALESCE(idempotency_key, ''), COALESCE(request_hash, ''),
	reversal_of, reversed_by, created_at, completed_at`

// TransactionRepository implements domain.TransactionRepository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{
		pool: pool,
	}
}

// Create appends a record to the transaction log.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, type, source_id, destination_id, amount, currency, status,
			failure_reason, message, idempotency_key, request_hash,
			reversal_of, reversed_by, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6, $7,
			NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''),
			$12, $13, $14, $15
		)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		txn.ID,
		string(txn.Type),
		txn.SourceID,
		txn.DestinationID,
		domain.FormatAmount(txn.Amount),
		txn.Currency,
		string(txn.Status),
		txn.FailureReason,
		txn.Message,
		txn.IdempotencyKey,
		txn.RequestHash,
		txn.ReversalOf,
		txn.ReversedBy,
		txn.CreatedAt,
		txn.CompletedAt,
	)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, domain.ErrDuplicateIdempotencyKey) {
			return mapped
		}
		return fmt.Errorf("failed to create transaction: %w", mapError(err))
	}
	return nil
}

// GetByID retrieves a record by its unique identifier.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", mapError(err))
	}
	return txn, nil
}

// GetByIdempotencyKey retrieves a record by its idempotency key.
// Returns nil, nil if no record is found with the given key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	txn, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", mapError(err))
	}
	return txn, nil
}

// MarkReversed moves a COMPLETED record to REVERSED.
func (r *TransactionRepository) MarkReversed(ctx context.Context, id, reversedBy uuid.UUID) error {
	query := `
		UPDATE transactions
		SET status = 'REVERSED',
		    reversed_by = $2
		WHERE id = $1 AND status = 'COMPLETED'
	`

	q := conn(ctx, r.pool)
	result, err := q.Exec(ctx, query, id, reversedBy)
	if err != nil {
		return fmt.Errorf("failed to mark transaction reversed: %w", mapError(err))
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check transaction: %w", mapError(err))
		}
		if !exists {
			return domain.ErrTransactionNotFound
		}
		return domain.ErrNotReversible
	}
	return nil
}

// ListByAccount returns one keyset page of an account's history.
func (r *TransactionRepository) ListByAccount(ctx context.Context, q domain.HistoryQuery) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (source_id = $1 OR destination_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		  AND ($4::timestamptz IS NULL OR (created_at, id) > ($4::timestamptz, $5::uuid))
		ORDER BY created_at, id
		LIMIT $6
	`

	var (
		afterAt *time.Time
		afterID uuid.UUID
	)
	if q.After != nil {
		afterAt = &q.After.CreatedAt
		afterID = q.After.ID
	}

	rows, err := conn(ctx, r.pool).Query(ctx, query,
		q.AccountID,
		optionalTime(q.From),
		optionalTime(q.To),
		afterAt,
		afterID,
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", mapError(err))
	}
	defer rows.Close()

	var page []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		page = append(page, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", mapError(err))
	}
	return page, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn                 domain.Transaction
		typ, status, amount string
	)
	err := row.Scan(
		&txn.ID,
		&typ,
		&txn.SourceID,
		&txn.DestinationID,
		&amount,
		&txn.Currency,
		&status,
		&txn.FailureReason,
		&txn.Message,
		&txn.IdempotencyKey,
		&txn.RequestHash,
		&txn.ReversalOf,
		&txn.ReversedBy,
		&txn.CreatedAt,
		&txn.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	txn.Type = domain.TransactionType(typ)
	txn.Status = domain.TransactionStatus(status)
	return &txn, nil
}
