// Package archive keeps an append-only copy of ledger events in ClickHouse
// for audit and analytics queries.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/a3emond/FortisBankSystem/internal/config"
	"github.com/a3emond/FortisBankSystem/internal/domain"
	"github.com/a3emond/FortisBankSystem/internal/events"
)

const schema = `
	CREATE TABLE IF NOT EXISTS ledger_events (
		event_id               String,
		event_type             LowCardinality(String),
		transaction_id         String,
		type                   LowCardinality(String),
		source_account_id      String,
		destination_account_id String,
		amount_value           Decimal(18, 2),
		amount_currency        LowCardinality(String),
		status                 LowCardinality(String),
		failure_reason         String,
		reversal_of            String,
		idempotency_key        String,
		timestamp              DateTime64(6, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (timestamp, transaction_id)
`

// Archive is an events.Sink writing to the ledger_events table.
type Archive struct {
	conn   driver.Conn
	logger *zap.Logger
}

// Open connects to ClickHouse and creates the ledger_events table if needed.
func Open(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Host},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	a := &Archive{conn: conn, logger: logger.Named("archive")}
	if err := a.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	a.logger.Info("ClickHouse archive ready",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return a, nil
}

// EnsureSchema creates the ledger_events table if it does not exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if err := a.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger_events table: %w", err)
	}
	return nil
}

// Name implements events.Sink.
func (a *Archive) Name() string {
	return "clickhouse"
}

// Send inserts one event row.
func (a *Archive) Send(ctx context.Context, event events.TransactionEvent) error {
	args, err := rowOf(event)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_events (
			event_id, event_type, transaction_id, type,
			source_account_id, destination_account_id,
			amount_value, amount_currency, status, failure_reason,
			reversal_of, idempotency_key, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if err := a.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.EventID, err)
	}
	return nil
}

// ListAccountEvents returns the archived events touching accountID, oldest
// first. A non-positive limit returns all of them.
func (a *Archive) ListAccountEvents(ctx context.Context, accountID string, limit int) ([]events.TransactionEvent, error) {
	query := `
		SELECT
			event_id, event_type, transaction_id, type,
			source_account_id, destination_account_id,
			toString(amount_value) AS amount_value, amount_currency, status, failure_reason,
			reversal_of, idempotency_key, timestamp
		FROM ledger_events
		WHERE source_account_id = ? OR destination_account_id = ?
		ORDER BY timestamp, transaction_id
	`
	args := []interface{}{accountID, accountID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var result []events.TransactionEvent
	for rows.Next() {
		var (
			e           events.TransactionEvent
			amountValue string
			ts          time.Time
		)
		err := rows.Scan(
			&e.EventID,
			&e.EventType,
			&e.TransactionID,
			&e.Type,
			&e.SourceAccountID,
			&e.DestinationAccountID,
			&amountValue,
			&e.Amount.CurrencyCode,
			&e.Status,
			&e.FailureReason,
			&e.ReversalOf,
			&e.IdempotencyKey,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		// toString() drops trailing zeros ("150.5").
		if amount, err := decimal.NewFromString(amountValue); err == nil {
			e.Amount.Value = domain.FormatAmount(amount)
		} else {
			e.Amount.Value = amountValue
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339Nano)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return result, nil
}

// Close closes the ClickHouse connection.
func (a *Archive) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// rowOf converts an event to insert arguments in column order.
func rowOf(event events.TransactionEvent) ([]interface{}, error) {
	amount, err := decimal.NewFromString(event.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("event %s has invalid amount %q: %w", event.EventID, event.Amount.Value, err)
	}
	ts, err := event.ParseTime()
	if err != nil {
		return nil, fmt.Errorf("event %s has invalid timestamp %q: %w", event.EventID, event.Timestamp, err)
	}

	return []interface{}{
		event.EventID,
		event.EventType,
		event.TransactionID,
		event.Type,
		event.SourceAccountID,
		event.DestinationAccountID,
		amount,
		event.Amount.CurrencyCode,
		event.Status,
		event.FailureReason,
		event.ReversalOf,
		event.IdempotencyKey,
		ts.UTC(),
	}, nil
}
