package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/a3emond/FortisBankSystem/internal/config"
	"github.com/a3emond/FortisBankSystem/internal/domain"
	"github.com/a3emond/FortisBankSystem/internal/events"
)

func transferEvent(t *testing.T, src, dst uuid.UUID, amount string) events.TransactionEvent {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	txn := domain.NewTransaction(domain.TransactionTypeTransfer, &src, &dst, decimal.RequireFromString(amount), now)
	txn.Currency = "RUB"
	txn.MarkCompleted("ok", now)
	return events.NewTransactionEvent(txn)
}

func TestRowOf(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	event := transferEvent(t, src, dst, "150.5")

	args, err := rowOf(event)
	if err != nil {
		t.Fatalf("rowOf() error: %v", err)
	}
	if len(args) != 13 {
		t.Fatalf("rowOf() returned %d columns, want 13", len(args))
	}
	if amount, ok := args[6].(decimal.Decimal); !ok || !amount.Equal(decimal.RequireFromString("150.50")) {
		t.Errorf("amount column = %v, want 150.50", args[6])
	}
	if ts, ok := args[12].(time.Time); !ok || ts.Nanosecond() != 123456000 {
		t.Errorf("timestamp column = %v, want microsecond precision", args[12])
	}
	if args[4] != src.String() || args[5] != dst.String() {
		t.Errorf("account columns = %v, %v", args[4], args[5])
	}
}

func TestRowOf_RejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*events.TransactionEvent)
		wantErr string
	}{
		{"bad amount", func(e *events.TransactionEvent) { e.Amount.Value = "ten" }, "invalid amount"},
		{"bad timestamp", func(e *events.TransactionEvent) { e.Timestamp = "yesterday" }, "invalid timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := transferEvent(t, uuid.New(), uuid.New(), "1")
			tt.mutate(&event)
			if _, err := rowOf(event); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("rowOf() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestArchive_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:23.3.8.21-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("clickhouse"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		t.Fatalf("failed to start ClickHouse container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate ClickHouse container: %v", err)
		}
	}()

	host, err := container.ConnectionHost(ctx)
	if err != nil {
		t.Fatalf("failed to get ClickHouse host: %v", err)
	}

	archive, err := Open(ctx, config.ClickHouseConfig{
		Host:     host,
		Database: "default",
		User:     "default",
		Password: "clickhouse",
	}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer archive.Close()

	// Schema creation is idempotent.
	if err := archive.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	first := transferEvent(t, a, b, "150.5")
	second := transferEvent(t, c, a, "20")
	unrelated := transferEvent(t, b, c, "1")
	for _, e := range []events.TransactionEvent{first, second, unrelated} {
		if err := archive.Send(ctx, e); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}

	got, err := archive.ListAccountEvents(ctx, a.String(), 0)
	if err != nil {
		t.Fatalf("ListAccountEvents() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAccountEvents() returned %d events, want 2", len(got))
	}
	byID := map[string]events.TransactionEvent{}
	for _, e := range got {
		byID[e.EventID] = e
	}
	stored, ok := byID[first.EventID]
	if !ok {
		t.Fatalf("event %s was not archived", first.EventID)
	}
	if stored.Amount.Value != "150.50" || stored.Amount.CurrencyCode != "RUB" {
		t.Errorf("stored amount = %+v, want 150.50 RUB", stored.Amount)
	}
	if stored.Timestamp != first.Timestamp {
		t.Errorf("stored timestamp = %s, want %s", stored.Timestamp, first.Timestamp)
	}

	limited, err := archive.ListAccountEvents(ctx, a.String(), 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("ListAccountEvents(limit 1) = %d events, %v", len(limited), err)
	}
}
