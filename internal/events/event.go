// Package events delivers committed ledger records to downstream sinks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

// Event types carried in TransactionEvent.EventType.
const (
	EventTypeCompleted = "transaction.completed"
	EventTypeFailed    = "transaction.failed"
	EventTypeReversed  = "transaction.reversed"
)

// TransactionEvent is the JSON payload published for every committed record.
type TransactionEvent struct {
	EventID              string `json:"eventId"`
	EventType            string `json:"eventType"`
	TransactionID        string `json:"transactionId"`
	Type                 string `json:"type"`
	SourceAccountID      string `json:"sourceAccountId,omitempty"`
	DestinationAccountID string `json:"destinationAccountId,omitempty"`
	Amount               Amount `json:"amount"`
	Status               string `json:"status"`
	FailureReason        string `json:"failureReason,omitempty"`
	ReversalOf           string `json:"reversalOf,omitempty"`
	IdempotencyKey       string `json:"idempotencyKey,omitempty"`
	Timestamp            string `json:"timestamp"`
}

// Amount is a decimal value with its currency.
type Amount struct {
	Value        string `json:"value"`        // Fixed two-digit decimal, e.g. "100.50"
	CurrencyCode string `json:"currencyCode"` // ISO 4217
}

// Sink receives events from the Dispatcher.
type Sink interface {
	Name() string
	Send(ctx context.Context, event TransactionEvent) error
}

// NewTransactionEvent builds the event for a committed record.
func NewTransactionEvent(txn *domain.Transaction) TransactionEvent {
	event := TransactionEvent{
		EventID:        uuid.NewString(),
		EventType:      eventTypeOf(txn),
		TransactionID:  txn.ID.String(),
		Type:           string(txn.Type),
		Amount:         Amount{Value: domain.FormatAmount(txn.Amount), CurrencyCode: txn.Currency},
		Status:         string(txn.Status),
		FailureReason:  txn.FailureReason,
		IdempotencyKey: txn.IdempotencyKey,
		Timestamp:      eventTime(txn).UTC().Format(time.RFC3339Nano),
	}
	if txn.SourceID != nil {
		event.SourceAccountID = txn.SourceID.String()
	}
	if txn.DestinationID != nil {
		event.DestinationAccountID = txn.DestinationID.String()
	}
	if txn.ReversalOf != nil {
		event.ReversalOf = txn.ReversalOf.String()
	}
	return event
}

// RoutingKey is the topic the event is published under, for example
// "ledger.transaction.completed".
func (e TransactionEvent) RoutingKey() string {
	return "ledger." + e.EventType
}

// Marshal encodes the event as JSON.
func (e TransactionEvent) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.EventID, err)
	}
	return body, nil
}

// ParseTime returns the event timestamp.
func (e TransactionEvent) ParseTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

func eventTypeOf(txn *domain.Transaction) string {
	switch {
	case txn.Status == domain.TransactionStatusFailed:
		return EventTypeFailed
	case txn.ReversalOf != nil:
		return EventTypeReversed
	default:
		return EventTypeCompleted
	}
}

func eventTime(txn *domain.Transaction) time.Time {
	if txn.CompletedAt != nil {
		return *txn.CompletedAt
	}
	return txn.CreatedAt
}
