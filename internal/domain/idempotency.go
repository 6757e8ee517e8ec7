package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
)

// operationShape is the part of a request that must match when an
// idempotency key is reused.
type operationShape struct {
	Type        TransactionType `json:"type"`
	Source      string          `json:"source,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	ReversalOf  string          `json:"reversal_of,omitempty"`
}

func newOperationShape(typ TransactionType, source, destination *uuid.UUID, amount decimal.Decimal, reversalOf *uuid.UUID) operationShape {
	shape := operationShape{Type: typ}
	if source != nil {
		shape.Source = source.String()
	}
	if destination != nil {
		shape.Destination = destination.String()
	}
	if reversalOf != nil {
		shape.ReversalOf = reversalOf.String()
	} else {
		shape.Amount = FormatAmount(amount)
	}
	return shape
}

// hashRequest returns the hex SHA-256 of the RFC 8785 canonical form of shape.
func hashRequest(shape operationShape) (string, error) {
	raw, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("marshal request shape: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize request shape: %w", err)
	}
	h := sha256.Sum256(canon)
	return hex.EncodeToString(h[:]), nil
}

// replay returns the outcome stored for an idempotency key. FAILED records
// are replayed together with the error they originally produced.
func replay(existing *Transaction, hash string) (*Transaction, error) {
	if existing.RequestHash != hash {
		return nil, ErrIdempotencyConflict
	}
	if existing.Status == TransactionStatusFailed {
		return existing, ErrorForCode(existing.FailureReason)
	}
	return existing, nil
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// lockOrder returns the distinct ids sorted ascending. Every operation that
// locks more than one account acquires the locks in this order.
func lockOrder(ids ...uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, compareIDs)
	return slices.Compact(out)
}
