package domain

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HistoryRange selects records with From <= CreatedAt < To. Zero bounds are
// open. After resumes iteration strictly after a previously seen record.
type HistoryRange struct {
	From  time.Time
	To    time.Time
	After *HistoryCursor
}

// CursorOf returns the position of txn, for resuming History after it.
func CursorOf(txn *Transaction) *HistoryCursor {
	return &HistoryCursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
}

// Token encodes the cursor as an opaque URL-safe string.
func (c HistoryCursor) Token() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseHistoryCursor decodes a token produced by HistoryCursor.Token.
func ParseHistoryCursor(token string) (*HistoryCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidRequest)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidRequest)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor time", ErrInvalidRequest)
	}
	recordID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor id", ErrInvalidRequest)
	}
	return &HistoryCursor{CreatedAt: createdAt, ID: recordID}, nil
}

// History returns the records involving accountID in timestamp order.
//
// The sequence is lazy: records are fetched page by page as the caller
// ranges over it. Each range over the returned sequence starts a fresh
// query. When To is open the sequence stops at the time iteration began,
// so it is always finite. Errors are yielded once and end the sequence.
func (s *LedgerService) History(ctx context.Context, accountID uuid.UUID, r HistoryRange) iter.Seq2[*Transaction, error] {
	return func(yield func(*Transaction, error) bool) {
		if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
			yield(nil, fmt.Errorf("%w: history range ends before it starts", ErrInvalidRequest))
			return
		}
		if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
			yield(nil, s.classify(err))
			return
		}

		q := HistoryQuery{
			AccountID: accountID,
			From:      r.From,
			To:        r.To,
			After:     r.After,
			Limit:     s.pageSize,
		}
		if q.To.IsZero() {
			q.To = s.now().Add(time.Microsecond)
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := s.transactions.ListByAccount(ctx, q)
			if err != nil {
				yield(nil, s.classify(fmt.Errorf("list transactions: %w", err)))
				return
			}
			for _, txn := range page {
				if !yield(txn, nil) {
					return
				}
			}
			if len(page) < q.Limit {
				return
			}
			q.After = CursorOf(page[len(page)-1])
		}
	}
}
