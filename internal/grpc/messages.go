package grpc

// Amount is a decimal value with its ISO 4217 currency.
type Amount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type OpenAccountRequest struct {
	OwnerId      string `json:"owner_id"`
	CurrencyCode string `json:"currency_code"`
	MinBalance   string `json:"min_balance,omitempty"` // zero or negative; empty means zero
}

type GetAccountRequest struct {
	AccountId string `json:"account_id"`
}

type Account struct {
	AccountId  string  `json:"account_id"`
	OwnerId    string  `json:"owner_id"`
	Balance    *Amount `json:"balance"`
	MinBalance string  `json:"min_balance"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

type DepositRequest struct {
	AccountId      string `json:"account_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type WithdrawRequest struct {
	AccountId      string `json:"account_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type TransferRequest struct {
	SourceAccountId      string `json:"source_account_id"`
	DestinationAccountId string `json:"destination_account_id"`
	Amount               string `json:"amount"`
	IdempotencyKey       string `json:"idempotency_key,omitempty"`
}

type ReverseRequest struct {
	TransactionId  string `json:"transaction_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ListTransactionsRequest selects history with from <= created_at < to.
// Timestamps are RFC 3339; empty bounds are open. Cursor resumes after a
// previously returned record.
type ListTransactionsRequest struct {
	AccountId string `json:"account_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
	Limit     int32  `json:"limit,omitempty"`
}

type Transaction struct {
	TransactionId        string  `json:"transaction_id"`
	Type                 string  `json:"type"`
	SourceAccountId      string  `json:"source_account_id,omitempty"`
	DestinationAccountId string  `json:"destination_account_id,omitempty"`
	Amount               *Amount `json:"amount"`
	Status               string  `json:"status"`
	FailureReason        string  `json:"failure_reason,omitempty"`
	Message              string  `json:"message,omitempty"`
	ReversalOf           string  `json:"reversal_of,omitempty"`
	ReversedBy           string  `json:"reversed_by,omitempty"`
	CreatedAt            string  `json:"created_at"`
	CompletedAt          string  `json:"completed_at,omitempty"`
	Cursor               string  `json:"cursor"`
}
