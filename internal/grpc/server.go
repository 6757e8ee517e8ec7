package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

// TransactionIDTrailer carries the id of the FAILED record written for a
// rejected balance change.
const TransactionIDTrailer = "x-transaction-id"

// LedgerServer implements LedgerServiceServer on top of the ledger engine.
type LedgerServer struct {
	ledger *domain.LedgerService
}

// NewLedgerServer creates a new LedgerServer.
func NewLedgerServer(ledger *domain.LedgerService) *LedgerServer {
	return &LedgerServer{ledger: ledger}
}

// NewGRPCServer creates a gRPC server with logging interceptors.
func NewGRPCServer(logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("grpc")

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024 * 4), // 4MB max receive message size
		grpc.MaxSendMsgSize(1024 * 1024 * 4), // 4MB max send message size
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
		grpc.ChainStreamInterceptor(streamLogger(logger)),
	}
	return grpc.NewServer(opts...)
}

// OpenAccount creates a new account.
func (s *LedgerServer) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*Account, error) {
	if req.OwnerId == "" {
		return nil, status.Error(codes.InvalidArgument, "owner_id is required")
	}
	if req.CurrencyCode == "" {
		return nil, status.Error(codes.InvalidArgument, "currency_code is required")
	}
	minBalance := decimal.Zero
	if req.MinBalance != "" {
		var err error
		if minBalance, err = decimal.NewFromString(req.MinBalance); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid min_balance: %v", err)
		}
	}

	account, err := s.ledger.OpenAccount(ctx, domain.OpenAccountRequest{
		OwnerID:    req.OwnerId,
		Currency:   req.CurrencyCode,
		MinBalance: minBalance,
	})
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return toAccount(account), nil
}

// GetAccount returns an account with its balance.
func (s *LedgerServer) GetAccount(ctx context.Context, req *GetAccountRequest) (*Account, error) {
	accountID, err := parseID("account_id", req.AccountId)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, mapDomainErrorToGRPC(err)
	}
	return toAccount(account), nil
}

// Deposit credits an account.
func (s *LedgerServer) Deposit(ctx context.Context, req *DepositRequest) (*Transaction, error) {
	accountID, err := parseID("account_id", req.AccountId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.Deposit(ctx, accountID, amount, req.IdempotencyKey)
	return respond(ctx, txn, err)
}

// Withdraw debits an account.
func (s *LedgerServer) Withdraw(ctx context.Context, req *WithdrawRequest) (*Transaction, error) {
	accountID, err := parseID("account_id", req.AccountId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.Withdraw(ctx, accountID, amount, req.IdempotencyKey)
	return respond(ctx, txn, err)
}

// Transfer moves funds between two accounts atomically.
// This operation is idempotent when called with the same idempotency key.
func (s *LedgerServer) Transfer(ctx context.Context, req *TransferRequest) (*Transaction, error) {
	sourceID, err := parseID("source_account_id", req.SourceAccountId)
	if err != nil {
		return nil, err
	}
	destinationID, err := parseID("destination_account_id", req.DestinationAccountId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.Transfer(ctx, sourceID, destinationID, amount, req.IdempotencyKey)
	return respond(ctx, txn, err)
}

// Reverse compensates a completed record.
func (s *LedgerServer) Reverse(ctx context.Context, req *ReverseRequest) (*Transaction, error) {
	transactionID, err := parseID("transaction_id", req.TransactionId)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.Reverse(ctx, transactionID, req.IdempotencyKey)
	return respond(ctx, txn, err)
}

// ListTransactions streams the history of an account, oldest first.
func (s *LedgerServer) ListTransactions(req *ListTransactionsRequest, stream LedgerService_ListTransactionsServer) error {
	accountID, err := parseID("account_id", req.AccountId)
	if err != nil {
		return err
	}
	if req.Limit < 0 {
		return status.Error(codes.InvalidArgument, "limit must not be negative")
	}

	var r domain.HistoryRange
	if r.From, err = parseTime("from", req.From); err != nil {
		return err
	}
	if r.To, err = parseTime("to", req.To); err != nil {
		return err
	}
	if req.Cursor != "" {
		if r.After, err = domain.ParseHistoryCursor(req.Cursor); err != nil {
			return status.Error(codes.InvalidArgument, "invalid cursor")
		}
	}

	sent := int32(0)
	for txn, err := range s.ledger.History(stream.Context(), accountID, r) {
		if err != nil {
			return mapDomainErrorToGRPC(err)
		}
		if err := stream.Send(toTransaction(txn)); err != nil {
			return err
		}
		sent++
		if req.Limit > 0 && sent >= req.Limit {
			break
		}
	}
	return nil
}

// respond converts an engine result. A FAILED record written for a
// rejected request is reported through the transaction id trailer.
func respond(ctx context.Context, txn *domain.Transaction, err error) (*Transaction, error) {
	if err != nil {
		if txn != nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(TransactionIDTrailer, txn.ID.String()))
		}
		return nil, mapDomainErrorToGRPC(err)
	}
	return toTransaction(txn), nil
}

func parseID(field, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, status.Error(codes.InvalidArgument, "amount is required")
	}
	amount, err := domain.ParseAmount(value)
	if err != nil {
		return decimal.Zero, mapDomainErrorToGRPC(err)
	}
	return amount, nil
}

func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return t, nil
}

// mapDomainErrorToGRPC maps domain errors to gRPC status codes.
func mapDomainErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotActive),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrNotReversible),
		errors.Is(err, domain.ErrAccountNotEmpty),
		errors.Is(err, domain.ErrInvalidStatusTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		// Generic internal error
		return status.Error(codes.Internal, "internal error")
	}
}

func toAccount(a *domain.Account) *Account {
	return &Account{
		AccountId:  a.ID.String(),
		OwnerId:    a.OwnerID,
		Balance:    &Amount{Value: domain.FormatAmount(a.Balance), CurrencyCode: a.Currency},
		MinBalance: domain.FormatAmount(a.MinBalance),
		Status:     string(a.Status),
		CreatedAt:  formatTimestamp(a.CreatedAt),
		UpdatedAt:  formatTimestamp(a.UpdatedAt),
	}
}

func toTransaction(t *domain.Transaction) *Transaction {
	out := &Transaction{
		TransactionId: t.ID.String(),
		Type:          string(t.Type),
		Amount:        &Amount{Value: domain.FormatAmount(t.Amount), CurrencyCode: t.Currency},
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		Message:       t.Message,
		CreatedAt:     formatTimestamp(t.CreatedAt),
		Cursor:        domain.CursorOf(t).Token(),
	}
	if t.SourceID != nil {
		out.SourceAccountId = t.SourceID.String()
	}
	if t.DestinationID != nil {
		out.DestinationAccountId = t.DestinationID.String()
	}
	if t.ReversalOf != nil {
		out.ReversalOf = t.ReversalOf.String()
	}
	if t.ReversedBy != nil {
		out.ReversedBy = t.ReversedBy.String()
	}
	if t.CompletedAt != nil {
		out.CompletedAt = formatTimestamp(*t.CompletedAt)
	}
	return out
}

// formatTimestamp formats a time.Time to RFC 3339 with microseconds.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func streamLogger(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("duration", time.Since(start)),
	}
	switch code {
	case codes.OK:
		logger.Debug("rpc completed", fields...)
	case codes.Internal, codes.Unknown:
		logger.Error("rpc failed", append(fields, zap.Error(err))...)
	default:
		logger.Info("rpc rejected", append(fields, zap.Error(err))...)
	}
}

var _ LedgerServiceServer = (*LedgerServer)(nil)
