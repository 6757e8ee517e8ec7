package grpc_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/a3emond/FortisBankSystem/internal/domain"
	grpcserver "github.com/a3emond/FortisBankSystem/internal/grpc"
	"github.com/a3emond/FortisBankSystem/internal/memstore"
)

const bufSize = 1024 * 1024

// startServer serves a memstore-backed ledger over bufconn.
func startServer(t *testing.T) *grpcserver.LedgerClient {
	t.Helper()

	store := memstore.New(time.Second)
	ledger := domain.NewLedgerService(
		memstore.NewAccountRepository(store),
		memstore.NewTransactionRepository(store),
		memstore.NewTransactionManager(store),
		domain.WithHistoryPageSize(2),
	)

	lis := bufconn.Listen(bufSize)
	srv := grpcserver.NewGRPCServer(nil)
	grpcserver.RegisterLedgerServiceServer(srv, grpcserver.NewLedgerServer(ledger))
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("grpc server error: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	bufDialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}
	client, err := grpcserver.NewLedgerClient("passthrough:///bufnet", grpc.WithContextDialer(bufDialer))
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func openAccount(t *testing.T, client *grpcserver.LedgerClient, deposit string) string {
	t.Helper()
	ctx := context.Background()
	account, err := client.OpenAccount(ctx, &grpcserver.OpenAccountRequest{OwnerId: "owner", CurrencyCode: "RUB"})
	if err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
	if deposit != "" {
		if _, err := client.Deposit(ctx, &grpcserver.DepositRequest{AccountId: account.AccountId, Amount: deposit}); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
	}
	return account.AccountId
}

func balanceOf(t *testing.T, client *grpcserver.LedgerClient, id string) string {
	t.Helper()
	account, err := client.GetAccount(context.Background(), &grpcserver.GetAccountRequest{AccountId: id})
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	return account.Balance.Value
}

func TestLedgerService_TransferFlow(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()
	a, b := openAccount(t, client, "1000"), openAccount(t, client, "500")

	resp, err := client.Transfer(ctx, &grpcserver.TransferRequest{
		SourceAccountId:      a,
		DestinationAccountId: b,
		Amount:               "150",
		IdempotencyKey:       "transfer-1",
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if resp.Status != "COMPLETED" || resp.Amount.Value != "150.00" || resp.Amount.CurrencyCode != "RUB" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.TransactionId == "" || resp.Cursor == "" {
		t.Error("expected transaction_id and cursor")
	}
	if got := balanceOf(t, client, a); got != "850.00" {
		t.Errorf("balance of A = %s, want 850.00", got)
	}
	if got := balanceOf(t, client, b); got != "650.00" {
		t.Errorf("balance of B = %s, want 650.00", got)
	}

	// Replay returns the stored record.
	replay, err := client.Transfer(ctx, &grpcserver.TransferRequest{
		SourceAccountId:      a,
		DestinationAccountId: b,
		Amount:               "150.00",
		IdempotencyKey:       "transfer-1",
	})
	if err != nil || replay.TransactionId != resp.TransactionId {
		t.Fatalf("replay = %+v, %v; want %s", replay, err, resp.TransactionId)
	}

	// Same key, different request.
	_, err = client.Transfer(ctx, &grpcserver.TransferRequest{
		SourceAccountId:      a,
		DestinationAccountId: b,
		Amount:               "151",
		IdempotencyKey:       "transfer-1",
	})
	if status.Code(err) != codes.AlreadyExists {
		t.Errorf("expected AlreadyExists, got %v", err)
	}

	// Reverse restores both balances.
	if _, err := client.Reverse(ctx, &grpcserver.ReverseRequest{TransactionId: resp.TransactionId}); err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	if got := balanceOf(t, client, a); got != "1000.00" {
		t.Errorf("balance of A after reverse = %s, want 1000.00", got)
	}
	_, err = client.Reverse(ctx, &grpcserver.ReverseRequest{TransactionId: resp.TransactionId})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition on second reverse, got %v", err)
	}
}

func TestLedgerService_FailedRecordTrailer(t *testing.T) {
	client := startServer(t)
	a, b := openAccount(t, client, "100"), openAccount(t, client, "")

	var trailer metadata.MD
	_, err := client.Transfer(context.Background(), &grpcserver.TransferRequest{
		SourceAccountId:      a,
		DestinationAccountId: b,
		Amount:               "150",
	}, grpc.Trailer(&trailer))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	ids := trailer.Get(grpcserver.TransactionIDTrailer)
	if len(ids) != 1 {
		t.Fatalf("expected one %s trailer, got %v", grpcserver.TransactionIDTrailer, ids)
	}
	if _, err := uuid.Parse(ids[0]); err != nil {
		t.Errorf("trailer %q is not a transaction id", ids[0])
	}
	if got := balanceOf(t, client, a); got != "100.00" {
		t.Errorf("balance of A = %s, want 100.00", got)
	}
}

func TestLedgerService_ListTransactions(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()
	a, b := openAccount(t, client, "100"), openAccount(t, client, "")
	for _, amount := range []string{"1", "2", "3", "4"} {
		if _, err := client.Transfer(ctx, &grpcserver.TransferRequest{SourceAccountId: a, DestinationAccountId: b, Amount: amount}); err != nil {
			t.Fatalf("Transfer failed: %v", err)
		}
	}

	collect := func(req *grpcserver.ListTransactionsRequest) []*grpcserver.Transaction {
		t.Helper()
		stream, err := client.ListTransactions(ctx, req)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		var out []*grpcserver.Transaction
		for {
			txn, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return out
			}
			if err != nil {
				t.Fatalf("Recv failed: %v", err)
			}
			out = append(out, txn)
		}
	}

	// The page size is 2, so five records span three pages.
	all := collect(&grpcserver.ListTransactionsRequest{AccountId: a})
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
	if all[0].Type != "DEPOSIT" || all[4].Amount.Value != "4.00" {
		t.Errorf("unexpected order: first %s, last %s", all[0].Type, all[4].Amount.Value)
	}

	first := collect(&grpcserver.ListTransactionsRequest{AccountId: a, Limit: 2})
	if len(first) != 2 {
		t.Fatalf("expected 2 records with limit, got %d", len(first))
	}
	rest := collect(&grpcserver.ListTransactionsRequest{AccountId: a, Cursor: first[1].Cursor})
	if len(rest) != 3 || rest[0].TransactionId != all[2].TransactionId {
		t.Errorf("resume after cursor returned %d records", len(rest))
	}

	stream, err := client.ListTransactions(ctx, &grpcserver.ListTransactionsRequest{AccountId: uuid.NewString()})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if _, err := stream.Recv(); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for unknown account, got %v", err)
	}
}

func TestLedgerService_ValidationErrors(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()
	a := openAccount(t, client, "10")

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{
			name: "missing owner",
			call: func() error {
				_, err := client.OpenAccount(ctx, &grpcserver.OpenAccountRequest{CurrencyCode: "RUB"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "invalid account id",
			call: func() error {
				_, err := client.GetAccount(ctx, &grpcserver.GetAccountRequest{AccountId: "invalid-uuid"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown account",
			call: func() error {
				_, err := client.GetAccount(ctx, &grpcserver.GetAccountRequest{AccountId: uuid.NewString()})
				return err
			},
			code: codes.NotFound,
		},
		{
			name: "missing amount",
			call: func() error {
				_, err := client.Deposit(ctx, &grpcserver.DepositRequest{AccountId: a})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "three decimal places",
			call: func() error {
				_, err := client.Withdraw(ctx, &grpcserver.WithdrawRequest{AccountId: a, Amount: "1.005"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "same account",
			call: func() error {
				_, err := client.Transfer(ctx, &grpcserver.TransferRequest{SourceAccountId: a, DestinationAccountId: a, Amount: "1"})
				return err
			},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown transaction",
			call: func() error {
				_, err := client.Reverse(ctx, &grpcserver.ReverseRequest{TransactionId: uuid.NewString()})
				return err
			},
			code: codes.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("expected gRPC status error, got: %v", err)
			}
			if st.Code() != tt.code {
				t.Errorf("expected error code %v, got %v (%s)", tt.code, st.Code(), st.Message())
			}
		})
	}
}
