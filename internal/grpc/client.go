package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// LedgerClient is the client other services use to call the ledger over
// gRPC. It speaks the json content subtype registered by this package.
type LedgerClient struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// NewLedgerClient creates a LedgerClient connected to addr. Connections are
// insecure unless opts override the transport credentials.
func NewLedgerClient(addr string, opts ...grpc.DialOption) (*LedgerClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger service: %w", err)
	}
	return &LedgerClient{cc: conn, conn: conn}, nil
}

func (c *LedgerClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+LedgerServiceName+"/"+method, in, out, opts...)
}

func (c *LedgerClient) OpenAccount(ctx context.Context, in *OpenAccountRequest, opts ...grpc.CallOption) (*Account, error) {
	out := new(Account)
	if err := c.invoke(ctx, "OpenAccount", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) GetAccount(ctx context.Context, in *GetAccountRequest, opts ...grpc.CallOption) (*Account, error) {
	out := new(Account)
	if err := c.invoke(ctx, "GetAccount", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*Transaction, error) {
	out := new(Transaction)
	if err := c.invoke(ctx, "Deposit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*Transaction, error) {
	out := new(Transaction)
	if err := c.invoke(ctx, "Withdraw", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*Transaction, error) {
	out := new(Transaction)
	if err := c.invoke(ctx, "Transfer", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Reverse(ctx context.Context, in *ReverseRequest, opts ...grpc.CallOption) (*Transaction, error) {
	out := new(Transaction)
	if err := c.invoke(ctx, "Reverse", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTransactions opens the history stream. Recv returns io.EOF after the
// last record.
func (c *LedgerClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*TransactionStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &LedgerService_ServiceDesc.Streams[0], "/"+LedgerServiceName+"/ListTransactions", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TransactionStream{stream: stream}, nil
}

// TransactionStream is the client side of the history stream.
type TransactionStream struct {
	stream grpc.ClientStream
}

// Recv returns the next record.
func (s *TransactionStream) Recv() (*Transaction, error) {
	m := new(Transaction)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Close closes the underlying connection.
func (c *LedgerClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
