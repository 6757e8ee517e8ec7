package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// LedgerServiceName is the fully qualified gRPC service name.
const LedgerServiceName = "ledger.v1.LedgerService"

// LedgerServiceServer is the server API for the ledger service.
type LedgerServiceServer interface {
	OpenAccount(context.Context, *OpenAccountRequest) (*Account, error)
	GetAccount(context.Context, *GetAccountRequest) (*Account, error)
	Deposit(context.Context, *DepositRequest) (*Transaction, error)
	Withdraw(context.Context, *WithdrawRequest) (*Transaction, error)
	Transfer(context.Context, *TransferRequest) (*Transaction, error)
	Reverse(context.Context, *ReverseRequest) (*Transaction, error)
	ListTransactions(*ListTransactionsRequest, LedgerService_ListTransactionsServer) error
}

// LedgerService_ListTransactionsServer is the server side of the history stream.
type LedgerService_ListTransactionsServer interface {
	Send(*Transaction) error
	grpc.ServerStream
}

type listTransactionsServer struct {
	grpc.ServerStream
}

func (x *listTransactionsServer) Send(m *Transaction) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterLedgerServiceServer registers srv with s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerService_ServiceDesc, srv)
}

// unaryHandler adapts a typed server method to a grpc.MethodHandler.
func unaryHandler[Req, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + LedgerServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func listTransactionsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(ListTransactionsRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(LedgerServiceServer).ListTransactions(m, &listTransactionsServer{stream})
}

// LedgerService_ServiceDesc is the grpc.ServiceDesc for the ledger service.
var LedgerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenAccount", Handler: unaryHandler("OpenAccount", LedgerServiceServer.OpenAccount)},
		{MethodName: "GetAccount", Handler: unaryHandler("GetAccount", LedgerServiceServer.GetAccount)},
		{MethodName: "Deposit", Handler: unaryHandler("Deposit", LedgerServiceServer.Deposit)},
		{MethodName: "Withdraw", Handler: unaryHandler("Withdraw", LedgerServiceServer.Withdraw)},
		{MethodName: "Transfer", Handler: unaryHandler("Transfer", LedgerServiceServer.Transfer)},
		{MethodName: "Reverse", Handler: unaryHandler("Reverse", LedgerServiceServer.Reverse)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ListTransactions",
			Handler:       listTransactionsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ledger/v1/ledger.proto",
}
