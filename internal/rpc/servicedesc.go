package rpc

import (
	"context"

	"github.com/MarkoPoloResearchLab/bookkeeper/api/ledgerv1"
	"google.golang.org/grpc"
)

// engineServiceDesc describes ledger.v1.LedgerEngine for grpc.Server
// registration. The handlers follow the shape protoc would generate so
// interceptors keep working.
var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerv1.ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Post", Handler: postHandler},
		{MethodName: "GetTransaction", Handler: getTransactionHandler},
		{MethodName: "CreateAccount", Handler: createAccountHandler},
		{MethodName: "CloseAccount", Handler: closeAccountHandler},
		{MethodName: "GetBalance", Handler: getBalanceHandler},
		{MethodName: "ListAccountEntries", Handler: listAccountEntriesHandler},
		{MethodName: "ListTransactionEntries", Handler: listTransactionEntriesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.json",
}

func postHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.PostRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).Post(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodPost}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).Post(ctx, request.(*ledgerv1.PostRequest))
	})
}

func getTransactionHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.GetTransactionRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).GetTransaction(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodGetTransaction}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).GetTransaction(ctx, request.(*ledgerv1.GetTransactionRequest))
	})
}

func createAccountHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.CreateAccountRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).CreateAccount(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodCreateAccount}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).CreateAccount(ctx, request.(*ledgerv1.CreateAccountRequest))
	})
}

func closeAccountHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.CloseAccountRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).CloseAccount(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodCloseAccount}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).CloseAccount(ctx, request.(*ledgerv1.CloseAccountRequest))
	})
}

func getBalanceHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.GetBalanceRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).GetBalance(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodGetBalance}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).GetBalance(ctx, request.(*ledgerv1.GetBalanceRequest))
	})
}

func listAccountEntriesHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.ListAccountEntriesRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).ListAccountEntries(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodListAccountEntries}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).ListAccountEntries(ctx, request.(*ledgerv1.ListAccountEntriesRequest))
	})
}

func listTransactionEntriesHandler(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	request := new(ledgerv1.ListTransactionEntriesRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(*EngineServer).ListTransactionEntries(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: methodListTransactionEntries}
	return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
		return server.(*EngineServer).ListTransactionEntries(ctx, request.(*ledgerv1.ListTransactionEntriesRequest))
	})
}
