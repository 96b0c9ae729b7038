package ledger

import (
	context "context"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	TransferService_Transfer_FullMethodName      = "/ledger.TransferService/Transfer"
	TransferService_ListTransfers_FullMethodName = "/ledger.TransferService/ListTransfers"
	TransferService_GetTransfer_FullMethodName   = "/ledger.TransferService/GetTransfer"
	TransferService_OpenAccount_FullMethodName   = "/ledger.TransferService/OpenAccount"
	TransferService_ListAccounts_FullMethodName  = "/ledger.TransferService/ListAccounts"
)

type TransferServiceClient interface {
	Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error)
	ListTransfers(ctx context.Context, in *ListTransfersRequest, opts ...grpc.CallOption) (*ListTransfersResponse, error)
	GetTransfer(ctx context.Context, in *GetTransferRequest, opts ...grpc.CallOption) (*TransferResponse, error)
	OpenAccount(ctx context.Context, in *OpenAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error)
	ListAccounts(ctx context.Context, in *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error)
}

type transferServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTransferServiceClient(cc grpc.ClientConnInterface) TransferServiceClient {
	return &transferServiceClient{cc: cc}
}

func (c *transferServiceClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransferService_Transfer_FullMethodName, in.toStruct(), out, opts...); err != nil {
		return nil, err
	}
	resp := new(TransferResponse)
	resp.fromStruct(out)
	return resp, nil
}

func (c *transferServiceClient) ListTransfers(ctx context.Context, in *ListTransfersRequest, opts ...grpc.CallOption) (*ListTransfersResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransferService_ListTransfers_FullMethodName, in.toStruct(), out, opts...); err != nil {
		return nil, err
	}
	resp := new(ListTransfersResponse)
	resp.fromStruct(out)
	return resp, nil
}

func (c *transferServiceClient) GetTransfer(ctx context.Context, in *GetTransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransferService_GetTransfer_FullMethodName, in.toStruct(), out, opts...); err != nil {
		return nil, err
	}
	resp := new(TransferResponse)
	resp.fromStruct(out)
	return resp, nil
}

func (c *transferServiceClient) OpenAccount(ctx context.Context, in *OpenAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransferService_OpenAccount_FullMethodName, in.toStruct(), out, opts...); err != nil {
		return nil, err
	}
	resp := new(AccountResponse)
	resp.fromStruct(out)
	return resp, nil
}

func (c *transferServiceClient) ListAccounts(ctx context.Context, in *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransferService_ListAccounts_FullMethodName, in.toStruct(), out, opts...); err != nil {
		return nil, err
	}
	resp := new(ListAccountsResponse)
	resp.fromStruct(out)
	return resp, nil
}

type TransferServiceServer interface {
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	ListTransfers(context.Context, *ListTransfersRequest) (*ListTransfersResponse, error)
	GetTransfer(context.Context, *GetTransferRequest) (*TransferResponse, error)
	OpenAccount(context.Context, *OpenAccountRequest) (*AccountResponse, error)
	ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error)
}

// UnimplementedTransferServiceServer can be embedded to have forward compatible implementations.
type UnimplementedTransferServiceServer struct{}

func (UnimplementedTransferServiceServer) Transfer(context.Context, *TransferRequest) (*TransferResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Transfer not implemented")
}

func (UnimplementedTransferServiceServer) ListTransfers(context.Context, *ListTransfersRequest) (*ListTransfersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListTransfers not implemented")
}

func (UnimplementedTransferServiceServer) GetTransfer(context.Context, *GetTransferRequest) (*TransferResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTransfer not implemented")
}

func (UnimplementedTransferServiceServer) OpenAccount(context.Context, *OpenAccountRequest) (*AccountResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method OpenAccount not implemented")
}

func (UnimplementedTransferServiceServer) ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListAccounts not implemented")
}

func RegisterTransferServiceServer(s grpc.ServiceRegistrar, srv TransferServiceServer) {
	s.RegisterService(&TransferService_ServiceDesc, srv)
}

// unary runs the interceptor chain over the typed request and encodes the
// typed response back to a Struct.
func unary(
	srv any, ctx context.Context, interceptor grpc.UnaryServerInterceptor,
	method string, req any, call func(context.Context, any) (any, error),
	encode func(any) *structpb.Struct,
) (any, error) {
	var (
		out any
		err error
	)
	if interceptor == nil {
		out, err = call(ctx, req)
	} else {
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		out, err = interceptor(ctx, req, info, call)
	}
	if err != nil {
		return nil, err
	}
	return encode(out), nil
}

func _TransferService_Transfer_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	req := new(TransferRequest)
	req.fromStruct(in)
	return unary(srv, ctx, interceptor, TransferService_Transfer_FullMethodName, req,
		func(ctx context.Context, req any) (any, error) {
			return srv.(TransferServiceServer).Transfer(ctx, req.(*TransferRequest))
		},
		func(out any) *structpb.Struct { return out.(*TransferResponse).toStruct() },
	)
}

func _TransferService_ListTransfers_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	req := new(ListTransfersRequest)
	req.fromStruct(in)
	return unary(srv, ctx, interceptor, TransferService_ListTransfers_FullMethodName, req,
		func(ctx context.Context, req any) (any, error) {
			return srv.(TransferServiceServer).ListTransfers(ctx, req.(*ListTransfersRequest))
		},
		func(out any) *structpb.Struct { return out.(*ListTransfersResponse).toStruct() },
	)
}

func _TransferService_GetTransfer_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	req := new(GetTransferRequest)
	req.fromStruct(in)
	return unary(srv, ctx, interceptor, TransferService_GetTransfer_FullMethodName, req,
		func(ctx context.Context, req any) (any, error) {
			return srv.(TransferServiceServer).GetTransfer(ctx, req.(*GetTransferRequest))
		},
		func(out any) *structpb.Struct { return out.(*TransferResponse).toStruct() },
	)
}

func _TransferService_OpenAccount_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	req := new(OpenAccountRequest)
	req.fromStruct(in)
	return unary(srv, ctx, interceptor, TransferService_OpenAccount_FullMethodName, req,
		func(ctx context.Context, req any) (any, error) {
			return srv.(TransferServiceServer).OpenAccount(ctx, req.(*OpenAccountRequest))
		},
		func(out any) *structpb.Struct { return out.(*AccountResponse).toStruct() },
	)
}

func _TransferService_ListAccounts_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	req := new(ListAccountsRequest)
	req.fromStruct(in)
	return unary(srv, ctx, interceptor, TransferService_ListAccounts_FullMethodName, req,
		func(ctx context.Context, req any) (any, error) {
			return srv.(TransferServiceServer).ListAccounts(ctx, req.(*ListAccountsRequest))
		},
		func(out any) *structpb.Struct { return out.(*ListAccountsResponse).toStruct() },
	)
}

var TransferService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ledger.TransferService",
	HandlerType: (*TransferServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transfer", Handler: _TransferService_Transfer_Handler},
		{MethodName: "ListTransfers", Handler: _TransferService_ListTransfers_Handler},
		{MethodName: "GetTransfer", Handler: _TransferService_GetTransfer_Handler},
		{MethodName: "OpenAccount", Handler: _TransferService_OpenAccount_Handler},
		{MethodName: "ListAccounts", Handler: _TransferService_ListAccounts_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/transfer.proto",
}
