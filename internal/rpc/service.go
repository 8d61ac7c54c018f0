package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC name of the node service.
const ServiceName = "tendermint.node.v1.NodeService"

const (
	methodGetStatus      = "/" + ServiceName + "/GetStatus"
	methodGetCommit      = "/" + ServiceName + "/GetCommit"
	methodVerifyHeader   = "/" + ServiceName + "/VerifyHeader"
	methodSubscribeSteps = "/" + ServiceName + "/SubscribeSteps"
)

// NodeServiceServer is the server API for the node service. Messages are
// protobuf well-known types so no generated code is needed.
type NodeServiceServer interface {
	// GetStatus returns the engine status.
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// GetCommit returns the stored commit for a block hash, or the latest
	// commit when the hash is empty.
	GetCommit(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	// VerifyHeader runs seal and family checks on an RLP header.
	VerifyHeader(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// SubscribeSteps streams every step the engine enters.
	SubscribeSteps(*emptypb.Empty, NodeService_SubscribeStepsServer) error
}

// NodeService_SubscribeStepsServer is the server side of SubscribeSteps.
type NodeService_SubscribeStepsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeStepsServer struct {
	grpc.ServerStream
}

func (x *subscribeStepsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// NodeServiceDesc describes the node service for grpc.Server.RegisterService.
var NodeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "GetCommit", Handler: getCommitHandler},
		{MethodName: "VerifyHeader", Handler: verifyHeaderHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeSteps",
			Handler:       subscribeStepsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "tendermint/node/v1/node.proto",
}

// RegisterNodeServiceServer registers srv with s.
func RegisterNodeServiceServer(s grpc.ServiceRegistrar, srv NodeServiceServer) {
	s.RegisterService(&NodeServiceDesc, srv)
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getCommitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).GetCommit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetCommit}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServiceServer).GetCommit(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyHeaderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).VerifyHeader(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodVerifyHeader}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServiceServer).VerifyHeader(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeStepsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(NodeServiceServer).SubscribeSteps(m, &subscribeStepsServer{stream})
}

// NodeServiceClient is the client API for the node service.
type NodeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewNodeServiceClient wraps a client connection.
func NewNodeServiceClient(cc grpc.ClientConnInterface) *NodeServiceClient {
	return &NodeServiceClient{cc: cc}
}

func (c *NodeServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NodeServiceClient) GetCommit(ctx context.Context, hash []byte, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetCommit, wrapperspb.Bytes(hash), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NodeServiceClient) VerifyHeader(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodVerifyHeader, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StepStream receives step events from SubscribeSteps.
type StepStream struct {
	grpc.ClientStream
}

// Recv blocks for the next step event.
func (x *StepStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *NodeServiceClient) SubscribeSteps(ctx context.Context, opts ...grpc.CallOption) (*StepStream, error) {
	stream, err := c.cc.NewStream(ctx, &NodeServiceDesc.Streams[0], methodSubscribeSteps, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &StepStream{stream}, nil
}
