package grpctransport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// rpcServer is the method set serviceDesc dispatches onto. Writing this by
// hand in place of protoc-gen-go-grpc output keeps the transport to a
// single generic frame type (wrapperspb.BytesValue, a real generated
// well-known-type message, not a hand-rolled one) instead of standing up a
// .proto toolchain for a handful of methods.
type rpcServer interface {
	Publish(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Request(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	BucketGet(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	BucketPut(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	BucketDelete(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	BucketKeys(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Subscribe(*wrapperspb.BytesValue, grpc.ServerStream) error
	BucketWatch(*wrapperspb.BytesValue, grpc.ServerStream) error
}

func unaryHandler(method func(rpcServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(rpcServer)
		if interceptor == nil {
			return method(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(s, ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*rpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: unaryHandler(rpcServer.Publish)},
		{MethodName: "Request", Handler: unaryHandler(rpcServer.Request)},
		{MethodName: "BucketGet", Handler: unaryHandler(rpcServer.BucketGet)},
		{MethodName: "BucketPut", Handler: unaryHandler(rpcServer.BucketPut)},
		{MethodName: "BucketDelete", Handler: unaryHandler(rpcServer.BucketDelete)},
		{MethodName: "BucketKeys", Handler: unaryHandler(rpcServer.BucketKeys)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Subscribe",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				in := new(wrapperspb.BytesValue)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(rpcServer).Subscribe(in, stream)
			},
			ServerStreams: true,
		},
		{
			StreamName: "BucketWatch",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				in := new(wrapperspb.BytesValue)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(rpcServer).BucketWatch(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "wasmhost/lattice.proto",
}
