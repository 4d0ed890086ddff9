// Package rpc describes the ailoop.v1.Broker gRPC service. Payloads are
// google.protobuf.Struct values holding the same JSON shapes the REST API
// uses, so the service needs no generated message types.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ailoop.v1.Broker"

// Method names.
const (
	MethodSendMessage = "SendMessage"
	MethodGetMessage  = "GetMessage"
	MethodRespond     = "Respond"
	MethodRequest     = "Request"
	MethodHealth      = "Health"
	MethodWatch       = "Watch"
)

// FullMethod returns the invocation path of a method, e.g.
// "/ailoop.v1.Broker/SendMessage".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// BrokerServer is implemented by the broker's gRPC front end.
type BrokerServer interface {
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Respond(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Request blocks until the request is answered or times out.
	Request(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Watch streams messages from the channels named in the request.
	Watch(*structpb.Struct, grpc.ServerStream) error
}

// WatchStreamDesc describes the server-streaming Watch method.
var WatchStreamDesc = grpc.StreamDesc{
	StreamName:    MethodWatch,
	ServerStreams: true,
	Handler: func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return srv.(BrokerServer).Watch(in, stream)
	},
}

// ServiceDesc is the grpc.ServiceDesc for BrokerServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSendMessage, BrokerServer.SendMessage),
		unary(MethodGetMessage, BrokerServer.GetMessage),
		unary(MethodRespond, BrokerServer.Respond),
		unary(MethodRequest, BrokerServer.Request),
		unary(MethodHealth, BrokerServer.Health),
	},
	Streams:  []grpc.StreamDesc{WatchStreamDesc},
	Metadata: "ailoop/v1/broker.proto",
}

// RegisterBrokerServer registers srv on s.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryCall func(BrokerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BrokerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BrokerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
