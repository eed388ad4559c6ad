// Package service binds the miniui dispatcher to the bus. The bus is gRPC
// over a unix socket; every dispatcher method becomes a unary gRPC method
// of the "miniui" service whose request and reply are google.protobuf.Struct
// values.
package service

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"hackohio/miniui/internal/dispatch"
)

// ServiceName is the gRPC service name of the RPC object.
const ServiceName = dispatch.ObjectName

// Caller is the RPC object served on the bus.
type Caller interface {
	Methods() []string
	Call(ctx context.Context, method string, fields map[string]any) (dispatch.Reply, error)
}

// FullMethod returns the gRPC method path for an RPC method name.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes the miniui service with one unary method per name.
func ServiceDesc(methods []string) *grpc.ServiceDesc {
	sd := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Caller)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "miniui",
	}
	for _, m := range methods {
		sd.Methods = append(sd.Methods, grpc.MethodDesc{
			MethodName: m,
			Handler:    methodHandler(m),
		})
	}
	return sd
}

// Register adds the miniui service backed by c to s.
func Register(s grpc.ServiceRegistrar, c Caller) {
	s.RegisterService(ServiceDesc(c.Methods()), c)
}

func methodHandler(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return invoke(ctx, srv.(Caller), method, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, handler)
	}
}

// invoke bridges a gRPC request to the Caller.
func invoke(ctx context.Context, c Caller, method string, in *structpb.Struct) (*structpb.Struct, error) {
	reply, err := c.Call(ctx, method, in.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(reply)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

// toStatus maps dispatcher errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, dispatch.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, dispatch.ErrExecutionFailed):
		return status.Error(codes.Unknown, err.Error())
	case errors.Is(err, dispatch.ErrMethodNotFound):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, dispatch.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
