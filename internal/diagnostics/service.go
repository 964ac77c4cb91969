// Package diagnostics serves read-only engine state over gRPC: the message
// trace of the last tick, a status summary and the standard health service.
package diagnostics

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"netsync/client/internal/dispatch"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "netsync.diagnostics.v1.Diagnostics"

const (
	protoTraceMethod = "/" + ServiceName + "/ProtoTrace"
	statusMethod     = "/" + ServiceName + "/Status"
)

// Source supplies what the service reports. Implementations must be safe to
// call from the gRPC goroutines.
type Source interface {
	ProtoTrace() (tick int, entries []dispatch.TraceEntry)
	Status() map[string]any
}

// DiagnosticsServer is the server side of the service.
type DiagnosticsServer interface {
	ProtoTrace(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc registers DiagnosticsServer implementations with a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProtoTrace", Handler: protoTraceHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "netsync/diagnostics/v1/diagnostics.proto",
}

func protoTraceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiagnosticsServer).ProtoTrace(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: protoTraceMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(DiagnosticsServer).ProtoTrace(ctx, req.(*emptypb.Empty))
	})
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiagnosticsServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(DiagnosticsServer).Status(ctx, req.(*emptypb.Empty))
	})
}

// Service implements DiagnosticsServer over a Source.
type Service struct {
	source Source
}

// NewService wraps source.
func NewService(source Source) *Service {
	return &Service{source: source}
}

// ProtoTrace reports every message handled during the latest tick.
func (s *Service) ProtoTrace(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if s == nil || s.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "diagnostics unavailable")
	}
	tick, entries := s.source.ProtoTrace()
	//1.- structpb only accepts generic slices and maps.
	list := make([]any, 0, len(entries))
	for _, entry := range entries {
		list = append(list, map[string]any{
			"type": int(entry.Type),
			"name": entry.Name,
			"size": entry.Size,
			"dump": entry.Dump,
		})
	}
	out, err := structpb.NewStruct(map[string]any{"tick": tick, "entries": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode trace: %v", err)
	}
	return out, nil
}

// Status reports the engine summary.
func (s *Service) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if s == nil || s.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "diagnostics unavailable")
	}
	out, err := structpb.NewStruct(s.source.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// Client calls the diagnostics service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ProtoTrace fetches the latest tick's trace.
func (c *Client) ProtoTrace(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, protoTraceMethod, opts...)
}

// Status fetches the engine summary.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, statusMethod, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if c == nil || c.cc == nil {
		return nil, fmt.Errorf("diagnostics client not connected")
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
