package coord

import (
	"context"

	"google.golang.org/grpc"
)

// BarrierRequest names the (epoch, layer, direction) tag every graph
// server calling Barrier for the same pass must agree on (spec.md
// §4.1.4).
type BarrierRequest struct {
	NodeID uint32
	Tag    string
}

type BarrierResponse struct{}

type TermRequest struct {
	NodeID uint32
}

type TermResponse struct{}

// NodeCoordinatorServer is implemented by Server below.
type NodeCoordinatorServer interface {
	Barrier(context.Context, *BarrierRequest) (*BarrierResponse, error)
	Term(context.Context, *TermRequest) (*TermResponse, error)
}

func barrierHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(BarrierRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeCoordinatorServer).Barrier(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dorylus.coord.NodeCoordinator/Barrier"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeCoordinatorServer).Barrier(ctx, req.(*BarrierRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func termHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(TermRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeCoordinatorServer).Term(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dorylus.coord.NodeCoordinator/Term"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeCoordinatorServer).Term(ctx, req.(*TermRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-built stand-in for a protoc-generated
// _NodeCoordinator_serviceDesc: same shape, manually authored method
// table.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dorylus.coord.NodeCoordinator",
	HandlerType: (*NodeCoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Barrier", Handler: barrierHandler},
		{MethodName: "Term", Handler: termHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dorylus/coord.proto",
}

// RegisterNodeCoordinatorServer mirrors the generated
// RegisterXServer(s *grpc.Server, srv XServer) helper.
func RegisterNodeCoordinatorServer(s *grpc.Server, srv NodeCoordinatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}
