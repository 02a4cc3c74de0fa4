package grpc

import (
	"context"

	"github.com/maxpert/hotspot/toppartitions"
	"google.golang.org/grpc"
)

const (
	serviceName   = "hotspot.Sampling"
	executeMethod = "/" + serviceName + "/Execute"
)

// ExecuteRequest carries one sampling op to a peer
type ExecuteRequest struct {
	Op toppartitions.Op `msgpack:"op"`
}

// ExecuteResponse holds one result per shard of the peer
type ExecuteResponse struct {
	Results []toppartitions.ShardResult `msgpack:"results"`
}

// SamplingServer is the node side of the sampling service
type SamplingServer interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

// RegisterSamplingServer registers srv on s. Messages are msgpack encoded, so
// the service is described by hand instead of through protoc.
func RegisterSamplingServer(s grpc.ServiceRegistrar, srv SamplingServer) {
	s.RegisterService(&samplingServiceDesc, srv)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SamplingServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: executeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SamplingServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var samplingServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SamplingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hotspot/sampling",
}
