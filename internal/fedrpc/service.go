package fedrpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "sairen.federation.v1.Federation"

// FederationServer is the hub-side checkpoint exchange handler.
type FederationServer interface {
	PublishCheckpoint(context.Context, *CheckpointEnvelope) (*AckResponse, error)
	FetchAggregate(context.Context, *AggregateRequest) (*AggregateResponse, error)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a two-method unary "Federation" service. Registered
// against a *grpc.Server the same way generated code does:
// grpcSrv.RegisterService(&fedrpc.ServiceDesc, impl).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FederationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PublishCheckpoint", Handler: publishCheckpointHandler},
		{MethodName: "FetchAggregate", Handler: fetchAggregateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/fedrpc/federation.proto",
}

func publishCheckpointHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckpointEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FederationServer).PublishCheckpoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/PublishCheckpoint"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FederationServer).PublishCheckpoint(ctx, req.(*CheckpointEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchAggregateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AggregateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FederationServer).FetchAggregate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/FetchAggregate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FederationServer).FetchAggregate(ctx, req.(*AggregateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is a thin stub over a *grpc.ClientConn, the hand-written
// equivalent of a generated FederationClient.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an already-dialed connection (see Dial).
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) PublishCheckpoint(ctx context.Context, in *CheckpointEnvelope) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/PublishCheckpoint", in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchAggregate(ctx context.Context, in *AggregateRequest) (*AggregateResponse, error) {
	out := new(AggregateResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/FetchAggregate", in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.cc.Close() }
