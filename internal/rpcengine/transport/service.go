// Package transport implements the inter-worker gRPC connection used by
// the RPC engine's stub-generated calls (§4.5) and the mTLS worker-to-worker
// channel it rides on (§6, adapted from the teacher's gossip transport).
//
// There is no protoc step available to this engine, so the gRPC service
// here is hand-registered rather than generated: a grpc.ServiceDesc plus a
// JSON encoding.Codec (codec.go) stand in for a .proto file and its
// generated marshaling code. The wire shape (Envelope/Response) is the
// hand-written equivalent of a generated request/response message pair.
package transport

import (
	"context"

	"google.golang.org/grpc"
)

// Envelope is the wire request for a worker-to-worker RPC call: the calling
// stub's target worker, the imported function name, and the opaque
// request payload the durable-function dispatcher logs and replays.
type Envelope struct {
	WorkerID string `json:"worker_id"`
	Function string `json:"function"`
	Request  []byte `json:"request"`
}

// Response is the wire response: either a successful payload or an error
// message. Transport-level errors (connection refused, deadline exceeded)
// surface as gRPC status errors instead and never populate this struct.
type Response struct {
	Response []byte `json:"response"`
	Error    string `json:"error,omitempty"`
}

// WorkerTransportServer is implemented by the local dispatch adapter that
// routes an incoming call to the addressed worker's durable-function
// dispatcher.
type WorkerTransportServer interface {
	Invoke(ctx context.Context, req *Envelope) (*Response, error)
}

// WorkerTransportClient is the client-side stub used by rpcengine.Connection
// implementations to place outbound calls.
type WorkerTransportClient interface {
	Invoke(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Response, error)
}

type workerTransportClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerTransportClient builds a client over an established connection.
func NewWorkerTransportClient(cc grpc.ClientConnInterface) WorkerTransportClient {
	return &workerTransportClient{cc: cc}
}

func (c *workerTransportClient) Invoke(ctx context.Context, in *Envelope, opts ...grpc.CallOption) (*Response, error) {
	out := new(Response)
	opts = append(opts, grpc.CallContentSubtype(jsonCodecName))
	if err := c.cc.Invoke(ctx, "/golem.rpcengine.WorkerTransport/Invoke", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceDesc is the hand-registered grpc.ServiceDesc standing in for
// protoc-generated registration code.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "golem.rpcengine.WorkerTransport",
	HandlerType: (*WorkerTransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcengine/transport/service.go",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerTransportServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/golem.rpcengine.WorkerTransport/Invoke"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerTransportServer).Invoke(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterWorkerTransportServer registers srv against a *grpc.Server, the
// hand-written equivalent of generated RegisterXServer functions.
func RegisterWorkerTransportServer(s grpc.ServiceRegistrar, srv WorkerTransportServer) {
	s.RegisterService(&ServiceDesc, srv)
}
