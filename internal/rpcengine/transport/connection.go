package transport

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/golemcloud/golem/internal/ids"
)

// GRPCConnection implements rpcengine.Connection over the mTLS worker
// transport: each call dials (or reuses) a connection to the peer holding
// the target worker and places an Invoke call.
type GRPCConnection struct {
	client WorkerTransportClient
}

// Dial establishes a connection to a peer executor and wraps it as a
// GRPCConnection. serverName must match the peer certificate's subject for
// TLS verification.
func Dial(ctx context.Context, addr, certFile, keyFile, caFile, serverName string) (*GRPCConnection, error) {
	tlsCfg, err := buildClientTLS(certFile, keyFile, caFile, serverName)
	if err != nil {
		return nil, err
	}
	cc, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &GRPCConnection{client: NewWorkerTransportClient(cc)}, nil
}

// NewGRPCConnection wraps an already-constructed client, used by tests with
// an in-process bufconn listener.
func NewGRPCConnection(client WorkerTransportClient) *GRPCConnection {
	return &GRPCConnection{client: client}
}

// Invoke implements rpcengine.Connection.
func (c *GRPCConnection) Invoke(ctx context.Context, workerID ids.WorkerId, function string, request []byte) ([]byte, error) {
	resp, err := c.client.Invoke(ctx, &Envelope{
		WorkerID: workerID.String(),
		Function: function,
		Request:  request,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: invoke %s %s: %w", workerID, function, err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Response, nil
}
