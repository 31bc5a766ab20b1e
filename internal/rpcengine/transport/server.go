package transport

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/golemcloud/golem/internal/ids"
)

// LocalDispatcher routes an incoming call to the addressed worker's
// durable-function dispatcher, returning the same payload that would be
// returned locally and logged to its oplog.
type LocalDispatcher interface {
	Dispatch(ctx context.Context, workerID ids.WorkerId, function string, request []byte) ([]byte, error)
}

// dispatchServer adapts a LocalDispatcher to WorkerTransportServer.
type dispatchServer struct {
	dispatcher LocalDispatcher
	log        *zap.Logger
}

func (s *dispatchServer) Invoke(ctx context.Context, req *Envelope) (*Response, error) {
	workerID, err := ids.ParseWorkerId(req.WorkerID)
	if err != nil {
		return &Response{Error: err.Error()}, nil
	}
	resp, err := s.dispatcher.Dispatch(ctx, workerID, req.Function, req.Request)
	if err != nil {
		s.log.Warn("worker transport dispatch failed",
			zap.String("worker_id", req.WorkerID),
			zap.String("function", req.Function),
			zap.Error(err))
		return &Response{Error: err.Error()}, nil
	}
	return &Response{Response: resp}, nil
}

// ListenAndServe starts the mTLS worker transport server on addr, blocking
// until ctx is canceled, mirroring the gossip layer's ListenAndServe.
func ListenAndServe(ctx context.Context, addr, certFile, keyFile, caFile string, dispatcher LocalDispatcher, log *zap.Logger) error {
	tlsCfg, err := buildServerTLS(certFile, keyFile, caFile)
	if err != nil {
		return fmt.Errorf("transport: tls config: %w", err)
	}

	grpcSrv := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsCfg)))
	RegisterWorkerTransportServer(grpcSrv, &dispatchServer{dispatcher: dispatcher, log: log})

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	log.Info("worker transport listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("transport: grpc serve: %w", err)
	}
	return nil
}
