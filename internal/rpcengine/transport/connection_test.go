package transport

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/golemcloud/golem/internal/ids"
)

type fakeDispatcher struct {
	response []byte
	err      error
	worker   ids.WorkerId
	function string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, workerID ids.WorkerId, function string, _ []byte) ([]byte, error) {
	f.worker = workerID
	f.function = function
	return f.response, f.err
}

func dialBufconn(t *testing.T, lis *bufconn.Listener) WorkerTransportClient {
	t.Helper()
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return NewWorkerTransportClient(cc)
}

func TestGRPCConnection_InvokeRoundTrip(t *testing.T) {
	dispatcher := &fakeDispatcher{response: []byte("result")}
	lis := bufconn.Listen(1024 * 1024)
	grpcSrv := grpc.NewServer()
	RegisterWorkerTransportServer(grpcSrv, &dispatchServer{dispatcher: dispatcher, log: zap.NewNop()})
	go func() { _ = grpcSrv.Serve(lis) }()
	t.Cleanup(grpcSrv.Stop)

	conn := NewGRPCConnection(dialBufconn(t, lis))
	worker := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "w1"}

	resp, err := conn.Invoke(context.Background(), worker, "target:method", []byte("req"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(resp) != "result" {
		t.Fatalf("unexpected response %q", resp)
	}
	if dispatcher.worker != worker || dispatcher.function != "target:method" {
		t.Fatalf("dispatcher received worker=%v function=%q", dispatcher.worker, dispatcher.function)
	}
}

func TestGRPCConnection_PropagatesDispatchError(t *testing.T) {
	dispatcher := &fakeDispatcher{err: errors.New("no such worker")}
	lis := bufconn.Listen(1024 * 1024)
	grpcSrv := grpc.NewServer()
	RegisterWorkerTransportServer(grpcSrv, &dispatchServer{dispatcher: dispatcher, log: zap.NewNop()})
	go func() { _ = grpcSrv.Serve(lis) }()
	t.Cleanup(grpcSrv.Stop)

	conn := NewGRPCConnection(dialBufconn(t, lis))
	worker := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "w1"}

	_, err := conn.Invoke(context.Background(), worker, "target:method", nil)
	if err == nil {
		t.Fatal("expected dispatch error to propagate")
	}
}
