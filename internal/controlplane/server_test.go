package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/ids"
)

func TestServer_ListenAndServeTCP_RoundTripsCreateWorker(t *testing.T) {
	d, componentID := newTestDispatcher(t)
	srv := NewServer(d, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := lis.Addr().String()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.serve(ctx, lis) }()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}
	args, _ := json.Marshal(createWorkerArgs{WorkerId: workerID.String()})
	req := Request{Operation: OpCreateWorker, Args: args}
	reqBytes, _ := json.Marshal(req)
	reqBytes = append(reqBytes, '\n')

	if _, err := conn.Write(reqBytes); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
}
