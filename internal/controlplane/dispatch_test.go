package controlplane

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/golemcloud/golem/internal/ids"
)

type fakeExecutor struct {
	response []byte
	err      error
}

func (e *fakeExecutor) Execute(_ ids.WorkerId, _ string, _ []byte) ([]byte, error) {
	return e.response, e.err
}

func newTestDispatcher(t *testing.T) (*Dispatcher, ids.ComponentId) {
	t.Helper()
	m, componentID := newTestManager(t)
	return NewDispatcher(m, &fakeExecutor{response: []byte("ok")}, NewPromiseStore()), componentID
}

func TestDispatch_CreateWorkerThenGetMetadata(t *testing.T) {
	d, componentID := newTestDispatcher(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}

	createArgs, _ := json.Marshal(createWorkerArgs{WorkerId: workerID.String()})
	resp := d.Dispatch(Request{Operation: OpCreateWorker, Args: createArgs})
	if !resp.Success {
		t.Fatalf("create_worker failed: %s", resp.Error)
	}

	getArgs, _ := json.Marshal(workerIDArgs{WorkerId: workerID.String()})
	resp = d.Dispatch(Request{Operation: OpGetWorkerMetadata, Args: getArgs})
	if !resp.Success {
		t.Fatalf("get_worker_metadata failed: %s", resp.Error)
	}

	var md WorkerMetadata
	if err := json.Unmarshal(resp.Data, &md); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if md.WorkerId != workerID.String() {
		t.Fatalf("WorkerId = %q, want %q", md.WorkerId, workerID.String())
	}
}

func TestDispatch_UnknownOperationFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(Request{Operation: "not_a_real_operation"})
	if resp.Success {
		t.Fatal("expected failure for unknown operation")
	}
}

func TestDispatch_InvokeAndAwaitWorkerRunsThroughExecutor(t *testing.T) {
	d, componentID := newTestDispatcher(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}

	createArgs, _ := json.Marshal(createWorkerArgs{WorkerId: workerID.String()})
	if resp := d.Dispatch(Request{Operation: OpCreateWorker, Args: createArgs}); !resp.Success {
		t.Fatalf("create_worker failed: %s", resp.Error)
	}

	invokeArgs, _ := json.Marshal(invokeArgs{WorkerId: workerID.String(), Function: "run"})
	resp := d.Dispatch(Request{Operation: OpInvokeAndAwaitWorker, Args: invokeArgs})
	if !resp.Success {
		t.Fatalf("invoke_and_await_worker failed: %s", resp.Error)
	}
}

func TestDispatch_GetWorkerMetadata_MissingWorkerSurfacesWorkerNotFound(t *testing.T) {
	d, componentID := newTestDispatcher(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "missing"}
	getArgs, _ := json.Marshal(workerIDArgs{WorkerId: workerID.String()})

	resp := d.Dispatch(Request{Operation: OpGetWorkerMetadata, Args: getArgs})
	if resp.Success {
		t.Fatal("expected failure for missing worker")
	}
	if !strings.Contains(resp.Error, "not found") {
		t.Fatalf("expected a not-found error, got %q", resp.Error)
	}
}
