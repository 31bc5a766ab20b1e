package controlplane

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
	"github.com/golemcloud/golem/internal/registry"
	"github.com/golemcloud/golem/internal/worker"
)

type nopTransformer struct{}

func (nopTransformer) Transform(_ registry.PluginInstallation, bytes []byte, _ registry.ComponentMetadata) ([]byte, error) {
	return bytes, nil
}

func newTestManager(t *testing.T) (*Manager, ids.ComponentId) {
	t.Helper()
	store, err := oplog.Open(filepath.Join(t.TempDir(), "oplog.db"))
	if err != nil {
		t.Fatalf("oplog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), nopTransformer{}, zap.NewNop())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	componentID, _, err := reg.Create("alice", "comp", []byte("wasm"), registry.ComponentMetadata{}, registry.Durable, nil, nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	return NewManager(store, reg, zap.NewNop()), componentID
}

func TestManager_CreateThenGetWorkerMetadata(t *testing.T) {
	m, componentID := newTestManager(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}

	md, err := m.CreateWorker(workerID, 0, nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	if md.Status != "Running" {
		t.Fatalf("Status = %q, want Running", md.Status)
	}

	got, err := m.GetWorkerMetadata(workerID)
	if err != nil {
		t.Fatalf("GetWorkerMetadata: %v", err)
	}
	if got.WorkerId != workerID.String() {
		t.Fatalf("WorkerId = %q, want %q", got.WorkerId, workerID.String())
	}
}

func TestManager_GetWorkerMetadata_UnknownWorkerReturnsWorkerNotFound(t *testing.T) {
	m, componentID := newTestManager(t)
	_, err := m.GetWorkerMetadata(ids.WorkerId{ComponentId: componentID, Name: "missing"})
	if code, _ := golemerr.CodeOf(err); code != golemerr.WorkerNotFound {
		t.Fatalf("expected WorkerNotFound, got %v", err)
	}
}

func TestManager_InterruptAndResumeWorker(t *testing.T) {
	m, componentID := newTestManager(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}
	if _, err := m.CreateWorker(workerID, 0, nil, nil, 0, 0); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	if err := m.InterruptWorker(workerID, false); err != nil {
		t.Fatalf("InterruptWorker: %v", err)
	}
	if err := m.ResumeWorker(workerID, false); err != nil {
		t.Fatalf("ResumeWorker: %v", err)
	}

	md, err := m.GetWorkerMetadata(workerID)
	if err != nil {
		t.Fatalf("GetWorkerMetadata: %v", err)
	}
	if md.Status != "Running" {
		t.Fatalf("Status = %q, want Running after resume", md.Status)
	}
}

func TestManager_DeleteWorkerThenLookupFails(t *testing.T) {
	m, componentID := newTestManager(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}
	if _, err := m.CreateWorker(workerID, 0, nil, nil, 0, 0); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	if err := m.DeleteWorker(workerID); err != nil {
		t.Fatalf("DeleteWorker: %v", err)
	}
	_, err := m.GetWorkerMetadata(workerID)
	if code, _ := golemerr.CodeOf(err); code != golemerr.WorkerNotFound {
		t.Fatalf("expected WorkerNotFound after delete, got %v", err)
	}
}

func TestManager_UpdateWorkerSameVersionIsNoOp(t *testing.T) {
	m, componentID := newTestManager(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}
	if _, err := m.CreateWorker(workerID, 1, nil, nil, 0, 0); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	if err := m.UpdateWorker(workerID, worker.UpdateAutomatic, 1, "no-op"); err != nil {
		t.Fatalf("UpdateWorker: %v", err)
	}

	md, err := m.GetWorkerMetadata(workerID)
	if err != nil {
		t.Fatalf("GetWorkerMetadata: %v", err)
	}
	if md.ComponentVersion != 1 {
		t.Fatalf("ComponentVersion = %d, want 1", md.ComponentVersion)
	}

	entries, _, err := m.store.Read(workerID, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, e := range entries {
		if e.Kind == oplog.KindPendingUpdate {
			t.Fatal("expected no PendingUpdate entry for a same-version update")
		}
	}
}

func TestManager_ActivateAndDeactivatePlugin(t *testing.T) {
	m, componentID := newTestManager(t)
	workerID := ids.WorkerId{ComponentId: componentID, Name: "worker-1"}
	if _, err := m.CreateWorker(workerID, 0, nil, nil, 0, 0); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	installationID := ids.NewPluginInstallationId()
	if err := m.ActivatePlugin(workerID, installationID); err != nil {
		t.Fatalf("ActivatePlugin: %v", err)
	}
	md, err := m.GetWorkerMetadata(workerID)
	if err != nil {
		t.Fatalf("GetWorkerMetadata: %v", err)
	}
	if len(md.ActivePlugins) != 1 || md.ActivePlugins[0] != installationID.String() {
		t.Fatalf("ActivePlugins = %v, want [%s]", md.ActivePlugins, installationID.String())
	}

	if err := m.DeactivatePlugin(workerID, installationID); err != nil {
		t.Fatalf("DeactivatePlugin: %v", err)
	}
	md, err = m.GetWorkerMetadata(workerID)
	if err != nil {
		t.Fatalf("GetWorkerMetadata: %v", err)
	}
	if len(md.ActivePlugins) != 0 {
		t.Fatalf("ActivePlugins = %v, want empty after deactivate", md.ActivePlugins)
	}
}

func TestManager_GetRunningWorkersMetadataFiltersByState(t *testing.T) {
	m, componentID := newTestManager(t)
	running := ids.WorkerId{ComponentId: componentID, Name: "running"}
	suspended := ids.WorkerId{ComponentId: componentID, Name: "suspended"}

	if _, err := m.CreateWorker(running, 0, nil, nil, 0, 0); err != nil {
		t.Fatalf("CreateWorker running: %v", err)
	}
	if _, err := m.CreateWorker(suspended, 0, nil, nil, 0, 0); err != nil {
		t.Fatalf("CreateWorker suspended: %v", err)
	}
	if err := m.InterruptWorker(suspended, false); err != nil {
		t.Fatalf("InterruptWorker: %v", err)
	}

	got := m.GetRunningWorkersMetadata(componentID)
	if len(got) != 1 || got[0].WorkerId != running.String() {
		t.Fatalf("GetRunningWorkersMetadata = %v, want only %q", got, running.String())
	}
}
