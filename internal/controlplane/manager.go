// Package controlplane implements the Worker RPC protocol surface (§6): the
// operation list a Golem client issues against a single executor, exposed as
// newline-delimited JSON request/response envelopes over a socket, mirroring
// the teacher's operator protocol generalized from a fixed PID-state command
// set to the full worker lifecycle.
package controlplane

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/durablefn"
	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
	"github.com/golemcloud/golem/internal/registry"
	"github.com/golemcloud/golem/internal/worker"
	"github.com/golemcloud/golem/internal/worker/resourcelimit"
)

// WorkerMetadata is the §6 get_worker_metadata response shape.
type WorkerMetadata struct {
	WorkerId         string   `json:"worker_id"`
	ComponentId      string   `json:"component_id"`
	ComponentVersion uint64   `json:"component_version"`
	Status           string   `json:"status"`
	ActivePlugins    []string `json:"active_plugins,omitempty"`
}

// Manager owns the executor's in-memory worker table and wires control-plane
// operations to worker.Instance, the durable-function dispatcher, the oplog
// store and the component registry. One Manager serves one executor pod.
type Manager struct {
	mu       sync.RWMutex
	workers  map[string]*workerEntry
	store    *oplog.Store
	reg      *registry.Registry
	fuelCost resourcelimit.CostModel
	log      *zap.Logger
}

type workerEntry struct {
	instance      *worker.Instance
	componentVer  ids.ComponentVersion
	fuel          *resourcelimit.Bucket
	activePlugins map[string]bool
}

// ManagerConfig bounds the fuel budget newly created workers receive.
type ManagerConfig struct {
	FuelCapacity     int64
	FuelRefillPeriod int64 // nanoseconds, avoids importing time into config JSON
}

// NewManager constructs a Manager backed by an oplog store and component
// registry.
func NewManager(store *oplog.Store, reg *registry.Registry, log *zap.Logger) *Manager {
	return &Manager{
		workers:  make(map[string]*workerEntry),
		store:    store,
		reg:      reg,
		fuelCost: resourcelimit.DefaultCostModel(),
		log:      log,
	}
}

func (m *Manager) lookup(workerID ids.WorkerId) (*workerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.workers[workerID.String()]
	if !ok {
		return nil, golemerr.New(golemerr.WorkerNotFound, fmt.Sprintf("worker %q not found", workerID.String()))
	}
	return e, nil
}

// CreateWorker implements create_worker: registers a new Instance bound to a
// fresh fuel budget and durable-function dispatcher, then records its Create
// oplog entry.
func (m *Manager) CreateWorker(workerID ids.WorkerId, version ids.ComponentVersion, args []string, env map[string]string, capacity int64, refillNanos int64) (*WorkerMetadata, error) {
	m.mu.Lock()
	if _, exists := m.workers[workerID.String()]; exists {
		m.mu.Unlock()
		return nil, golemerr.New(golemerr.InvalidRequest, fmt.Sprintf("worker %q already exists", workerID.String()))
	}
	m.mu.Unlock()

	if capacity <= 0 {
		capacity = 1_000_000
	}
	fuel := resourcelimit.New(capacity, durationFromNanos(refillNanos), m.fuelCost)
	dispatcher := durablefn.New(m.store, workerID, oplog.PersistSmart, m.log)
	instance := worker.New(workerID, m.store, dispatcher, fuel, m.log)
	if err := instance.Create(version, args, env); err != nil {
		fuel.Close()
		return nil, err
	}

	entry := &workerEntry{instance: instance, componentVer: version, fuel: fuel, activePlugins: make(map[string]bool)}
	m.mu.Lock()
	m.workers[workerID.String()] = entry
	m.mu.Unlock()

	return m.describe(workerID, entry), nil
}

// InvokeAndAwaitWorker implements invoke_and_await_worker: it routes the
// call through durablefn via Instance.InvokeAndAwait, using callFn to
// actually perform the export call against the component (supplied by the
// caller, since dynamic-linking to the wasm runtime is outside this
// package's scope).
func (m *Manager) InvokeAndAwaitWorker(workerID ids.WorkerId, function string, key ids.IdempotencyKey, traceID ids.TraceId, request []byte, callFn func([]byte) ([]byte, error)) ([]byte, error) {
	entry, err := m.lookup(workerID)
	if err != nil {
		return nil, err
	}
	return entry.instance.InvokeAndAwait(function, key, traceID, request, callFn)
}

// InvokeWorker implements invoke_worker (fire-and-forget): it launches the
// same call asynchronously and does not wait for completion.
func (m *Manager) InvokeWorker(workerID ids.WorkerId, function string, traceID ids.TraceId, request []byte, callFn func([]byte) ([]byte, error)) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	go func() {
		if _, err := entry.instance.InvokeAndAwait(function, ids.NewIdempotencyKey(), traceID, request, callFn); err != nil {
			m.log.Warn("fire-and-forget invocation failed",
				zap.String("worker", workerID.String()), zap.String("function", function), zap.Error(err))
		}
	}()
	return nil
}

// GetWorkerMetadata implements get_worker_metadata.
func (m *Manager) GetWorkerMetadata(workerID ids.WorkerId) (*WorkerMetadata, error) {
	entry, err := m.lookup(workerID)
	if err != nil {
		return nil, err
	}
	return m.describe(workerID, entry), nil
}

// GetWorkersMetadata implements get_workers_metadata: every worker under a
// component, regardless of state.
func (m *Manager) GetWorkersMetadata(componentID ids.ComponentId) []*WorkerMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*WorkerMetadata
	for key, entry := range m.workers {
		if entry.instance == nil {
			continue
		}
		id, err := ids.ParseWorkerId(key)
		if err != nil || id.ComponentId != componentID {
			continue
		}
		out = append(out, m.describeLocked(id, entry))
	}
	return out
}

// GetRunningWorkersMetadata implements get_running_workers_metadata: same as
// GetWorkersMetadata but filtered to workers in the Running state.
func (m *Manager) GetRunningWorkersMetadata(componentID ids.ComponentId) []*WorkerMetadata {
	all := m.GetWorkersMetadata(componentID)
	var out []*WorkerMetadata
	for _, md := range all {
		if md.Status == worker.StateRunning.String() {
			out = append(out, md)
		}
	}
	return out
}

// InterruptWorker implements interrupt_worker.
func (m *Manager) InterruptWorker(workerID ids.WorkerId, recoverImmediately bool) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	return entry.instance.Interrupt(recoverImmediately)
}

// ResumeWorker implements resume_worker.
func (m *Manager) ResumeWorker(workerID ids.WorkerId, force bool) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	return entry.instance.Resume(force)
}

// DeleteWorker implements delete_worker: drops the worker from the in-memory
// table and releases its fuel bucket. The durable oplog itself is retained
// (deletion is a control-plane/lifecycle concept, not data loss).
func (m *Manager) DeleteWorker(workerID ids.WorkerId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.workers[workerID.String()]
	if !ok {
		return golemerr.New(golemerr.WorkerNotFound, fmt.Sprintf("worker %q not found", workerID.String()))
	}
	entry.fuel.Close()
	delete(m.workers, workerID.String())
	return nil
}

// UpdateWorker implements update_worker.
func (m *Manager) UpdateWorker(workerID ids.WorkerId, mode worker.UpdateMode, target ids.ComponentVersion, desc string) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	current := entry.componentVer
	m.mu.Unlock()
	if target == current {
		// Already at target: a no-op that returns success (§8).
		return nil
	}
	if err := entry.instance.Update(mode, target, desc); err != nil {
		return err
	}
	m.mu.Lock()
	entry.componentVer = target
	m.mu.Unlock()
	return nil
}

// ForkWorker implements fork_worker.
func (m *Manager) ForkWorker(srcID, dstID ids.WorkerId, cutoff ids.OplogIndex) (*WorkerMetadata, error) {
	src, err := m.lookup(srcID)
	if err != nil {
		return nil, err
	}
	dstDispatcher := durablefn.New(m.store, dstID, oplog.PersistSmart, m.log)
	dstFuel := resourcelimit.New(src.fuel.Capacity(), defaultRefillPeriod, m.fuelCost)
	forked, err := src.instance.Fork(dstID, cutoff, dstDispatcher, dstFuel)
	if err != nil {
		dstFuel.Close()
		return nil, err
	}

	entry := &workerEntry{instance: forked, componentVer: src.componentVer, fuel: dstFuel, activePlugins: make(map[string]bool)}
	m.mu.Lock()
	m.workers[dstID.String()] = entry
	m.mu.Unlock()
	return m.describe(dstID, entry), nil
}

// RevertWorker implements revert_worker.
func (m *Manager) RevertWorker(workerID ids.WorkerId, target worker.RevertTarget) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	return entry.instance.Revert(target)
}

// CancelInvocation implements cancel_invocation.
func (m *Manager) CancelInvocation(workerID ids.WorkerId, key ids.IdempotencyKey) (bool, error) {
	entry, err := m.lookup(workerID)
	if err != nil {
		return false, err
	}
	return entry.instance.CancelPendingInvocation(key)
}

// GetOplog implements get_oplog: a paginated raw read.
func (m *Manager) GetOplog(workerID ids.WorkerId, from ids.OplogIndex, limit int) ([]oplog.Entry, oplog.Cursor, error) {
	if _, err := m.lookup(workerID); err != nil {
		return nil, oplog.Cursor{}, err
	}
	return m.store.Read(workerID, from, limit)
}

// SearchOplog implements search_oplog.
func (m *Manager) SearchOplog(workerID ids.WorkerId, substr string, filter oplog.Filter) ([]oplog.Entry, error) {
	if _, err := m.lookup(workerID); err != nil {
		return nil, err
	}
	return m.store.Search(workerID, substr, filter)
}

// ActivatePlugin implements activate_plugin: records the ActivatePlugin
// oplog entry and tracks it in the worker's active-plugin set for
// GetWorkerMetadata's reporting.
func (m *Manager) ActivatePlugin(workerID ids.WorkerId, installationID ids.PluginInstallationId) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	if _, err := m.store.Append(workerID, oplog.NewActivatePlugin(installationID.String())); err != nil {
		return err
	}
	m.mu.Lock()
	entry.activePlugins[installationID.String()] = true
	m.mu.Unlock()
	return nil
}

// DeactivatePlugin implements deactivate_plugin.
func (m *Manager) DeactivatePlugin(workerID ids.WorkerId, installationID ids.PluginInstallationId) error {
	entry, err := m.lookup(workerID)
	if err != nil {
		return err
	}
	if _, err := m.store.Append(workerID, oplog.NewDeactivatePlugin(installationID.String())); err != nil {
		return err
	}
	m.mu.Lock()
	delete(entry.activePlugins, installationID.String())
	m.mu.Unlock()
	return nil
}

func (m *Manager) describe(workerID ids.WorkerId, entry *workerEntry) *WorkerMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.describeLocked(workerID, entry)
}

const defaultRefillPeriod = time.Second

func durationFromNanos(nanos int64) time.Duration {
	if nanos <= 0 {
		return defaultRefillPeriod
	}
	return time.Duration(nanos)
}

func (m *Manager) describeLocked(workerID ids.WorkerId, entry *workerEntry) *WorkerMetadata {
	plugins := make([]string, 0, len(entry.activePlugins))
	for id := range entry.activePlugins {
		plugins = append(plugins, id)
	}
	return &WorkerMetadata{
		WorkerId:         workerID.String(),
		ComponentId:      workerID.ComponentId.String(),
		ComponentVersion: uint64(entry.componentVer),
		Status:           entry.instance.State().String(),
		ActivePlugins:    plugins,
	}
}
