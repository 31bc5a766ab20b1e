package controlplane

import (
	"encoding/json"
	"fmt"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
	"github.com/golemcloud/golem/internal/worker"
)

// Executor performs the actual export call against a worker's component.
// Dynamic linking into the wasm runtime is outside this package's scope
// (the same "visibility into guest program source" boundary the component
// registry observes) — invoke_worker/invoke_and_await_worker delegate the
// call itself to whatever Executor the deployment wires in.
type Executor interface {
	Execute(workerID ids.WorkerId, function string, request []byte) ([]byte, error)
}

// Dispatcher routes Worker RPC protocol Requests to a Manager and an
// Executor, generalizing operator.Server's fixed five-command switch to the
// full §6 operation list.
type Dispatcher struct {
	manager  *Manager
	executor Executor
	promises *PromiseStore
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(manager *Manager, executor Executor, promises *PromiseStore) *Dispatcher {
	return &Dispatcher{manager: manager, executor: executor, promises: promises}
}

// Dispatch routes one Request to its handler and returns the Response to
// send back over the wire. It never panics: handler errors are captured
// into Response.Error rather than propagated.
func (d *Dispatcher) Dispatch(req Request) Response {
	handler, known := d.handlers()[req.Operation]
	if !known {
		return fail(golemerr.New(golemerr.InvalidRequest, fmt.Sprintf("unknown operation %q", req.Operation)))
	}
	return handler(req.Args)
}

func (d *Dispatcher) handlers() map[Operation]func(json.RawMessage) Response {
	return map[Operation]func(json.RawMessage) Response{
		OpCreateWorker:              d.createWorker,
		OpInvokeAndAwaitWorker:      d.invokeAndAwaitWorker,
		OpInvokeWorker:              d.invokeWorker,
		OpGetWorkerMetadata:         d.getWorkerMetadata,
		OpGetWorkersMetadata:        d.getWorkersMetadata,
		OpGetRunningWorkersMetadata: d.getRunningWorkersMetadata,
		OpInterruptWorker:           d.interruptWorker,
		OpResumeWorker:              d.resumeWorker,
		OpDeleteWorker:              d.deleteWorker,
		OpUpdateWorker:              d.updateWorker,
		OpGetOplog:                  d.getOplog,
		OpSearchOplog:               d.searchOplog,
		OpActivatePlugin:            d.activatePlugin,
		OpDeactivatePlugin:          d.deactivatePlugin,
		OpForkWorker:                d.forkWorker,
		OpRevertWorker:              d.revertWorker,
		OpCancelInvocation:          d.cancelInvocation,
		OpCompletePromise:           d.completePromise,
		OpGetFileSystemNode:         d.getFileSystemNode,
		OpGetFileContents:           d.getFileContents,
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, golemerr.Wrap(golemerr.InvalidRequest, "decode args", err)
	}
	return v, nil
}

type createWorkerArgs struct {
	WorkerId         string            `json:"worker_id"`
	ComponentVersion uint64            `json:"component_version"`
	Args             []string          `json:"args"`
	Env              map[string]string `json:"env"`
	FuelCapacity     int64             `json:"fuel_capacity"`
	FuelRefillNanos  int64             `json:"fuel_refill_nanos"`
}

func (d *Dispatcher) createWorker(raw json.RawMessage) Response {
	args, err := decode[createWorkerArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	md, err := d.manager.CreateWorker(workerID, ids.ComponentVersion(args.ComponentVersion), args.Args, args.Env, args.FuelCapacity, args.FuelRefillNanos)
	if err != nil {
		return fail(err)
	}
	return ok(md)
}

type invokeArgs struct {
	WorkerId       string `json:"worker_id"`
	Function       string `json:"function"`
	IdempotencyKey string `json:"idempotency_key"`
	TraceId        string `json:"trace_id"`
	Request        []byte `json:"request"`
}

func (d *Dispatcher) invokeAndAwaitWorker(raw json.RawMessage) Response {
	args, err := decode[invokeArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	response, err := d.manager.InvokeAndAwaitWorker(workerID, args.Function, ids.IdempotencyKey(args.IdempotencyKey), ids.TraceId(args.TraceId), args.Request, d.callFn(workerID, args.Function))
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"response": response})
}

func (d *Dispatcher) invokeWorker(raw json.RawMessage) Response {
	args, err := decode[invokeArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	if err := d.manager.InvokeWorker(workerID, args.Function, ids.TraceId(args.TraceId), args.Request, d.callFn(workerID, args.Function)); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"accepted": true})
}

func (d *Dispatcher) callFn(workerID ids.WorkerId, function string) func([]byte) ([]byte, error) {
	return func(request []byte) ([]byte, error) {
		if d.executor == nil {
			return nil, golemerr.New(golemerr.InvalidRequest, "no executor wired for worker invocation")
		}
		return d.executor.Execute(workerID, function, request)
	}
}

type workerIDArgs struct {
	WorkerId string `json:"worker_id"`
}

func parseWorkerIDArgs(raw json.RawMessage) (ids.WorkerId, error) {
	args, err := decode[workerIDArgs](raw)
	if err != nil {
		return ids.WorkerId{}, err
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return ids.WorkerId{}, golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err)
	}
	return workerID, nil
}

func (d *Dispatcher) getWorkerMetadata(raw json.RawMessage) Response {
	workerID, err := parseWorkerIDArgs(raw)
	if err != nil {
		return fail(err)
	}
	md, err := d.manager.GetWorkerMetadata(workerID)
	if err != nil {
		return fail(err)
	}
	return ok(md)
}

type componentIDArgs struct {
	ComponentId string `json:"component_id"`
}

func (d *Dispatcher) getWorkersMetadata(raw json.RawMessage) Response {
	args, err := decode[componentIDArgs](raw)
	if err != nil {
		return fail(err)
	}
	componentID, err := ids.ParseComponentId(args.ComponentId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "component_id", err))
	}
	return ok(d.manager.GetWorkersMetadata(componentID))
}

func (d *Dispatcher) getRunningWorkersMetadata(raw json.RawMessage) Response {
	args, err := decode[componentIDArgs](raw)
	if err != nil {
		return fail(err)
	}
	componentID, err := ids.ParseComponentId(args.ComponentId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "component_id", err))
	}
	return ok(d.manager.GetRunningWorkersMetadata(componentID))
}

type interruptArgs struct {
	WorkerId           string `json:"worker_id"`
	RecoverImmediately bool   `json:"recover_immediately"`
}

func (d *Dispatcher) interruptWorker(raw json.RawMessage) Response {
	args, err := decode[interruptArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	if err := d.manager.InterruptWorker(workerID, args.RecoverImmediately); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"interrupted": true})
}

type resumeArgs struct {
	WorkerId string `json:"worker_id"`
	Force    bool   `json:"force"`
}

func (d *Dispatcher) resumeWorker(raw json.RawMessage) Response {
	args, err := decode[resumeArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	if err := d.manager.ResumeWorker(workerID, args.Force); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"resumed": true})
}

func (d *Dispatcher) deleteWorker(raw json.RawMessage) Response {
	workerID, err := parseWorkerIDArgs(raw)
	if err != nil {
		return fail(err)
	}
	if err := d.manager.DeleteWorker(workerID); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"deleted": true})
}

type updateArgs struct {
	WorkerId      string `json:"worker_id"`
	Mode          string `json:"mode"`
	TargetVersion uint64 `json:"target_version"`
	Description   string `json:"description"`
}

func (d *Dispatcher) updateWorker(raw json.RawMessage) Response {
	args, err := decode[updateArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	mode := worker.UpdateAutomatic
	if args.Mode == "snapshot_based" {
		mode = worker.UpdateSnapshotBased
	}
	if err := d.manager.UpdateWorker(workerID, mode, ids.ComponentVersion(args.TargetVersion), args.Description); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"updated": true})
}

type oplogArgs struct {
	WorkerId string `json:"worker_id"`
	From     uint64 `json:"from"`
	Limit    int    `json:"limit"`
}

func (d *Dispatcher) getOplog(raw json.RawMessage) Response {
	args, err := decode[oplogArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	entries, cursor, err := d.manager.GetOplog(workerID, ids.OplogIndex(args.From), args.Limit)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"entries": entries, "cursor": cursor})
}

type searchOplogArgs struct {
	WorkerId     string `json:"worker_id"`
	Substr       string `json:"substr"`
	Kind         string `json:"kind"`
	FunctionName string `json:"function_name"`
}

func (d *Dispatcher) searchOplog(raw json.RawMessage) Response {
	args, err := decode[searchOplogArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	filter := oplog.Filter{Kind: oplog.Kind(args.Kind), FunctionName: args.FunctionName}
	entries, err := d.manager.SearchOplog(workerID, args.Substr, filter)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"entries": entries})
}

type pluginArgs struct {
	WorkerId       string `json:"worker_id"`
	InstallationId string `json:"installation_id"`
}

func (d *Dispatcher) activatePlugin(raw json.RawMessage) Response {
	args, err := decode[pluginArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	installationID, err := parsePluginInstallationId(args.InstallationId)
	if err != nil {
		return fail(err)
	}
	if err := d.manager.ActivatePlugin(workerID, installationID); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"activated": true})
}

func (d *Dispatcher) deactivatePlugin(raw json.RawMessage) Response {
	args, err := decode[pluginArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	installationID, err := parsePluginInstallationId(args.InstallationId)
	if err != nil {
		return fail(err)
	}
	if err := d.manager.DeactivatePlugin(workerID, installationID); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"deactivated": true})
}

type forkArgs struct {
	SourceWorkerId string `json:"source_worker_id"`
	TargetWorkerId string `json:"target_worker_id"`
	Cutoff         uint64 `json:"cutoff"`
}

func (d *Dispatcher) forkWorker(raw json.RawMessage) Response {
	args, err := decode[forkArgs](raw)
	if err != nil {
		return fail(err)
	}
	srcID, err := ids.ParseWorkerId(args.SourceWorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "source_worker_id", err))
	}
	dstID, err := ids.ParseWorkerId(args.TargetWorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "target_worker_id", err))
	}
	md, err := d.manager.ForkWorker(srcID, dstID, ids.OplogIndex(args.Cutoff))
	if err != nil {
		return fail(err)
	}
	return ok(md)
}

type revertArgs struct {
	WorkerId string `json:"worker_id"`
	Kind     string `json:"kind"`
	N        uint64 `json:"n"`
}

func (d *Dispatcher) revertWorker(raw json.RawMessage) Response {
	args, err := decode[revertArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	kind := worker.RevertLastOplogIndex
	if args.Kind == "last_invocations" {
		kind = worker.RevertLastInvocations
	}
	if err := d.manager.RevertWorker(workerID, worker.RevertTarget{Kind: kind, N: args.N}); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"reverted": true})
}

type cancelInvocationArgs struct {
	WorkerId       string `json:"worker_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (d *Dispatcher) cancelInvocation(raw json.RawMessage) Response {
	args, err := decode[cancelInvocationArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	cancelled, err := d.manager.CancelInvocation(workerID, ids.IdempotencyKey(args.IdempotencyKey))
	if err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"cancelled": cancelled})
}

type completePromiseArgs struct {
	WorkerId  string `json:"worker_id"`
	PromiseId string `json:"promise_id"`
	Data      []byte `json:"data"`
}

func (d *Dispatcher) completePromise(raw json.RawMessage) Response {
	args, err := decode[completePromiseArgs](raw)
	if err != nil {
		return fail(err)
	}
	if err := d.promises.Complete(promiseKey(args.WorkerId, args.PromiseId), args.Data); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"completed": true})
}

type filePathArgs struct {
	WorkerId string `json:"worker_id"`
	Path     string `json:"path"`
}

func (d *Dispatcher) getFileSystemNode(raw json.RawMessage) Response {
	workerID, err := parseWorkerIDArgs(raw)
	if err != nil {
		return fail(err)
	}
	nodes, err := d.manager.GetFileSystemNode(workerID)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"nodes": nodes})
}

func (d *Dispatcher) getFileContents(raw json.RawMessage) Response {
	args, err := decode[filePathArgs](raw)
	if err != nil {
		return fail(err)
	}
	workerID, err := ids.ParseWorkerId(args.WorkerId)
	if err != nil {
		return fail(golemerr.Wrap(golemerr.InvalidRequest, "worker_id", err))
	}
	data, err := d.manager.GetFileContents(workerID, args.Path)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"contents": data})
}

func parsePluginInstallationId(s string) (ids.PluginInstallationId, error) {
	var id ids.PluginInstallationId
	quoted := "\"" + s + "\""
	if err := json.Unmarshal([]byte(quoted), &id); err != nil {
		return id, golemerr.Wrap(golemerr.InvalidRequest, "installation_id", err)
	}
	return id, nil
}
