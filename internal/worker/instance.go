package worker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/golemcloud/golem/internal/durablefn"
	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
	"github.com/golemcloud/golem/internal/worker/resourcelimit"
)

// UpdateMode selects how Update rebuilds a worker at a new component
// version (§4.4).
type UpdateMode int

const (
	UpdateAutomatic UpdateMode = iota
	UpdateSnapshotBased
)

// RevertKind selects how Revert computes the dropped region.
type RevertKind int

const (
	RevertLastOplogIndex RevertKind = iota
	RevertLastInvocations
)

// RevertTarget is the argument to Instance.Revert.
type RevertTarget struct {
	Kind RevertKind
	N    uint64
}

// invocationResult is the cached outcome of a completed invocation, keyed
// by IdempotencyKey, satisfying the at-most-once guarantee of §4.4.
type invocationResult struct {
	response []byte
	err      error
}

// Instance is a single worker activation: its lifecycle state, its durable
// oplog, its durable-function dispatcher and its fuel budget. State
// transitions are atomic under a per-worker mutex, mirroring the teacher's
// ProcessState.Escalate/Decay discipline generalized to an explicit
// transition table instead of a strictly linear one.
type Instance struct {
	mu      sync.Mutex
	state   State
	version ids.ComponentVersion

	id         ids.WorkerId
	store      *oplog.Store
	dispatcher *durablefn.Dispatcher
	fuel       *resourcelimit.Bucket
	logger     *zap.Logger

	group   singleflight.Group
	results map[ids.IdempotencyKey]invocationResult
	pending map[ids.IdempotencyKey]bool
}

// New constructs an Instance in StateIdle. Create must be called before any
// invocation.
func New(id ids.WorkerId, store *oplog.Store, dispatcher *durablefn.Dispatcher, fuel *resourcelimit.Bucket, logger *zap.Logger) *Instance {
	return &Instance{
		id:         id,
		store:      store,
		dispatcher: dispatcher,
		fuel:       fuel,
		logger:     logger,
		state:      StateIdle,
		results:    make(map[ids.IdempotencyKey]invocationResult),
		pending:    make(map[ids.IdempotencyKey]bool),
	}
}

// State returns the worker's current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// transition atomically moves the worker to `to`, rejecting edges not in
// the transition table.
func (i *Instance) transition(to State) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !allowed(i.state, to) {
		return golemerr.New(golemerr.InvalidRequest,
			fmt.Sprintf("invalid worker state transition %s -> %s", i.state, to))
	}
	i.state = to
	return nil
}

// Create appends the Create entry and transitions Idle -> Running.
func (i *Instance) Create(version ids.ComponentVersion, args []string, env map[string]string) error {
	if _, err := i.store.Append(i.id, oplog.NewCreate(version, args, env)); err != nil {
		return err
	}
	i.mu.Lock()
	i.version = version
	i.mu.Unlock()
	return i.transition(StateRunning)
}

// InvokeAndAwait runs fn(request) to completion, recording
// PendingWorkerInvocation / ExportedFunctionInvoked / ExportedFunctionCompleted
// entries. Concurrent calls sharing (worker, key) collapse onto a single
// execution via singleflight and a per-key result cache, satisfying the
// idempotent-invoke invariant (§8 scenario 5).
func (i *Instance) InvokeAndAwait(name string, key ids.IdempotencyKey, traceID ids.TraceId, request []byte, fn func([]byte) ([]byte, error)) ([]byte, error) {
	if key == "" {
		key = ids.NewIdempotencyKey()
	}

	v, err, _ := i.group.Do(string(key), func() (any, error) {
		i.mu.Lock()
		if cached, ok := i.results[key]; ok {
			i.mu.Unlock()
			return cached.response, cached.err
		}
		i.pending[key] = true
		i.mu.Unlock()

		var consumedFuel int64
		if i.fuel != nil {
			var ok bool
			consumedFuel, ok = i.fuel.Consume(resourcelimit.KindInvocation, 1)
			if !ok {
				i.mu.Lock()
				delete(i.pending, key)
				i.mu.Unlock()
				return nil, golemerr.New(golemerr.ResourceLimitExceeded, "worker invocation budget exhausted")
			}
		}

		if _, err := i.store.Append(i.id, oplog.NewPendingWorkerInvocation(key)); err != nil {
			return nil, err
		}
		i.mu.Lock()
		canceled := !i.pending[key]
		delete(i.pending, key)
		i.mu.Unlock()
		if canceled {
			return nil, golemerr.New(golemerr.Cancelled, "invocation canceled before it started")
		}
		if _, err := i.store.Append(i.id, oplog.NewExportedFunctionInvoked(name, key, traceID, "", request)); err != nil {
			return nil, err
		}

		response, runErr := fn(request)

		if _, err := i.store.Append(i.id, oplog.NewExportedFunctionCompleted(response, consumedFuel)); err != nil {
			return nil, err
		}

		i.mu.Lock()
		i.results[key] = invocationResult{response: response, err: runErr}
		delete(i.pending, key)
		i.mu.Unlock()

		return response, runErr
	})
	if err != nil {
		var resp []byte
		if v != nil {
			resp, _ = v.([]byte)
		}
		return resp, err
	}
	return v.([]byte), nil
}

// CancelPendingInvocation cancels an invocation that has been requested but
// has not yet produced its ExportedFunctionInvoked entry. Returns
// canceled=false if no such pending invocation exists.
func (i *Instance) CancelPendingInvocation(key ids.IdempotencyKey) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.pending[key] {
		return false, nil
	}
	if _, err := i.store.Append(i.id, oplog.NewCancelPendingInvocation(key)); err != nil {
		return false, err
	}
	delete(i.pending, key)
	return true, nil
}

// Suspend records a blocking await and transitions Running -> Suspended.
func (i *Instance) Suspend() error {
	if _, err := i.store.Append(i.id, oplog.NewSuspend()); err != nil {
		return err
	}
	return i.transition(StateSuspended)
}

// BeginAwaitPromise transitions Running -> WaitingForPromise on a
// complete_promise suspension point (§6).
func (i *Instance) BeginAwaitPromise() error {
	if _, err := i.store.Append(i.id, oplog.NewSuspend()); err != nil {
		return err
	}
	return i.transition(StateWaitingForPromise)
}

// EndAwaitPromise transitions WaitingForPromise back to Running once the
// promise has been completed.
func (i *Instance) EndAwaitPromise() error {
	return i.transition(StateRunning)
}

// Interrupt records an interruption; if recoverImmediately, the worker
// transitions straight back to Running instead of staying Interrupting.
func (i *Instance) Interrupt(recoverImmediately bool) error {
	if _, err := i.store.Append(i.id, oplog.NewInterrupted()); err != nil {
		return err
	}
	if err := i.transition(StateInterrupting); err != nil {
		return err
	}
	if recoverImmediately {
		return i.transition(StateRunning)
	}
	return nil
}

// Resume moves a Suspended or Failed worker back to Running. If force is
// true, an outstanding Failed state is overridden.
func (i *Instance) Resume(force bool) error {
	i.mu.Lock()
	cur := i.state
	i.mu.Unlock()
	if cur == StateFailed && !force {
		return golemerr.New(golemerr.InvalidRequest, "cannot resume a failed worker without force=true")
	}
	return i.transition(StateRunning)
}

// Fail transitions the worker to Failed, e.g. on a NonDeterministic error
// from the durable-function dispatcher.
func (i *Instance) Fail() error { return i.transition(StateFailed) }

// Exit transitions the worker to its terminal Exited state and appends the
// Exited marker.
func (i *Instance) Exit() error {
	if _, err := i.store.Append(i.id, oplog.NewExited()); err != nil {
		return err
	}
	return i.transition(StateExited)
}

// Update appends PendingUpdate; the caller is responsible for rebuilding
// the worker at target once quiescent and calling CompleteUpdate. A target
// equal to the worker's current version is a no-op that returns success
// without appending anything (§8).
func (i *Instance) Update(mode UpdateMode, target ids.ComponentVersion, desc string) error {
	i.mu.Lock()
	current := i.version
	i.mu.Unlock()
	if target == current {
		return nil
	}
	_, err := i.store.Append(i.id, oplog.NewPendingUpdate(target, desc))
	return err
}

// CompleteUpdate appends SuccessfulUpdate or FailedUpdate depending on the
// outcome of a previously requested Update.
func (i *Instance) CompleteUpdate(target ids.ComponentVersion, success bool, details string) error {
	if success {
		if _, err := i.store.Append(i.id, oplog.NewSuccessfulUpdate(target)); err != nil {
			return err
		}
		i.mu.Lock()
		i.version = target
		i.mu.Unlock()
		return nil
	}
	_, err := i.store.Append(i.id, oplog.NewFailedUpdate(target, details))
	return err
}

// AwaitUpdate polls the oplog until a Successful/FailedUpdate entry for
// target appears or the deadline elapses.
func (i *Instance) AwaitUpdate(target ids.ComponentVersion, deadline time.Duration, poll time.Duration) (bool, error) {
	timeout := time.Now().Add(deadline)
	var from ids.OplogIndex
	for {
		entries, cursor, err := i.store.Read(i.id, from, 0)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			switch e.Kind {
			case oplog.KindSuccessfulUpdate:
				if e.TargetVersion == target {
					i.logger.Info("update succeeded", zap.String("worker_id", i.id.String()), zap.Uint64("target_version", uint64(target)))
					return true, nil
				}
			case oplog.KindFailedUpdate:
				if e.TargetVersion == target {
					// Logged distinctly from the success case (see open
					// question decision on the source's misleading log text).
					i.logger.Error("update failed", zap.String("worker_id", i.id.String()), zap.Uint64("target_version", uint64(target)), zap.String("details", e.FailureDetails))
					return false, nil
				}
			}
		}
		from = cursor.NextIndex
		if time.Now().After(timeout) {
			return false, golemerr.New(golemerr.Timeout, "update did not complete before deadline")
		}
		time.Sleep(poll)
	}
}

// Revert drops a region of the oplog per RevertTarget, so subsequent
// replays treat it as absent. Idempotent: see oplog.Store.Revert.
func (i *Instance) Revert(target RevertTarget) error {
	region, err := i.computeRevertRegion(target)
	if err != nil {
		return err
	}
	if _, err := i.store.Append(i.id, oplog.NewRevert(region)); err != nil {
		return err
	}
	return i.store.Revert(i.id, region)
}

func (i *Instance) computeRevertRegion(target RevertTarget) (oplog.Region, error) {
	tail, err := i.store.Tail(i.id)
	if err != nil {
		return oplog.Region{}, err
	}
	if tail == 0 {
		return oplog.Region{}, golemerr.New(golemerr.InvalidRequest, "cannot revert an empty oplog")
	}

	switch target.Kind {
	case RevertLastOplogIndex:
		if ids.OplogIndex(target.N) > tail {
			return oplog.Region{}, golemerr.New(golemerr.InvalidRequest,
				fmt.Sprintf("revert target index %d is beyond the current tail %d", target.N, tail))
		}
		return oplog.Region{Start: ids.OplogIndex(target.N) + 1, End: tail}, nil
	case RevertLastInvocations:
		invoked, err := i.store.Search(i.id, "", oplog.Filter{Kind: oplog.KindExportedFunctionInvoked})
		if err != nil {
			return oplog.Region{}, err
		}
		if len(invoked) == 0 {
			return oplog.Region{}, golemerr.New(golemerr.InvalidRequest, "no invocations to revert")
		}
		n := target.N
		if n == 0 || n > uint64(len(invoked)) {
			n = uint64(len(invoked))
		}
		start := invoked[uint64(len(invoked))-n].Index
		return oplog.Region{Start: start, End: tail}, nil
	default:
		return oplog.Region{}, golemerr.New(golemerr.InvalidRequest, "unknown revert target kind")
	}
}

// Fork creates a new worker whose oplog is the prefix [1, cutoff] of i's
// oplog and returns an Instance continuing it independently (§4.4).
func (i *Instance) Fork(dstID ids.WorkerId, cutoff ids.OplogIndex, dispatcher *durablefn.Dispatcher, fuel *resourcelimit.Bucket) (*Instance, error) {
	if err := i.store.Fork(i.id, dstID, cutoff); err != nil {
		return nil, err
	}
	dst := New(dstID, i.store, dispatcher, fuel, i.logger)
	dst.state = StateRunning
	i.mu.Lock()
	dst.version = i.version
	i.mu.Unlock()
	return dst, nil
}
