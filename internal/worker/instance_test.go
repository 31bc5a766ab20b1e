package worker

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/durablefn"
	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
	"github.com/golemcloud/golem/internal/worker/resourcelimit"
)

func newTestInstance(t *testing.T) (*Instance, *oplog.Store, ids.WorkerId) {
	t.Helper()
	store, err := oplog.Open(filepath.Join(t.TempDir(), "oplog.db"))
	if err != nil {
		t.Fatalf("oplog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	w := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "w1"}
	dispatcher := durablefn.New(store, w, oplog.PersistSmart, zap.NewNop())
	inst := New(w, store, dispatcher, nil, zap.NewNop())
	if err := inst.Create(1, nil, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return inst, store, w
}

func TestCreate_TransitionsIdleToRunning(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	if inst.State() != StateRunning {
		t.Fatalf("expected StateRunning after Create, got %v", inst.State())
	}
}

func TestTransition_RejectsInvalidEdge(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	// Running -> Running is not a listed edge.
	if err := inst.transition(StateRunning); err == nil {
		t.Fatal("expected invalid transition to be rejected")
	}
}

func TestSuspendAndResume(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	if err := inst.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if inst.State() != StateSuspended {
		t.Fatalf("expected Suspended, got %v", inst.State())
	}
	if err := inst.Resume(false); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if inst.State() != StateRunning {
		t.Fatalf("expected Running after resume, got %v", inst.State())
	}
}

func TestResume_RequiresForceFromFailed(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	if err := inst.Fail(); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := inst.Resume(false); err == nil {
		t.Fatal("expected Resume without force to be rejected from Failed")
	}
	if err := inst.Resume(true); err != nil {
		t.Fatalf("Resume(force): %v", err)
	}
}

func TestInvokeAndAwait_ConcurrentCallsCollapseToOneInvocation(t *testing.T) {
	inst, store, w := newTestInstance(t)

	var calls int
	var mu sync.Mutex
	key := ids.NewIdempotencyKey()

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := inst.InvokeAndAwait("run", key, ids.NewTraceId(), []byte("in"), func(req []byte) ([]byte, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return []byte("out"), nil
			})
			if err != nil {
				t.Errorf("InvokeAndAwait: %v", err)
			}
			results[idx] = resp
		}(n)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", calls)
	}
	for _, r := range results {
		if string(r) != "out" {
			t.Fatalf("expected all callers to receive the same result, got %q", r)
		}
	}

	entries, err := store.Search(w, "", oplog.Filter{Kind: oplog.KindExportedFunctionInvoked})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 ExportedFunctionInvoked entry, got %d", len(entries))
	}
}

func TestInvokeAndAwait_RecordsActualConsumedFuel(t *testing.T) {
	store, err := oplog.Open(filepath.Join(t.TempDir(), "oplog.db"))
	if err != nil {
		t.Fatalf("oplog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	w := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "fuel-worker"}
	dispatcher := durablefn.New(store, w, oplog.PersistSmart, zap.NewNop())
	fuel := resourcelimit.New(100, time.Hour, resourcelimit.CostModel{resourcelimit.KindInvocation: 5})
	t.Cleanup(fuel.Close)

	inst := New(w, store, dispatcher, fuel, zap.NewNop())
	if err := inst.Create(1, nil, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := inst.InvokeAndAwait("run", "", ids.NewTraceId(), nil, func(req []byte) ([]byte, error) {
		return []byte("ok"), nil
	}); err != nil {
		t.Fatalf("InvokeAndAwait: %v", err)
	}

	entries, err := store.Search(w, "", oplog.Filter{Kind: oplog.KindExportedFunctionCompleted})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 ExportedFunctionCompleted entry, got %d", len(entries))
	}
	if entries[0].ConsumedFuel != 5 {
		t.Fatalf("expected ConsumedFuel = 5, got %d", entries[0].ConsumedFuel)
	}
}

func TestInvokeAndAwait_RepeatAfterCompletionReturnsCachedResult(t *testing.T) {
	inst, store, w := newTestInstance(t)
	key := ids.NewIdempotencyKey()

	var calls int
	run := func(req []byte) ([]byte, error) {
		calls++
		return []byte("first"), nil
	}

	if _, err := inst.InvokeAndAwait("run", key, ids.NewTraceId(), nil, run); err != nil {
		t.Fatalf("first InvokeAndAwait: %v", err)
	}
	resp, err := inst.InvokeAndAwait("run", key, ids.NewTraceId(), nil, run)
	if err != nil {
		t.Fatalf("second InvokeAndAwait: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fn to run exactly once, got %d", calls)
	}
	if string(resp) != "first" {
		t.Fatalf("expected cached result, got %q", resp)
	}

	entries, err := store.Search(w, "", oplog.Filter{Kind: oplog.KindExportedFunctionInvoked})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 ExportedFunctionInvoked entry across both calls, got %d", len(entries))
	}
}

func TestRevert_LastOplogIndex(t *testing.T) {
	inst, store, w := newTestInstance(t)
	for n := 0; n < 3; n++ {
		if _, err := store.Append(w, oplog.NewNoOp()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// tail is 4 (Create + 3 NoOps); reverting to index 2 drops [3,4].
	if err := inst.Revert(RevertTarget{Kind: RevertLastOplogIndex, N: 2}); err != nil {
		t.Fatalf("Revert: %v", err)
	}

	regions, err := store.SkipRegions(w)
	if err != nil {
		t.Fatalf("SkipRegions: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("expected 1 skip region recorded, got %d", len(regions))
	}
	if regions[0].Start != 3 || regions[0].End != 4 {
		t.Fatalf("expected skip region [3,4], got [%d,%d]", regions[0].Start, regions[0].End)
	}
}

func TestRevert_LastOplogIndexBeyondTailRejected(t *testing.T) {
	inst, store, w := newTestInstance(t)
	if _, err := store.Append(w, oplog.NewNoOp()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	err := inst.Revert(RevertTarget{Kind: RevertLastOplogIndex, N: 100})
	if err == nil {
		t.Fatal("expected InvalidRequest error for revert target beyond the tail")
	}
	var golemErr *golemerr.Error
	if !errors.As(err, &golemErr) || golemErr.Code != golemerr.InvalidRequest {
		t.Fatalf("expected golemerr.InvalidRequest, got %v", err)
	}
}

func TestFork_ContinuesIndependently(t *testing.T) {
	inst, store, w := newTestInstance(t)
	for n := 0; n < 3; n++ {
		if _, err := store.Append(w, oplog.NewNoOp()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	cutoff, err := store.Tail(w)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	dstID := ids.WorkerId{ComponentId: w.ComponentId, Name: "fork-1"}
	dispatcher := durablefn.New(store, dstID, oplog.PersistSmart, zap.NewNop())
	dst, err := inst.Fork(dstID, cutoff, dispatcher, nil)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if dst.State() != StateRunning {
		t.Fatalf("expected forked worker to be Running, got %v", dst.State())
	}

	entries, _, err := store.Read(dstID, 0, 0)
	if err != nil {
		t.Fatalf("Read forked oplog: %v", err)
	}
	if len(entries) != int(cutoff) {
		t.Fatalf("expected forked oplog to have %d entries, got %d", cutoff, len(entries))
	}
}

func TestUpdate_SameVersionIsNoOp(t *testing.T) {
	inst, store, w := newTestInstance(t)

	if err := inst.Update(UpdateAutomatic, 1, "no-op update"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, _, err := store.Read(w, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, e := range entries {
		if e.Kind == oplog.KindPendingUpdate {
			t.Fatal("expected no PendingUpdate entry for a same-version update")
		}
	}
}

func TestUpdate_DifferentVersionAppendsPendingUpdate(t *testing.T) {
	inst, store, w := newTestInstance(t)

	if err := inst.Update(UpdateAutomatic, 2, "upgrade"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, _, err := store.Read(w, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Kind == oplog.KindPendingUpdate {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a PendingUpdate entry for a version change")
	}

	if err := inst.CompleteUpdate(2, true, ""); err != nil {
		t.Fatalf("CompleteUpdate: %v", err)
	}
	// A second Update to the same (now current) target is a no-op.
	if err := inst.Update(UpdateAutomatic, 2, "repeat"); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	entries, _, err = store.Read(w, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	pendingCount := 0
	for _, e := range entries {
		if e.Kind == oplog.KindPendingUpdate {
			pendingCount++
		}
	}
	if pendingCount != 1 {
		t.Fatalf("expected exactly 1 PendingUpdate entry after the no-op repeat, got %d", pendingCount)
	}
}
