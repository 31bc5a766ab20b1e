package durablefn

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *oplog.Store, ids.WorkerId) {
	t.Helper()
	store, err := oplog.Open(filepath.Join(t.TempDir(), "oplog.db"))
	if err != nil {
		t.Fatalf("oplog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	w := ids.WorkerId{ComponentId: ids.NewComponentId(), Name: "w1"}
	return New(store, w, oplog.PersistSmart, zap.NewNop()), store, w
}

func TestInvoke_LiveReadLocalNotLogged(t *testing.T) {
	d, store, w := newTestDispatcher(t)

	calls := 0
	resp, err := d.Invoke("clock:now", oplog.ClassReadLocal, nil, func() ([]byte, error) {
		calls++
		return []byte("42"), nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(resp) != "42" || calls != 1 {
		t.Fatalf("unexpected perform result: resp=%q calls=%d", resp, calls)
	}

	entries, _, err := store.Read(w, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected ReadLocal not to be logged, got %d entries", len(entries))
	}
}

func TestInvoke_LiveReadRemoteLogged(t *testing.T) {
	d, store, w := newTestDispatcher(t)

	resp, err := d.Invoke("http:get", oplog.ClassReadRemote, []byte("req"), func() ([]byte, error) {
		return []byte("resp"), nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(resp) != "resp" {
		t.Fatalf("unexpected response %q", resp)
	}

	entries, _, err := store.Read(w, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != oplog.KindImportedFunctionInvoked {
		t.Fatalf("expected logged ImportedFunctionInvoked, got %+v", entries)
	}
	if string(entries[0].Response) != "resp" {
		t.Fatalf("unexpected logged response: %q", entries[0].Response)
	}
}

func TestInvoke_ReplayReturnsRecordedResponseWithoutPerforming(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	if _, err := d.Invoke("http:get", oplog.ClassReadRemote, []byte("req"), func() ([]byte, error) {
		return []byte("42"), nil
	}); err != nil {
		t.Fatalf("live Invoke: %v", err)
	}

	if err := d.EnterReplay(0); err != nil {
		t.Fatalf("EnterReplay: %v", err)
	}

	calls := 0
	resp, err := d.Invoke("http:get", oplog.ClassReadRemote, []byte("req"), func() ([]byte, error) {
		calls++
		return []byte("should-not-happen"), nil
	})
	if err != nil {
		t.Fatalf("replay Invoke: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected perform not to be called during replay, got %d calls", calls)
	}
	if string(resp) != "42" {
		t.Fatalf("expected replayed response 42, got %q", resp)
	}
}

func TestInvoke_ReplayMismatchIsNonDeterministic(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	if _, err := d.Invoke("http:get", oplog.ClassReadRemote, []byte("req"), func() ([]byte, error) {
		return []byte("42"), nil
	}); err != nil {
		t.Fatalf("live Invoke: %v", err)
	}

	if err := d.EnterReplay(0); err != nil {
		t.Fatalf("EnterReplay: %v", err)
	}

	_, err := d.Invoke("http:post", oplog.ClassReadRemote, []byte("req"), func() ([]byte, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected a NonDeterministic error on function-name mismatch")
	}
	var golemErr *golemerr.Error
	if !errors.As(err, &golemErr) || golemErr.Code != golemerr.NonDeterministic {
		t.Fatalf("expected golemerr.NonDeterministic, got %v", err)
	}

	if got := len(d.Violations()); got != 1 {
		t.Fatalf("expected 1 recorded violation, got %d", got)
	}
}

func TestJump_RegistersSkipRegion(t *testing.T) {
	d, _, w := newTestDispatcher(t)

	if err := d.Jump(1, 3); err != nil {
		t.Fatalf("Jump: %v", err)
	}

	regions, err := d.store.SkipRegions(w)
	if err != nil {
		t.Fatalf("SkipRegions: %v", err)
	}
	if len(regions) != 1 || regions[0].Start != 1 || regions[0].End != 3 {
		t.Fatalf("unexpected skip regions: %+v", regions)
	}
}

func TestChangePersistenceLevel_UpdatesLogPolicy(t *testing.T) {
	d, store, w := newTestDispatcher(t)

	if err := d.ChangePersistenceLevel(oplog.PersistNothing); err != nil {
		t.Fatalf("ChangePersistenceLevel: %v", err)
	}

	if _, err := d.Invoke("kv:put", oplog.ClassWriteLocal, nil, func() ([]byte, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	entries, _, err := store.Read(w, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// One ChangePersistenceLevel marker plus the WriteLocal call, which is
	// not logged outside PersistSmart.
	if len(entries) != 1 || entries[0].Kind != oplog.KindChangePersistenceLevel {
		t.Fatalf("expected only the ChangePersistenceLevel marker logged, got %+v", entries)
	}
}
