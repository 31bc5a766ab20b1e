// Package durablefn implements the durable-function dispatcher of §4.3: it
// interposes every host call a worker's guest code makes, deciding — based
// on the call's classification, the worker's PersistenceLevel and whether
// the worker is live or replaying — whether to perform the real effect and
// log it, or to satisfy the call from a prior oplog entry.
package durablefn

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
)

// Mode is whether the dispatcher is driving live guest execution or
// replaying recorded host-call results.
type Mode int

const (
	ModeLive Mode = iota
	ModeReplay
)

func (m Mode) String() string {
	if m == ModeReplay {
		return "replay"
	}
	return "live"
}

// Violation records a detected NonDeterministic mismatch between the guest's
// next host call and the oplog entry replay expected, chained by hash the
// way the teacher's constitutional kernel chains escalation decisions so an
// operator can audit the exact sequence of violations for a worker.
type Violation struct {
	WorkerID     ids.WorkerId `json:"worker_id"`
	AtIndex      ids.OplogIndex `json:"at_index"`
	Expected     string       `json:"expected"`
	Got          string       `json:"got"`
	Timestamp    time.Time    `json:"timestamp"`
	Hash         string       `json:"hash"`
	ParentHash   string       `json:"parent_hash"`
}

func (v Violation) computeHash() string {
	canonical := map[string]any{
		"worker_id": v.WorkerID.String(),
		"at_index":  v.AtIndex,
		"expected":  v.Expected,
		"got":       v.Got,
		"timestamp": v.Timestamp.UnixNano(),
		"parent":    v.ParentHash,
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Dispatcher mediates host calls for a single worker activation.
type Dispatcher struct {
	mu sync.Mutex

	store    *oplog.Store
	workerID ids.WorkerId
	logger   *zap.Logger

	mode   Mode
	cursor ids.OplogIndex // next unread index, meaningful only in replay mode

	persistence oplog.PersistenceLevel

	skipRegions []oplog.Region
	violations  []Violation
	lastHash    string
}

// New constructs a dispatcher for a worker starting in live mode.
func New(store *oplog.Store, workerID ids.WorkerId, persistence oplog.PersistenceLevel, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		workerID:    workerID,
		logger:      logger,
		mode:        ModeLive,
		persistence: persistence,
	}
}

// EnterReplay switches the dispatcher into replay mode starting at index
// `from`, loading the worker's current skip regions (§3.2 Jump/Revert).
func (d *Dispatcher) EnterReplay(from ids.OplogIndex) error {
	regions, err := d.store.SkipRegions(d.workerID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = ModeReplay
	d.cursor = from
	d.skipRegions = regions
	return nil
}

// EnterLive switches the dispatcher to live mode; called once replay has
// caught up to the oplog tail.
func (d *Dispatcher) EnterLive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = ModeLive
}

// Mode reports the dispatcher's current mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Violations returns the audit trail of NonDeterministic mismatches
// detected for this worker so far.
func (d *Dispatcher) Violations() []Violation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Violation, len(d.violations))
	copy(out, d.violations)
	return out
}

func (d *Dispatcher) skippedAt(idx ids.OplogIndex) bool {
	for _, r := range d.skipRegions {
		if r.Contains(idx) {
			return true
		}
	}
	return false
}

// Perform is the effect a live host call executes: it returns the response
// bytes to record, or an error if the call itself failed.
type Perform func() ([]byte, error)

// Invoke interposes one guest host call. In live mode it runs perform and,
// per the §4.3 logging policy for class and the worker's PersistenceLevel,
// appends an ImportedFunctionInvoked entry. In replay mode it consumes the
// next oplog entry and returns its recorded response without calling
// perform, or fails fatally with a NonDeterministic error on mismatch.
func (d *Dispatcher) Invoke(name string, class oplog.DurableFunctionClass, request []byte, perform Perform) ([]byte, error) {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	if mode == ModeReplay {
		return d.replay(name, class, request, perform)
	}
	return d.live(name, class, request, perform)
}

func (d *Dispatcher) live(name string, class oplog.DurableFunctionClass, request []byte, perform Perform) ([]byte, error) {
	response, err := perform()
	if err != nil {
		return nil, err
	}

	if !shouldLog(class, d.persistence) {
		return response, nil
	}

	entry := oplog.NewImportedFunctionInvoked(name, class, request, response, nil)
	if _, appendErr := d.store.Append(d.workerID, entry); appendErr != nil {
		return response, golemerr.Wrap(golemerr.StorageError, "append ImportedFunctionInvoked", appendErr)
	}
	return response, nil
}

func (d *Dispatcher) replay(name string, class oplog.DurableFunctionClass, request []byte, perform Perform) ([]byte, error) {
	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()

	for d.skippedAt(cursor) {
		cursor++
	}

	entries, _, err := d.store.Read(d.workerID, cursor, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		// Nothing left to replay: fall through to live execution for this
		// call, the way resumption transitions from replay to live once the
		// recorded tail is exhausted.
		d.EnterLive()
		return d.live(name, class, request, perform)
	}

	next := entries[0]
	d.mu.Lock()
	d.cursor = next.Index + 1
	d.mu.Unlock()

	switch next.Kind {
	case oplog.KindSuspend, oplog.KindJump, oplog.KindRevert:
		// Honored transparently: replay moves past the marker and matches
		// this call against the next entry.
		return d.replay(name, class, request, perform)
	case oplog.KindImportedFunctionInvoked:
		if next.FunctionName != name || next.Class != class {
			return nil, d.recordViolation(next.Index,
				fmt.Sprintf("%s/%s", name, class),
				fmt.Sprintf("%s/%s", next.FunctionName, next.Class))
		}
		return next.Response, nil
	default:
		return nil, d.recordViolation(next.Index, "ImportedFunctionInvoked", string(next.Kind))
	}
}

func (d *Dispatcher) recordViolation(idx ids.OplogIndex, expected, got string) error {
	d.mu.Lock()
	v := Violation{
		WorkerID:   d.workerID,
		AtIndex:    idx,
		Expected:   expected,
		Got:        got,
		Timestamp:  time.Now().UTC(),
		ParentHash: d.lastHash,
	}
	v.Hash = v.computeHash()
	d.lastHash = v.Hash
	d.violations = append(d.violations, v)
	d.mu.Unlock()

	d.logger.Error("non-deterministic replay",
		zap.String("worker_id", d.workerID.String()),
		zap.Uint64("at_index", uint64(idx)),
		zap.String("expected", expected),
		zap.String("got", got),
	)
	return golemerr.New(golemerr.NonDeterministic,
		fmt.Sprintf("worker %s: replay mismatch at index %d: expected %s, got %s", d.workerID, idx, expected, got))
}

// shouldLog implements the §4.3 live-mode logging policy per class and
// PersistenceLevel.
func shouldLog(class oplog.DurableFunctionClass, level oplog.PersistenceLevel) bool {
	switch class {
	case oplog.ClassReadLocal:
		// Deterministic and cheap to redo: recovery re-executes instead of
		// replaying a logged result, at every persistence level.
		return false
	case oplog.ClassWriteLocal:
		return level == oplog.PersistSmart
	case oplog.ClassReadRemote, oplog.ClassWriteRemote, oplog.ClassWriteRemoteBatched, oplog.ClassWriteRemoteTransaction:
		// Remote effects are not safe to redo blindly; PersistNothing still
		// logs them (as BeginRemoteTransaction and the other transaction
		// markers in regions.go do) because recovery has no other way to
		// complete them.
		return true
	default:
		return true
	}
}
