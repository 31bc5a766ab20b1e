package durablefn

import (
	"github.com/golemcloud/golem/internal/ids"
	"github.com/golemcloud/golem/internal/oplog"
)

// BeginAtomicRegion appends the marker opening a guest region that must be
// replayed wholesale on crash recovery (§4.3). Returns the entry's index,
// to be passed to EndAtomicRegion.
func (d *Dispatcher) BeginAtomicRegion() (ids.OplogIndex, error) {
	return d.store.Append(d.workerID, oplog.NewBeginAtomicRegion())
}

// EndAtomicRegion closes the region opened at beginIndex.
func (d *Dispatcher) EndAtomicRegion(beginIndex ids.OplogIndex) error {
	_, err := d.store.Append(d.workerID, oplog.NewEndAtomicRegion(beginIndex))
	return err
}

// BeginRemoteWrite opens a WriteRemoteBatched region; a single
// EndRemoteWrite closes the whole batch.
func (d *Dispatcher) BeginRemoteWrite() (ids.OplogIndex, error) {
	return d.store.Append(d.workerID, oplog.NewBeginRemoteWrite())
}

func (d *Dispatcher) EndRemoteWrite(beginIndex ids.OplogIndex) error {
	_, err := d.store.Append(d.workerID, oplog.NewEndRemoteWrite(beginIndex))
	return err
}

// BeginRemoteTransaction, PreCommit/PreRollback and Commit/Rollback always
// append their markers regardless of PersistenceLevel (open question 3,
// DESIGN.md): 2-phase recovery has no other way to complete at
// PersistNothing.
func (d *Dispatcher) BeginRemoteTransaction() (ids.OplogIndex, error) {
	return d.store.Append(d.workerID, oplog.NewBeginRemoteTransaction())
}

func (d *Dispatcher) PreCommitRemoteTransaction(beginIndex ids.OplogIndex) error {
	_, err := d.store.Append(d.workerID, oplog.NewPreCommitRemoteTransaction(beginIndex))
	return err
}

func (d *Dispatcher) PreRollbackRemoteTransaction(beginIndex ids.OplogIndex) error {
	_, err := d.store.Append(d.workerID, oplog.NewPreRollbackRemoteTransaction(beginIndex))
	return err
}

func (d *Dispatcher) CommittedRemoteTransaction(beginIndex ids.OplogIndex) error {
	_, err := d.store.Append(d.workerID, oplog.NewCommittedRemoteTransaction(beginIndex))
	return err
}

func (d *Dispatcher) RolledBackRemoteTransaction(beginIndex ids.OplogIndex) error {
	_, err := d.store.Append(d.workerID, oplog.NewRolledBackRemoteTransaction(beginIndex))
	return err
}

// Jump records a structurally retried attempt's range as skip-on-replay:
// on resume the dispatcher will reposition its replay cursor to end+1
// without reconsidering entries in [start, end].
func (d *Dispatcher) Jump(start, end ids.OplogIndex) error {
	region := oplog.Region{Start: start, End: end}
	if _, err := d.store.Append(d.workerID, oplog.NewJump(region)); err != nil {
		return err
	}
	return d.store.RegisterJumpMarker(d.workerID, region)
}

// ChangePersistenceLevel appends the marker and updates the dispatcher's
// live logging policy for subsequent calls.
func (d *Dispatcher) ChangePersistenceLevel(level oplog.PersistenceLevel) error {
	if _, err := d.store.Append(d.workerID, oplog.NewChangePersistenceLevel(level)); err != nil {
		return err
	}
	d.mu.Lock()
	d.persistence = level
	d.mu.Unlock()
	return nil
}
