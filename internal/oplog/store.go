// store.go persists each worker's oplog in a bbolt database, one nested
// bucket tree per worker, following the bucket-per-concern layout and
// single-writer ACID transaction discipline of the teacher's storage layer.
package oplog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/golemcloud/golem/internal/golemerr"
	"github.com/golemcloud/golem/internal/ids"
)

const (
	// SchemaVersion is the current oplog database schema version.
	SchemaVersion = "1"

	bucketWorkers = "workers"
	bucketMeta    = "meta"

	subBucketEntries = "entries"
	subBucketMeta    = "meta"

	metaKeySchemaVersion = "schema_version"
	metaKeyTailIndex     = "tail_index"
	metaKeyComponentVer  = "component_version"
	metaKeyRevertRegions = "revert_regions"
	metaKeyJumpMarkers   = "jump_markers"
)

// Store is the bbolt-backed append-only log of every worker's oplog.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the oplog database at path and verifies the
// schema version, mirroring the teacher's Open/checkSchemaVersion split.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, golemerr.Wrap(golemerr.StorageError, fmt.Sprintf("bolt.Open(%q)", path), err)
	}

	s := &Store{db: bdb}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		workers, err := tx.CreateBucketIfNotExists([]byte(bucketWorkers))
		if err != nil {
			return fmt.Errorf("create %q bucket: %w", bucketWorkers, err)
		}
		_ = workers
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return fmt.Errorf("create %q bucket: %w", bucketMeta, err)
		}
		if meta.Get([]byte(metaKeySchemaVersion)) == nil {
			if err := meta.Put([]byte(metaKeySchemaVersion), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, golemerr.Wrap(golemerr.StorageError, "oplog database initialisation failed", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte(metaKeySchemaVersion))
		if string(v) != SchemaVersion {
			return golemerr.New(golemerr.StorageError,
				fmt.Sprintf("oplog schema version mismatch: database has %q, engine requires %q", v, SchemaVersion))
		}
		return nil
	})
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func workerBucket(tx *bolt.Tx, workerID ids.WorkerId) (*bolt.Bucket, error) {
	workers := tx.Bucket([]byte(bucketWorkers))
	b, err := workers.CreateBucketIfNotExists([]byte(workerID.String()))
	if err != nil {
		return nil, fmt.Errorf("create worker bucket %q: %w", workerID, err)
	}
	return b, nil
}

func indexKey(idx ids.OplogIndex) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(idx))
	return key
}

// Append assigns the next OplogIndex to entry and writes it durably,
// returning the assigned index. The worker's Create/SuccessfulUpdate
// entries additionally update the tracked current component version used
// by Cursor.
func (s *Store) Append(workerID ids.WorkerId, entry Entry) (ids.OplogIndex, error) {
	var assigned ids.OplogIndex
	err := s.db.Update(func(tx *bolt.Tx) error {
		wb, err := workerBucket(tx, workerID)
		if err != nil {
			return err
		}
		entries, err := wb.CreateBucketIfNotExists([]byte(subBucketEntries))
		if err != nil {
			return err
		}
		meta, err := wb.CreateBucketIfNotExists([]byte(subBucketMeta))
		if err != nil {
			return err
		}

		tail := readUint64(meta, metaKeyTailIndex)
		if tail == 0 {
			tail = 1 // OplogIndex 0 is reserved to mean "before the first entry"
		}
		assigned = ids.OplogIndex(tail)
		entry.Index = assigned

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal oplog entry: %w", err)
		}
		if err := entries.Put(indexKey(assigned), data); err != nil {
			return fmt.Errorf("put oplog entry: %w", err)
		}
		if err := writeUint64(meta, metaKeyTailIndex, tail+1); err != nil {
			return err
		}

		switch entry.Kind {
		case KindCreate:
			if err := writeUint64(meta, metaKeyComponentVer, uint64(entry.ComponentVersion)); err != nil {
				return err
			}
		case KindSuccessfulUpdate:
			if err := writeUint64(meta, metaKeyComponentVer, uint64(entry.TargetVersion)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, golemerr.Wrap(golemerr.StorageError, "append oplog entry", err)
	}
	return assigned, nil
}

// Read returns up to limit entries starting at from, plus a Cursor for the
// next page. limit <= 0 means "no limit".
func (s *Store) Read(workerID ids.WorkerId, from ids.OplogIndex, limit int) ([]Entry, Cursor, error) {
	var entries []Entry
	var cursor Cursor

	err := s.db.View(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		wb := workers.Bucket([]byte(workerID.String()))
		if wb == nil {
			return nil
		}
		eb := wb.Bucket([]byte(subBucketEntries))
		meta := wb.Bucket([]byte(subBucketMeta))
		if eb == nil {
			return nil
		}

		c := eb.Cursor()
		var next ids.OplogIndex
		count := 0
		for k, v := c.Seek(indexKey(from)); k != nil; k, v = c.Next() {
			if limit > 0 && count >= limit {
				next = ids.OplogIndex(binary.BigEndian.Uint64(k))
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal oplog entry: %w", err)
			}
			entries = append(entries, e)
			count++
			next = e.Index + 1
		}

		cursor = Cursor{
			NextIndex:        next,
			ComponentVersion: ids.ComponentVersion(readUint64(meta, metaKeyComponentVer)),
		}
		return nil
	})
	if err != nil {
		return nil, Cursor{}, golemerr.Wrap(golemerr.StorageError, "read oplog", err)
	}
	return entries, cursor, nil
}

// Filter narrows Search results; a zero-valued Filter matches everything.
type Filter struct {
	Kind         Kind   // empty: any kind
	FunctionName string // empty: any function
}

func (f Filter) matches(e Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.FunctionName != "" && e.FunctionName != f.FunctionName {
		return false
	}
	return true
}

// Search scans the full oplog for entries matching a substring on the log
// message/error message/function name plus an optional structured Filter
// (§4.1's text+structured query operation). Not called on the replay hot
// path — it is an operator/debugging query.
func (s *Store) Search(workerID ids.WorkerId, substr string, filter Filter) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		wb := workers.Bucket([]byte(workerID.String()))
		if wb == nil {
			return nil
		}
		eb := wb.Bucket([]byte(subBucketEntries))
		if eb == nil {
			return nil
		}
		return eb.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal oplog entry: %w", err)
			}
			if !filter.matches(e) {
				return nil
			}
			if substr != "" && !entryContains(e, substr) {
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, golemerr.Wrap(golemerr.StorageError, "search oplog", err)
	}
	return out, nil
}

func entryContains(e Entry, substr string) bool {
	for _, field := range []string{e.FunctionName, e.ErrorMessage, e.LogMessage, e.UpdateDesc, e.FailureDetails} {
		if strings.Contains(field, substr) {
			return true
		}
	}
	return false
}

// RegisterJumpMarker records a Jump region for a worker so future replay
// walkers (internal/durablefn) can skip it via SkipRegions. Appending the
// Jump entry itself is the caller's responsibility; this only maintains the
// meta-bucket index used for fast lookup.
func (s *Store) RegisterJumpMarker(workerID ids.WorkerId, region Region) error {
	return s.appendRegion(workerID, metaKeyJumpMarkers, region)
}

// Revert records a region of the oplog as reverted (§8: "reverting and then
// reapplying the same revert is a no-op"). Idempotent: reverting the same
// region twice has the same effect as once.
func (s *Store) Revert(workerID ids.WorkerId, region Region) error {
	return s.appendRegion(workerID, metaKeyRevertRegions, region)
}

func (s *Store) appendRegion(workerID ids.WorkerId, metaKey string, region Region) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		wb, err := workerBucket(tx, workerID)
		if err != nil {
			return err
		}
		meta, err := wb.CreateBucketIfNotExists([]byte(subBucketMeta))
		if err != nil {
			return err
		}
		regions, err := readRegions(meta, metaKey)
		if err != nil {
			return err
		}
		for _, r := range regions {
			if r == region {
				return nil // already recorded: idempotent
			}
		}
		regions = append(regions, region)
		return writeRegions(meta, metaKey, regions)
	})
	if err != nil {
		return golemerr.Wrap(golemerr.StorageError, "record oplog region", err)
	}
	return nil
}

// Tail returns the index of the last appended entry for a worker, or 0 if
// the worker has no entries yet (index 0 is never an assigned entry).
func (s *Store) Tail(workerID ids.WorkerId) (ids.OplogIndex, error) {
	var tail uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		wb := workers.Bucket([]byte(workerID.String()))
		if wb == nil {
			return nil
		}
		meta := wb.Bucket([]byte(subBucketMeta))
		next := readUint64(meta, metaKeyTailIndex)
		if next > 1 {
			tail = next - 1
		}
		return nil
	})
	if err != nil {
		return 0, golemerr.Wrap(golemerr.StorageError, "read oplog tail", err)
	}
	return ids.OplogIndex(tail), nil
}

// Fork copies worker src's oplog entries in [1, cutoff] into a fresh dst
// worker bucket, so dst continues independently from that point (§4.4
// Fork(src, dst, cutoff)). dst must not already have entries.
func (s *Store) Fork(src, dst ids.WorkerId, cutoff ids.OplogIndex) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		srcBucket := workers.Bucket([]byte(src.String()))
		if srcBucket == nil {
			return fmt.Errorf("fork: source worker %s has no oplog", src)
		}
		srcEntries := srcBucket.Bucket([]byte(subBucketEntries))
		srcMeta := srcBucket.Bucket([]byte(subBucketMeta))

		dstBucket, err := workers.CreateBucketIfNotExists([]byte(dst.String()))
		if err != nil {
			return err
		}
		dstEntries, err := dstBucket.CreateBucketIfNotExists([]byte(subBucketEntries))
		if err != nil {
			return err
		}
		dstMeta, err := dstBucket.CreateBucketIfNotExists([]byte(subBucketMeta))
		if err != nil {
			return err
		}

		if srcEntries != nil {
			c := srcEntries.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				idx := ids.OplogIndex(binary.BigEndian.Uint64(k))
				if idx > cutoff {
					break
				}
				if err := dstEntries.Put(k, v); err != nil {
					return fmt.Errorf("fork copy entry %d: %w", idx, err)
				}
			}
		}

		if err := writeUint64(dstMeta, metaKeyTailIndex, uint64(cutoff)+1); err != nil {
			return err
		}
		if err := writeUint64(dstMeta, metaKeyComponentVer, readUint64(srcMeta, metaKeyComponentVer)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return golemerr.Wrap(golemerr.StorageError, "fork oplog", err)
	}
	return nil
}

// SkipRegions returns the union of jump and revert regions registered for a
// worker, for the replay walker to skip over. Storage only tracks the
// facts; replay policy (which regions apply at which point) stays in
// internal/durablefn.
func (s *Store) SkipRegions(workerID ids.WorkerId) ([]Region, error) {
	var regions []Region
	err := s.db.View(func(tx *bolt.Tx) error {
		workers := tx.Bucket([]byte(bucketWorkers))
		wb := workers.Bucket([]byte(workerID.String()))
		if wb == nil {
			return nil
		}
		meta := wb.Bucket([]byte(subBucketMeta))
		if meta == nil {
			return nil
		}
		jumps, err := readRegions(meta, metaKeyJumpMarkers)
		if err != nil {
			return err
		}
		reverts, err := readRegions(meta, metaKeyRevertRegions)
		if err != nil {
			return err
		}
		regions = append(append(regions, jumps...), reverts...)
		return nil
	})
	if err != nil {
		return nil, golemerr.Wrap(golemerr.StorageError, "read oplog skip regions", err)
	}
	return regions, nil
}

func readUint64(b *bolt.Bucket, key string) uint64 {
	if b == nil {
		return 0
	}
	v := b.Get([]byte(key))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func writeUint64(b *bolt.Bucket, key string, val uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, val)
	return b.Put([]byte(key), buf)
}

func readRegions(b *bolt.Bucket, key string) ([]Region, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	var regions []Region
	if err := json.Unmarshal(v, &regions); err != nil {
		return nil, fmt.Errorf("unmarshal regions %q: %w", key, err)
	}
	return regions, nil
}

func writeRegions(b *bolt.Bucket, key string, regions []Region) error {
	data, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("marshal regions %q: %w", key, err)
	}
	return b.Put([]byte(key), data)
}
