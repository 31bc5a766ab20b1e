package registry

import (
	"crypto/sha256"
	"encoding/hex"

	bolt "go.etcd.io/bbolt"

	"github.com/golemcloud/golem/internal/golemerr"
)

const bucketBlobs = "blobs"

// BlobStore is a content-addressed store for component bytes and initial
// file contents, keyed by sha256(content). Blobs are immutable after first
// write (§5 "Shared resources"): writing the same content twice is a no-op.
type BlobStore struct {
	db *bolt.DB
}

func newBlobStore(db *bolt.DB) *BlobStore { return &BlobStore{db: db} }

// Put stores data if not already present and returns its content key.
func (s *BlobStore) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketBlobs))
		if err != nil {
			return err
		}
		if b.Get([]byte(key)) != nil {
			return nil
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return "", golemerr.Wrap(golemerr.StorageError, "put blob", err)
	}
	return key, nil
}

// Get retrieves a blob by content key.
func (s *BlobStore) Get(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBlobs))
		if b == nil {
			return golemerr.New(golemerr.StorageError, "blob store not initialised")
		}
		v := b.Get([]byte(key))
		if v == nil {
			return golemerr.New(golemerr.StorageError, "blob "+key+" not found")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}
