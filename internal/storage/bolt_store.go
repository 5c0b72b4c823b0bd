package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samvad-hq/review-watcher/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const snapshotBucket = "snapshots"

// boltStore implements a Store backed by BoltDB, one key per watch target.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Load reads the snapshot stored under extensionID.
func (b *boltStore) Load(extensionID string) (Snapshot, bool, error) {
	if err := validateKey(extensionID); err != nil {
		return Snapshot{}, false, err
	}

	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket missing")
		}
		if v := bucket.Get([]byte(extensionID)); v != nil {
			// values are only valid for the life of the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot %s: %w", extensionID, err)
	}
	if data == nil {
		return Snapshot{}, false, nil
	}

	snap, err := decodeSnapshot(extensionID, data)
	if err != nil {
		return Snapshot{}, true, err
	}
	return snap, true, nil
}

// Save overwrites the snapshot stored under extensionID.
func (b *boltStore) Save(extensionID string, reviews []domain.Review) error {
	if err := validateKey(extensionID); err != nil {
		return err
	}

	data, err := encodeSnapshot(reviews)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket missing")
		}
		return bucket.Put([]byte(extensionID), data)
	})
}
