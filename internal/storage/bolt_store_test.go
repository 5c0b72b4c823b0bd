package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/samvad-hq/review-watcher/internal/domain"
	bolt "go.etcd.io/bbolt"
)

func TestBoltStoreSavesAndOverwritesSnapshots(t *testing.T) {
	storeRaw, err := openBolt(filepath.Join(t.TempDir(), "nested", "reviews.db"))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := storeRaw.(*boltStore)
	defer store.Close()

	_, found, err := store.Load("redhat.java")
	if err != nil || found {
		t.Fatalf("expected no snapshot, found=%v err=%v", found, err)
	}

	first := []domain.Review{{ID: "1", Raw: []byte(`{"id":"1"}`)}}
	if err := store.Save("redhat.java", first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := []domain.Review{{ID: "2", Raw: []byte(`{"id":"2"}`)}}
	if err := store.Save("redhat.java", second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, found, err := store.Load("redhat.java")
	if err != nil || !found {
		t.Fatalf("expected snapshot, found=%v err=%v", found, err)
	}
	if len(snap.Records) != 1 || string(snap.Records[0]) != `{"id":"2"}` {
		t.Fatalf("snapshot was not overwritten: %s", snap.Records)
	}
}

func TestBoltStoreFlagsCorruptSnapshot(t *testing.T) {
	storeRaw, err := openBolt(filepath.Join(t.TempDir(), "reviews.db"))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := storeRaw.(*boltStore)
	defer store.Close()

	if err := store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Put([]byte("13234"), []byte(`{"id":1}`))
	}); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}

	_, found, err := store.Load("13234")
	if !found {
		t.Fatalf("corrupt snapshot should still report found")
	}
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("redis", Options{Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected unsupported storage type error")
	}
	if _, err := NewStore(TypeBBolt, Options{}); err == nil {
		t.Fatalf("expected error for missing bbolt path")
	}
}
