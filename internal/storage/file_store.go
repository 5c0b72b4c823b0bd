package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

const snapshotExt = ".json"

// fileStore keeps one <extensionId>.json file per watch target.
type fileStore struct {
	dir string
}

// openFileStore initializes a directory-backed Store, creating dir if absent.
func openFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reviews directory: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (f *fileStore) Close() error { return nil }

// Path returns the snapshot file for extensionID.
func (f *fileStore) Path(extensionID string) string {
	return filepath.Join(f.dir, extensionID+snapshotExt)
}

// Load reads the snapshot for extensionID.
func (f *fileStore) Load(extensionID string) (Snapshot, bool, error) {
	if err := validateKey(extensionID); err != nil {
		return Snapshot{}, false, err
	}

	data, err := os.ReadFile(f.Path(extensionID))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot %s: %w", extensionID, err)
	}

	snap, err := decodeSnapshot(extensionID, data)
	if err != nil {
		return Snapshot{}, true, err
	}
	return snap, true, nil
}

// Save writes the snapshot through a temp file and a rename so readers never
// observe a partial document.
func (f *fileStore) Save(extensionID string, reviews []domain.Review) error {
	if err := validateKey(extensionID); err != nil {
		return err
	}

	data, err := encodeSnapshot(reviews)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, extensionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot %s: %w", extensionID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot %s: %w", extensionID, err)
	}
	if err := os.Rename(tmpName, f.Path(extensionID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot %s: %w", extensionID, err)
	}
	return nil
}
