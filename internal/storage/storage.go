package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

// Package storage persists the last fetched review collection per watch target.

// ErrCorruptSnapshot marks a snapshot that exists but is not a JSON array.
var ErrCorruptSnapshot = errors.New("snapshot is not a JSON array")

// Snapshot is the last-known review collection of one watch target, as raw records.
type Snapshot struct {
	ExtensionID string
	Records     []json.RawMessage
}

// Store loads and overwrites per-target snapshots.
type Store interface {
	Close() error
	// Load returns found=false when no snapshot was ever written for extensionID.
	Load(extensionID string) (Snapshot, bool, error)
	// Save replaces the snapshot with reviews; it never merges.
	Save(extensionID string, reviews []domain.Review) error
}

// Options selects where concrete stores keep their data.
type Options struct {
	Dir       string
	BBoltPath string
}

const (
	TypeFile  = "file"
	TypeBBolt = "bbolt"
)

// NewStore creates the configured storage backend.
func NewStore(typ string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "", TypeFile:
		if strings.TrimSpace(opts.Dir) == "" {
			return nil, fmt.Errorf("file storage requires a directory")
		}
		return openFileStore(opts.Dir)
	case TypeBBolt:
		if strings.TrimSpace(opts.BBoltPath) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(opts.BBoltPath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// validateKey rejects ids that would escape the snapshot namespace.
func validateKey(extensionID string) error {
	id := strings.TrimSpace(extensionID)
	if id == "" {
		return errors.New("extension id is empty")
	}
	if id != extensionID || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid extension id %q", extensionID)
	}
	return nil
}

func encodeSnapshot(reviews []domain.Review) ([]byte, error) {
	if reviews == nil {
		reviews = []domain.Review{}
	}
	// Records are written as fetched; HTML in review bodies stays unescaped.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(reviews); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeSnapshot(extensionID string, data []byte) (Snapshot, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w: %v", extensionID, ErrCorruptSnapshot, err)
	}
	if records == nil {
		// a literal null decodes without error
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", extensionID, ErrCorruptSnapshot)
	}
	return Snapshot{ExtensionID: extensionID, Records: records}, nil
}
