// Package state persists the monitor's working set to a local JSON snapshot
// so a restart loses at most one in-flight cycle. The snapshot is written
// with a temp-file-then-rename so readers never observe a torn file; absence
// at startup is a cold start, not an error.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/onnwee/streamwatch/chat"
	"github.com/onnwee/streamwatch/delivery"
	"github.com/onnwee/streamwatch/quota"
	"github.com/onnwee/streamwatch/registry"
)

// snapshotVersion guards the on-disk format.
const snapshotVersion = 1

// Snapshot is the serialized working set.
type Snapshot struct {
	Version     int                   `json:"version"`
	SavedAt     time.Time             `json:"saved_at"`
	Registry    registry.Snapshot     `json:"registry"`
	ChatCursors map[string]chat.State `json:"chat_cursors,omitempty"`
	Quota       quota.Snapshot        `json:"quota"`
	Delivery    delivery.Snapshot     `json:"delivery"`
	APICalls    int64                 `json:"api_calls"`
}

// Store reads and writes snapshots at a fixed path. Writes are serialized by
// the monitor loop; there is never a concurrent reader.
type Store struct {
	Path string
}

// Load reads the snapshot. A missing file returns (nil, nil).
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// Save atomically replaces the snapshot file.
func (s *Store) Save(snap *Snapshot) error {
	snap.Version = snapshotVersion
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
