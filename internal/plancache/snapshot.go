package plancache

import (
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when Snapshot format changes
const snapshotSchemaVersion uint16 = 1

// Snapshot is the binary export of a solved plan, the artifact a runtime
// loads to allocate its device pool. Unlike Layout it is not a cache entry:
// there is no hash check on read, only the schema version.
type Snapshot struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	GraphID   uint32
	HashID    string
	Footprint uint64

	TensorIDs []int32
	Offsets   []uint64
	Sizes     []uint64
}

// WriteSnapshot serializes a snapshot to path through a temp file.
func WriteSnapshot(path string, snap *Snapshot) error {
	snap.Schema = snapshotSchemaVersion
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := msgpack.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// ReadSnapshot deserializes a snapshot. A schema mismatch is reported as a
// nil snapshot with no error, matching how stale cache entries are treated.
func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snap Snapshot
	if err := msgpack.NewDecoder(f).Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Schema != snapshotSchemaVersion {
		return nil, nil
	}
	return &snap, nil
}
