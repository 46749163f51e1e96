// Package plancache persists solved memory layouts on disk so that repeated
// planning of the same graph skips the conflict and solve phases.
package plancache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TensorLayout is one tensor's placement in a cached layout. Field names are
// part of the on-disk format and must not change.
type TensorLayout struct {
	TensorID      int    `json:"tensor_id"`
	Size          uint64 `json:"size"`
	OriSize       uint64 `json:"ori_size"`
	LifelongValue int    `json:"lifelong_value"`
	LifeStart     int    `json:"life_start"`
	LifeEnd       int    `json:"life_end"`
	Offset        uint64 `json:"offset"`
}

// Layout is a complete cached plan for one graph.
type Layout struct {
	GraphID          uint32         `json:"graph_id"`
	HashID           string         `json:"hash_id"`
	MemOffset        uint64         `json:"mem_offset"`
	NodeCount        int            `json:"node_count"`
	TensorCount      int            `json:"tensor_count"`
	ContiguousCount  int            `json:"contiguous_count"`
	RefNodeCount     int            `json:"ref_node_count"`
	StreamCount      int            `json:"stream_count"`
	StreamGroupCount int            `json:"stream_group_count"`
	Tensors          []TensorLayout `json:"tensors"`
}

// retryDelay is how long Load waits before its single re-read attempt.
// Variable so tests do not have to sleep half a second.
var retryDelay = 500 * time.Millisecond

// Hash returns the cache key for a graph's model text: the first 16 hex
// characters of its SHA-256.
func Hash(modelText string) string {
	sum := sha256.Sum256([]byte(modelText))
	return hex.EncodeToString(sum[:])[:16]
}

// FileBase returns the base name shared by the layout and model files of one
// cached graph.
func FileBase(graphID uint32, hashID string) string {
	return fmt.Sprintf("somas_graph_%d_%s", graphID, hashID)
}

// Save writes the layout and the model text it was keyed on. Both files are
// written through a temp file and renamed into place so readers never see a
// partial write.
func Save(dir string, layout *Layout, modelText string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := FileBase(layout.GraphID, layout.HashID)

	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, base+".json"), data); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, base+".info"), []byte(modelText))
}

// Load reads a cached layout. A missing file is (nil, nil); a read or decode
// failure is retried once after retryDelay, на случай гонки с параллельным
// Save на общем кеш-каталоге.
func Load(dir string, graphID uint32, hashID string) (*Layout, error) {
	p := filepath.Join(dir, FileBase(graphID, hashID)+".json")

	layout, err := readLayout(p)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return layout, nil
	}
	time.Sleep(retryDelay)
	layout, err = readLayout(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return layout, nil
}

func readLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var layout Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, err
	}
	return &layout, nil
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	// Атомарная замена
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
