// Package config loads planner settings from a somas.toml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the [planner] and [cache] configuration of a somas.toml.
type Config struct {
	Planner PlannerConfig `toml:"planner"`
	Cache   CacheConfig   `toml:"cache"`
	Dump    DumpConfig    `toml:"dump"`
}

// PlannerConfig tunes the planning pipeline.
type PlannerConfig struct {
	// Jobs bounds conflict-phase workers; 0 means all CPUs.
	Jobs int `toml:"jobs"`
	// ParallelThreshold is the candidate count above which the conflict
	// phase runs sharded.
	ParallelThreshold int `toml:"parallel_threshold"`
}

// CacheConfig controls the on-disk layout cache.
type CacheConfig struct {
	// Dir holds cached layouts; empty disables the cache.
	Dir string `toml:"dir"`
	// Threshold is the tensor count below which caching is skipped.
	Threshold int `toml:"threshold"`
}

// DumpConfig controls optional diagnostic dumps.
type DumpConfig struct {
	// Dir receives dump files when non-empty.
	Dir string `toml:"dir"`
}

// FileName is the config file looked up next to a graph file or in the
// working directory.
const FileName = "somas.toml"

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Planner: PlannerConfig{ParallelThreshold: 2000},
		Cache:   CacheConfig{Threshold: 2000},
	}
}

// Load reads path. A missing file yields Default with no error; a present
// but malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}
	if cfg.Planner.ParallelThreshold < 0 || cfg.Cache.Threshold < 0 || cfg.Planner.Jobs < 0 {
		return Config{}, fmt.Errorf("%s: thresholds and jobs must be non-negative", path)
	}
	return cfg, nil
}

// Discover finds the config next to the given graph file, falling back to
// the working directory, then to defaults.
func Discover(graphPath string) (Config, error) {
	if graphPath != "" {
		p := filepath.Join(filepath.Dir(graphPath), FileName)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Load(FileName)
}
