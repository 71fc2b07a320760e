// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package readindex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config tunes the per-segment read indices.
//
//   - ReadAheadLength:      minimum number of bytes fetched per storage read
//   - MaxStorageReadLength: upper bound on a single storage read
//   - CacheCapacity:        evictable bytes kept per segment before LRU eviction
//   - CompactThreshold:     tombstones tolerated in an index before it is rebuilt
type Config struct {
	ReadAheadLength      int   `json:"read_ahead_length"`
	MaxStorageReadLength int   `json:"max_storage_read_length"`
	CacheCapacity        int64 `json:"cache_capacity"`
	CompactThreshold     int   `json:"compact_threshold"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		ReadAheadLength:      64 * 1024,
		MaxStorageReadLength: 1024 * 1024,
		CacheCapacity:        16 * 1024 * 1024,
		CompactThreshold:     256,
	}
}

var errConfigInvalid = errors.New("invalid config")

// Validate reports the first field holding an unusable value.
func (c Config) Validate() error {
	switch {
	case c.ReadAheadLength <= 0:
		return fmt.Errorf("%w: read_ahead_length must be positive", errConfigInvalid)
	case c.MaxStorageReadLength <= 0:
		return fmt.Errorf("%w: max_storage_read_length must be positive", errConfigInvalid)
	case c.ReadAheadLength > c.MaxStorageReadLength:
		return fmt.Errorf("%w: read_ahead_length exceeds max_storage_read_length", errConfigInvalid)
	case c.CacheCapacity < 0:
		return fmt.Errorf("%w: cache_capacity must not be negative", errConfigInvalid)
	case c.CompactThreshold <= 0:
		return fmt.Errorf("%w: compact_threshold must be positive", errConfigInvalid)
	}
	return nil
}

// LoadConfig reads a JSON (comments and trailing commas allowed) config file.
// Fields absent from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig without the file access.
func ParseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}

	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, replacing any existing file atomically.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
