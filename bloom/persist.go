package bloom

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// snapshot is the persisted form of a filter: shape, probe count and
// the flattened bit cube.
type snapshot struct {
	Dimensions [3]int `json:"dimensions"`
	NumHashes  int    `json:"num_hashes"`
	BitArray   []bool `json:"bit_array"`
}

// Save writes the filter to path atomically: the snapshot lands in a
// temp file in the same directory and is renamed over the target, so a
// crashed save never leaves a torn file behind.
func (f *Filter) Save(path string) error {
	f.mu.RLock()
	snap := snapshot{
		Dimensions: f.dimensions,
		NumHashes:  f.numHashes,
		BitArray:   append([]bool(nil), f.bits...),
	}
	f.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("bloom: encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bloom-*.tmp")
	if err != nil {
		return fmt.Errorf("bloom: creating temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bloom: writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bloom: closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("bloom: replacing snapshot: %w", err)
	}
	return nil
}

// Load reads a filter back from a snapshot file.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bloom: reading snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("bloom: decoding snapshot: %w", err)
	}

	f := New(snap.Dimensions, snap.NumHashes)
	if len(snap.BitArray) != len(f.bits) {
		return nil, fmt.Errorf("bloom: snapshot bit array has %d bits, want %d",
			len(snap.BitArray), len(f.bits))
	}
	copy(f.bits, snap.BitArray)
	return f, nil
}

// LoadOrInit loads the filter at path, recovering from a missing or
// corrupt snapshot by initializing an empty filter and persisting it
// fresh. Prior contents are lost on recovery, which the caller sees in
// the logs.
func LoadOrInit(path string, log *logrus.Logger) (*Filter, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.WithField("path", path).Warn("no bloom filter snapshot found, initializing a new one")
		f := NewDefault()
		if err := f.Save(path); err != nil {
			return nil, err
		}
		return f, nil
	}

	f, err := Load(path)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path":  path,
			"error": err,
		}).Warn("bloom filter snapshot is corrupted, reinitializing")
		f = NewDefault()
		if err := f.Save(path); err != nil {
			return nil, err
		}
		return f, nil
	}

	log.WithField("path", path).Info("bloom filter loaded")
	return f, nil
}
