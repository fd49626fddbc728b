package filter

import (
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/talaria-bio/herald/internal/herr"
)

// DefaultFileName is the on-disk name for the serialized tier-1
// filter, stored alongside the KV backend (spec.md §6 filesystem
// layout: "bloom.bin — serialized tier-1 filter").
const DefaultFileName = "bloom.bin"

// Save serializes the cascade's tier-1 filter to path, overwriting any
// existing file. Called on the configured interval (default 5
// minutes) and on clean shutdown (spec.md §4.13).
func (c *Cascade) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return herr.Wrap(herr.KindIO, "filter.Save", path, err)
	}
	if _, err := c.bloom.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return herr.Wrap(herr.KindIO, "filter.Save", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return herr.Wrap(herr.KindIO, "filter.Save", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return herr.Wrap(herr.KindIO, "filter.Save", path, err)
	}
	return nil
}

// Load rebuilds a Cascade from a file written by Save. It reports
// (nil, false, nil) when the file does not exist, so callers can fall
// back to Rebuild without treating a missing filter as an error
// (spec.md §4.13: "if present and consistent ... load; else rebuild").
func Load(path string, expectedKeys uint) (*Cascade, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, herr.Wrap(herr.KindIO, "filter.Load", path, err)
	}
	defer f.Close()

	bf := &bloom.BloomFilter{}
	if _, err := bf.ReadFrom(f); err != nil {
		return nil, false, herr.Wrap(herr.KindCorruptedData, "filter.Load", path, err)
	}
	c := &Cascade{bloom: bf, n: expectedKeys, fpRate: 0}
	if expectedKeys != 0 && c.ApproximatedSize() > expectedKeys {
		return nil, false, herr.New(herr.KindCorruptedData, "filter.Load", path)
	}
	return c, true, nil
}

// Rebuild scans every key yielded by iterateSequenceHashes (the
// sequences partition's full key set) into a freshly sized Cascade.
// Used on startup when no persisted filter is present or the
// persisted one fails consistency checks (spec.md §4.13 "rebuild by
// scanning the sequences partition").
func Rebuild(expectedKeys uint, fpRate float64, iterateSequenceHashes func(yield func([]byte) bool) error) (*Cascade, error) {
	c := New(expectedKeys, fpRate)
	err := iterateSequenceHashes(func(key []byte) bool {
		c.bloom.Add(key)
		return true
	})
	if err != nil {
		return nil, herr.Wrap(herr.KindIO, "filter.Rebuild", "", err)
	}
	return c, nil
}

// PathFor returns the conventional bloom.bin location under baseDir.
func PathFor(baseDir string) string {
	return filepath.Join(baseDir, DefaultFileName)
}
