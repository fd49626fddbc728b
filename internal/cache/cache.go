// Package cache implements C10: the metadata cache layer sitting in
// front of derived, expensive-to-recompute views over the manifest
// store — the database list, per-database version lists, and global
// stats — with targeted invalidation on the writes that can change
// them (spec.md §4.10).
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DatabaseSummary is one entry of the cached database list.
type DatabaseSummary struct {
	Source        string `json:"source"`
	Dataset       string `json:"dataset"`
	NewestVersion string `json:"newest_version"`
}

// Stats is the cached global-stats view.
type Stats struct {
	TotalDatabases int    `json:"total_databases"`
	TotalChunks    uint64 `json:"total_chunks"`
	TotalSequences uint64 `json:"total_sequences"`
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is C10: an in-memory map mirrored to JSON files on disk so a
// restarted process can serve stale-but-present views before its first
// recompute (spec.md §4.10 "on-disk JSON mirror for cross-process
// restarts").
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	mirror  string // directory for the JSON mirror; "" disables it
	entries map[string]entry
}

const (
	keyDatabaseList = "database_list"
	keyStats        = "stats"
)

func versionListKey(source, dataset string) string {
	return "version_list:" + source + "/" + dataset
}

// New builds a Cache with the given TTL (spec.md §6 cache_ttl_sec,
// default 300s) and an optional mirror directory.
func New(ttl time.Duration, mirrorDir string) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		ttl:     ttl,
		mirror:  mirrorDir,
		entries: make(map[string]entry),
	}
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	c.persist(key, value)
}

// DatabaseList returns the cached database list, falling back to the
// on-disk mirror (for a process that just restarted) and finally to
// compute if neither has a live entry.
func (c *Cache) DatabaseList(compute func() ([]DatabaseSummary, error)) ([]DatabaseSummary, error) {
	if v, ok := c.get(keyDatabaseList); ok {
		return v.([]DatabaseSummary), nil
	}
	var mirrored []DatabaseSummary
	if c.loadMirror(keyDatabaseList, &mirrored) {
		c.set(keyDatabaseList, mirrored)
		return mirrored, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.set(keyDatabaseList, v)
	return v, nil
}

// VersionList returns the cached version list for (source, dataset).
func (c *Cache) VersionList(source, dataset string, compute func() ([]string, error)) ([]string, error) {
	key := versionListKey(source, dataset)
	if v, ok := c.get(key); ok {
		return v.([]string), nil
	}
	var mirrored []string
	if c.loadMirror(key, &mirrored) {
		c.set(key, mirrored)
		return mirrored, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.set(key, v)
	return v, nil
}

// GlobalStats returns the cached global-stats view.
func (c *Cache) GlobalStats(compute func() (Stats, error)) (Stats, error) {
	if v, ok := c.get(keyStats); ok {
		return v.(Stats), nil
	}
	var mirrored Stats
	if c.loadMirror(keyStats, &mirrored) {
		c.set(keyStats, mirrored)
		return mirrored, nil
	}
	v, err := compute()
	if err != nil {
		return Stats{}, err
	}
	c.set(keyStats, v)
	return v, nil
}

// loadMirror reads and unmarshals the on-disk mirror for key into out,
// reporting whether a usable file was found. A stale mirror is still
// preferable to a blocking recompute on cold start; the next write
// refreshes both the entry and its expiry. A key this process already
// holds in memory (i.e. one whose entry has expired) is not served from
// the mirror, so the TTL still forces a recompute.
func (c *Cache) loadMirror(key string, out any) bool {
	c.mu.RLock()
	_, held := c.entries[key]
	c.mu.RUnlock()
	if held {
		return false
	}
	path := c.mirrorPath(key)
	if path == "" {
		return false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

// InvalidateDatabase drops the version-list entry for (source,
// dataset) and the database list, satisfying the create_manifest /
// delete_version / set_alias invalidation triggers (spec.md §4.10).
// It implements syncengine.Invalidator.
func (c *Cache) InvalidateDatabase(source, dataset string) {
	c.mu.Lock()
	delete(c.entries, versionListKey(source, dataset))
	delete(c.entries, keyDatabaseList)
	c.mu.Unlock()
	c.removeMirror(versionListKey(source, dataset))
	c.removeMirror(keyDatabaseList)
}

// InvalidateStats drops only the global-stats entry, the put_chunks
// trigger (spec.md §4.10 "stats only").
func (c *Cache) InvalidateStats() {
	c.mu.Lock()
	delete(c.entries, keyStats)
	c.mu.Unlock()
	c.removeMirror(keyStats)
}

func (c *Cache) mirrorPath(key string) string {
	if c.mirror == "" {
		return ""
	}
	safe := filepath.Clean(key)
	safe = filepathEscape(safe)
	return filepath.Join(c.mirror, safe+".json")
}

// filepathEscape replaces path separators introduced by cache keys
// (e.g. "version_list:src/ds") so the mirror never writes outside its
// directory.
func filepathEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (c *Cache) persist(key string, value any) {
	path := c.mirrorPath(key)
	if path == "" {
		return
	}
	if err := os.MkdirAll(c.mirror, 0o755); err != nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, b, 0o644)
}

func (c *Cache) removeMirror(key string) {
	path := c.mirrorPath(key)
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
