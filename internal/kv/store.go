// Package kv implements C2: a transactional, crash-safe key-value
// backend over named logical partitions (column families), with
// atomic multi-partition batch writes, multi-get, prefix iteration,
// and snapshot reads. It is built on go.etcd.io/bbolt, the maintained
// fork of the embedded ordered B+tree store used directly by
// rubin-protocol's block store (clients/go/node/store/db.go) — each
// bbolt bucket plays the role of one of the spec's named partitions.
//
// bbolt is a B+tree, not an LSM-tree; see DESIGN.md for why this is
// the grounded choice available in the retrieval pack and what it
// costs relative to spec.md's "LSM-tree key-value backend" framing.
package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/talaria-bio/herald/internal/herr"
)

// Required partitions (spec.md §4.2). Every Store opens exactly these
// buckets; callers never create ad hoc ones.
const (
	PartitionSequences      = "sequences"
	PartitionRepresentations = "representations"
	PartitionChunks         = "chunks"
	PartitionManifests      = "manifests"
	PartitionAliases        = "aliases"
	PartitionMerkle         = "merkle"
	PartitionTemporal       = "temporal"
	PartitionDeltas         = "deltas"
)

var partitions = []string{
	PartitionSequences,
	PartitionRepresentations,
	PartitionChunks,
	PartitionManifests,
	PartitionAliases,
	PartitionMerkle,
	PartitionTemporal,
	PartitionDeltas,
}

// Options tunes backend behavior; see config.FromEnv for how these are
// populated from the Environment configuration table (spec.md §6).
type Options struct {
	// CacheBytes and WriteBufferBytes are accepted for interface
	// parity with the spec's kv_cache_bytes/kv_write_buffer_bytes
	// options. bbolt has no equivalent tunables (it mmaps the whole
	// file and relies on the OS page cache); Open ignores them. See
	// DESIGN.md.
	CacheBytes       int64
	WriteBufferBytes int64
}

// Store is the C2 KV backend handle.
type Store struct {
	mu   sync.RWMutex // guards db; only Compact ever reassigns it
	db   *bolt.DB
	path string
}

func (s *Store) handle() *bolt.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Open opens (creating if absent) the backend at path/kv/data.bolt and
// ensures every required partition bucket exists.
func Open(baseDir string, opts Options) (*Store, error) {
	dir := filepath.Join(baseDir, "kv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, herr.Wrap(herr.KindIO, "kv.Open", dir, err)
	}
	path := filepath.Join(dir, "data.bolt")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, herr.Wrap(herr.KindIO, "kv.Open", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, p := range partitions {
			if _, err := tx.CreateBucketIfNotExists([]byte(p)); err != nil {
				return fmt.Errorf("create partition %q: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, herr.Wrap(herr.KindIO, "kv.Open", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the backend's file handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the backend file's location on disk.
func (s *Store) Path() string { return s.path }

// Get performs a point-get against partition. It returns (nil, false,
// nil) on a plain miss; a non-nil error means Io (spec.md §4.2).
func (s *Store) Get(partition string, key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.handle().View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		v := b.Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, herr.Wrap(herr.KindIO, "kv.Get", partition+":"+string(key), err)
	}
	return out, out != nil, nil
}

// MultiGet fetches many keys from one partition in a single snapshot
// read, preserving input order and returning a nil entry for any miss.
func (s *Store) MultiGet(partition string, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.handle().View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		for i, k := range keys {
			if v := b.Get(k); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, herr.Wrap(herr.KindIO, "kv.MultiGet", partition, err)
	}
	return out, nil
}

// IteratePrefix calls fn for every key in partition with the given
// prefix, in ascending sorted order, stopping early if fn returns
// false. The scan runs inside a single read transaction, i.e. against
// a consistent snapshot (spec.md §4.2 "snapshot-read").
func (s *Store) IteratePrefix(partition string, prefix []byte, fn func(key, value []byte) bool) error {
	err := s.handle().View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return fmt.Errorf("unknown partition %q", partition)
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return herr.Wrap(herr.KindIO, "kv.IteratePrefix", partition, err)
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Write is a single key/value mutation targeting one partition, used
// to build a multi-partition WriteBatch.
type Write struct {
	Partition string
	Key       []byte
	Value     []byte // nil Value means delete Key
}

// WriteBatch accumulates writes across multiple partitions for atomic
// commit: either every Write in the batch applies, or none do
// (spec.md §4.2 "a batch-commit fails atomically").
type WriteBatch struct {
	writes []Write
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch { return &WriteBatch{} }

// Put stages a write.
func (b *WriteBatch) Put(partition string, key, value []byte) {
	b.writes = append(b.writes, Write{Partition: partition, Key: key, Value: value})
}

// Delete stages a deletion.
func (b *WriteBatch) Delete(partition string, key []byte) {
	b.writes = append(b.writes, Write{Partition: partition, Key: key, Value: nil})
}

// Len reports the number of staged writes.
func (b *WriteBatch) Len() int { return len(b.writes) }

// Commit applies the batch atomically. After Commit returns nil, a
// subsequent Open+Get against the same file observes every write
// (spec.md §4.2 durability contract).
func (s *Store) Commit(b *WriteBatch) error {
	if b.Len() == 0 {
		return nil
	}
	err := s.handle().Update(func(tx *bolt.Tx) error {
		for _, w := range b.writes {
			bk := tx.Bucket([]byte(w.Partition))
			if bk == nil {
				return fmt.Errorf("unknown partition %q", w.Partition)
			}
			if w.Value == nil {
				if err := bk.Delete(w.Key); err != nil {
					return err
				}
				continue
			}
			if err := bk.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return herr.Wrap(herr.KindIO, "kv.Commit", "", err)
	}
	return nil
}

// Snapshot runs fn against a consistent read-only view spanning every
// partition, the way callers that need multi-partition consistency
// (e.g. the garbage collector's mark phase) obtain one.
func (s *Store) Snapshot(fn func(*Snapshot) error) error {
	err := s.handle().View(func(tx *bolt.Tx) error {
		return fn(&Snapshot{tx: tx})
	})
	if err != nil {
		return herr.Wrap(herr.KindIO, "kv.Snapshot", "", err)
	}
	return nil
}

// Snapshot is a read-only, multi-partition consistent view.
type Snapshot struct {
	tx *bolt.Tx
}

// Get reads a key within the snapshot.
func (sn *Snapshot) Get(partition string, key []byte) ([]byte, bool) {
	b := sn.tx.Bucket([]byte(partition))
	if b == nil {
		return nil, false
	}
	v := b.Get(key)
	if v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// IteratePrefix iterates a partition within the snapshot.
func (sn *Snapshot) IteratePrefix(partition string, prefix []byte, fn func(key, value []byte) bool) {
	b := sn.tx.Bucket([]byte(partition))
	if b == nil {
		return
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			return
		}
	}
}

// ForEach iterates every key in a partition within the snapshot.
func (sn *Snapshot) ForEach(partition string, fn func(key, value []byte) bool) {
	sn.IteratePrefix(partition, nil, fn)
}
