// Package gc implements C11: mark-and-sweep garbage collection over
// the chunk and sequence partitions, rooted at every alive manifest
// and custom alias (spec.md §4.11).
package gc

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/talaria-bio/herald/internal/chunk"
	"github.com/talaria-bio/herald/internal/delta"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/manifest"
)

// Policy tunes the sweep's batch size so a large collection does not
// starve foreground writers (spec.md §4.11 "bounded batches").
type Policy struct {
	SweepBatchSize int
	MaxDeltaChain  int
}

// DefaultPolicy returns the spec's default GC tunables.
func DefaultPolicy() Policy {
	return Policy{SweepBatchSize: 1000, MaxDeltaChain: 1}
}

func (p Policy) normalized() Policy {
	if p.SweepBatchSize <= 0 {
		p.SweepBatchSize = 1000
	}
	if p.MaxDeltaChain <= 0 {
		p.MaxDeltaChain = 1
	}
	return p
}

// Collector is C11.
type Collector struct {
	kv     *kv.Store
	policy Policy

	// afterMark runs (if set) once the mark set is finalized but
	// before the victim scan, still inside the mark snapshot's
	// callback. It exists solely so tests can commit a concurrent
	// write at that exact point and assert the snapshot's MVCC view
	// still excludes it, exercising spec.md §4.11's "GC holds only a
	// read snapshot" guarantee. Left nil in production.
	afterMark func()
}

// New builds a Collector over the shared KV backend.
func New(store *kv.Store, policy Policy) *Collector {
	return &Collector{kv: store, policy: policy.normalized()}
}

// Report summarizes a completed (or dry-run) sweep.
type Report struct {
	ChunksDeleted    int
	SequencesDeleted int
	BytesFreed       uint64
	DryRun           bool

	// chunkVictims/seqVictims are the keys to delete, gathered while
	// the mark-phase snapshot is still held; Sweep deletes them in
	// bounded batches after the snapshot callback returns.
	chunkVictims [][]byte
	seqVictims   [][]byte
}

// String renders a human-readable one-line summary, e.g. for a CLI's
// dry-run output, using humanize for the byte count.
func (r Report) String() string {
	verb := "swept"
	if r.DryRun {
		verb = "would sweep"
	}
	return fmt.Sprintf("%s %d chunks, %d sequences (%s)", verb, r.ChunksDeleted, r.SequencesDeleted, humanize.Bytes(r.BytesFreed))
}

// Sweep performs a single mark-and-sweep pass. In dry-run mode it
// reports what would be deleted without mutating the store. Both the
// mark phase and the victim scan run against one read snapshot, so
// concurrent writers allocating new keys are trivially preserved
// (spec.md §4.11) — a chunk or sequence written after the snapshot is
// taken is invisible to the victim scan just as it is invisible to
// the mark phase, so it can never be swept despite being unmarked.
func (c *Collector) Sweep(dryRun bool) (Report, error) {
	markedChunks := make(map[hashcodec.Hash]struct{})
	markedSequences := make(map[hashcodec.Hash]struct{})
	var report Report

	err := c.kv.Snapshot(func(sn *kv.Snapshot) error {
		roots, err := c.collectRoots(sn)
		if err != nil {
			return err
		}
		for _, m := range roots {
			for _, ch := range m.Chunks {
				markedChunks[ch] = struct{}{}
			}
		}
		for ch := range markedChunks {
			v, ok := sn.Get(kv.PartitionChunks, ch.Bytes())
			if !ok {
				continue
			}
			rec, err := chunk.DecodeRecord(v)
			if err != nil {
				return err
			}
			for _, sh := range rec.SequenceHashes {
				markedSequences[sh] = struct{}{}
				c.markDeltaChain(sn, sh, markedSequences)
			}
		}

		if c.afterMark != nil {
			c.afterMark()
		}

		report, err = c.sweep(sn, markedChunks, markedSequences, dryRun)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	if dryRun {
		return report, nil
	}

	if err := c.deleteBatched(kv.PartitionChunks, report.chunkVictims); err != nil {
		return report, err
	}
	if err := c.deleteBatched(kv.PartitionSequences, report.seqVictims); err != nil {
		return report, err
	}
	return report, nil
}

// collectRoots gathers every manifest reachable from a `manifest:*`
// key (spec.md §4.11 roots: "all alive manifests ... and all custom
// aliases"). Aliases are not walked separately: every alias value is a
// timestamp resolved against the same manifests partition, so a live
// alias can never reach a manifest this scan would otherwise miss.
func (c *Collector) collectRoots(sn *kv.Snapshot) ([]manifest.Manifest, error) {
	var roots []manifest.Manifest
	var decodeErr error
	sn.ForEach(kv.PartitionManifests, func(key, value []byte) bool {
		m, err := manifest.DecodeManifest(value)
		if err != nil {
			decodeErr = err
			return false
		}
		roots = append(roots, m)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return roots, nil
}

// markDeltaChain walks a sequence hash's delta-reference chain (if
// any) up to MaxDeltaChain levels, marking every reference hash along
// the way so Reconstruct can still materialize it after a sweep.
func (c *Collector) markDeltaChain(sn *kv.Snapshot, h hashcodec.Hash, marked map[hashcodec.Hash]struct{}) {
	cur := h
	for depth := 0; depth < c.policy.MaxDeltaChain; depth++ {
		v, ok := sn.Get(kv.PartitionDeltas, cur.Bytes())
		if !ok {
			return
		}
		rec, err := delta.DecodeRecord(v)
		if err != nil {
			return
		}
		marked[rec.Reference] = struct{}{}
		cur = rec.Reference
	}
}

// sweep scans the chunks and sequences partitions against sn — the
// same snapshot the mark phase ran against — and gathers the keys not
// present in the mark sets. It only collects victims; Sweep performs
// the actual deletion once this snapshot's callback has returned,
// since a read snapshot cannot itself be written to.
func (c *Collector) sweep(sn *kv.Snapshot, markedChunks, markedSequences map[hashcodec.Hash]struct{}, dryRun bool) (Report, error) {
	var report Report
	report.DryRun = dryRun

	var bytesFreed uint64

	sn.ForEach(kv.PartitionChunks, func(key, value []byte) bool {
		var h hashcodec.Hash
		copy(h[:], key)
		if _, alive := markedChunks[h]; !alive {
			report.chunkVictims = append(report.chunkVictims, append([]byte(nil), key...))
			if rec, err := chunk.DecodeRecord(value); err == nil {
				bytesFreed += rec.UncompressedSize
			}
		}
		return true
	})
	sn.ForEach(kv.PartitionSequences, func(key, value []byte) bool {
		var h hashcodec.Hash
		copy(h[:], key)
		if _, alive := markedSequences[h]; !alive {
			report.seqVictims = append(report.seqVictims, append([]byte(nil), key...))
			bytesFreed += uint64(len(value))
		}
		return true
	})

	report.ChunksDeleted = len(report.chunkVictims)
	report.SequencesDeleted = len(report.seqVictims)
	report.BytesFreed = bytesFreed
	return report, nil
}

func (c *Collector) deleteBatched(partition string, keys [][]byte) error {
	for start := 0; start < len(keys); start += c.policy.SweepBatchSize {
		end := start + c.policy.SweepBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := kv.NewWriteBatch()
		for _, k := range keys[start:end] {
			batch.Delete(partition, k)
		}
		if err := c.kv.Commit(batch); err != nil {
			return err
		}
	}
	return nil
}
