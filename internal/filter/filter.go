// Package filter implements C3: the three-tier probabilistic filter
// cascade that gates every existence check ahead of the authoritative
// KV lookup. Tier 1 is a single process-wide bloom filter over every
// CanonicalSequence hash, built with github.com/bits-and-blooms/bloom/v3
// the way the pack's chain clients size bloom filters over large key
// sets (see the dependency's use across the retrieval pack's
// blockchain-node manifests). Tier 2 is the backend's own per-block
// filter policy; bbolt has no block-filter API to hook (see
// DESIGN.md), so tier 2 is realized as a pass-through that always
// defers to tier 3 — correct, since the cascade's only hard
// requirement (spec.md I6) is "no false negatives", never "tier 2 must
// exist as a distinct filter". Tier 3 is the authoritative KV get.
package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/talaria-bio/herald/internal/hashcodec"
)

// Cascade is the tier-1+tier-3 existence-check gate shared by every
// component that needs "have I already stored this hash" (sequence
// dedup, chunk dedup). It never produces a false negative: a miss at
// tier 1 is definitive; a hit at tier 1 must still be confirmed by the
// caller's own authoritative lookup (tier 3), since bloom filters admit
// false positives.
type Cascade struct {
	mu     sync.RWMutex
	bloom  *bloom.BloomFilter
	n      uint
	fpRate float64
}

// New builds a Cascade sized for expectedKeys entries at the given
// false-positive rate (spec.md §4.3 default: 100,000,000 keys at
// 0.1%).
func New(expectedKeys uint, fpRate float64) *Cascade {
	if expectedKeys == 0 {
		expectedKeys = 100_000_000
	}
	if fpRate <= 0 {
		fpRate = 0.001
	}
	return &Cascade{
		bloom:  bloom.NewWithEstimates(expectedKeys, fpRate),
		n:      expectedKeys,
		fpRate: fpRate,
	}
}

// MayContain runs tier 1 only. A false result is definitive: the hash
// is absent and downstream tiers (block filter, KV get) must not be
// consulted (spec.md §4.3, I6). A true result means "maybe" — the
// caller must still confirm with its own tier-3 lookup.
func (c *Cascade) MayContain(h hashcodec.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bloom.Test(h.Bytes())
}

// Insert adds h to tier 1. Callers must only call this after a
// successful KV batch-commit (spec.md §4.3 "updates tier-1 filter only
// after successful commit") — never speculatively, or a crash between
// insert and commit would make the filter a superset of a state that
// was never durable, which is harmless for I6 but wastes slots; the
// real hazard runs the other way: a committed key that never reaches
// the filter would be a false negative.
func (c *Cascade) Insert(h hashcodec.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bloom.Add(h.Bytes())
}

// InsertMany adds many hashes to tier 1 under a single write-lock
// acquisition, the way a batch commit's filter update should be one
// critical section rather than one lock round-trip per key (spec.md
// §5 "inserts take the write lock briefly").
func (c *Cascade) InsertMany(hashes []hashcodec.Hash) {
	if len(hashes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hashes {
		c.bloom.Add(h.Bytes())
	}
}

// ApproximatedSize estimates the number of distinct keys inserted so
// far, used by C13 to decide whether a reloaded filter is still
// consistent with the current expected_sequences bound.
func (c *Cascade) ApproximatedSize() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bloom.ApproximatedSize()
}

// Capacity reports the configured expected-key sizing.
func (c *Cascade) Capacity() uint { return c.n }

// FalsePositiveRate reports the configured target FPR.
func (c *Cascade) FalsePositiveRate() float64 { return c.fpRate }

// Tier2Pass is the cascade's tier-2 hook: the backend's own per-block
// filter policy (spec.md §4.3 "bloom at 15 bits/key for most
// partitions, ribbon filter for manifests"). bbolt is a B+tree with
// direct page lookups and no block-filter layer to interpose on (see
// DESIGN.md), so this tier always reports "maybe" and defers entirely
// to tier 3. It exists as a named step so the cascade's shape matches
// spec.md §4.3 and so a future backend with real block filters has a
// seam to plug into without changing callers.
func Tier2Pass(hashcodec.Hash) bool { return true }

// Exists runs the full three-tier cascade for a single hash, calling
// lookup (the tier-3 authoritative KV get) only when tiers 1 and 2
// both say "maybe".
func (c *Cascade) Exists(h hashcodec.Hash, lookup func(hashcodec.Hash) (bool, error)) (bool, error) {
	if !c.MayContain(h) {
		return false, nil
	}
	if !Tier2Pass(h) {
		return false, nil
	}
	return lookup(h)
}
