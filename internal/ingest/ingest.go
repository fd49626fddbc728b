// Package ingest implements spec.md §2's local-write data flow: a
// sequence stream lands through C1 canonicalization, C3's existence
// check, and C4 storage, accumulating as C5 chunking candidates until
// a Session is committed, at which point it plans chunks, computes a
// C6 Merkle root, writes a C7 manifest, and fires the C10 invalidation
// triggers. This is the orchestrator for database construction and
// updates; syncengine.Engine plays the equivalent role for a sync
// pulled from a remote ChunkClient.
package ingest

import (
	"time"

	"github.com/talaria-bio/herald/internal/chunk"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/manifest"
	"github.com/talaria-bio/herald/internal/observability"
	"github.com/talaria-bio/herald/internal/sequence"
)

// Record is one sequence queued for ingestion: its raw residue bytes,
// kind, source representation, and optional taxon classification used
// by C5's taxonomy-aware grouping.
type Record struct {
	Content  []byte
	Kind     hashcodec.SequenceKind
	Rep      sequence.Representation
	TaxonID  uint32
	HasTaxon bool
}

// Invalidator is the C10 hook a committed session fires: a commit both
// installs a new manifest and writes new chunks, so both invalidation
// triggers from spec.md §4.10 apply.
type Invalidator interface {
	InvalidateDatabase(source, dataset string)
	InvalidateStats()
}

// Session accumulates one (source, dataset) ingest pass. It is not
// safe for concurrent use by multiple goroutines; callers that want
// parallel ingestion should shard by (source, dataset) and use one
// Session per shard, mirroring the per-database exclusivity the sync
// engine enforces for the same reason.
type Session struct {
	seqs      *sequence.Store
	chunks    *chunk.Store
	manifests *manifest.Store
	cache     Invalidator
	policy    chunk.Policy
	level     hashcodec.Level
	logger    *observability.Logger
	metrics   *observability.Metrics

	source, dataset string
	candidates      []chunk.Candidate
	totalBytes      uint64
}

// NewSession builds an ingest Session for one (source, dataset) pass.
// A nil cache, logger or metrics is tolerated; each is simply skipped.
func NewSession(seqs *sequence.Store, chunks *chunk.Store, manifests *manifest.Store, cache Invalidator, policy chunk.Policy, level hashcodec.Level, logger *observability.Logger, metrics *observability.Metrics, source, dataset string) *Session {
	return &Session{
		seqs:      seqs,
		chunks:    chunks,
		manifests: manifests,
		cache:     cache,
		policy:    policy,
		level:     level,
		logger:    logger,
		metrics:   metrics,
		source:    source,
		dataset:   dataset,
	}
}

// Put canonicalizes and stores rec's content through C1/C3/C4, then
// queues the resulting hash as a C5 chunking candidate. Content that
// is already stored is not stored again and is not counted again under
// SequencesStoredTotal. Every call still queues a candidate, and Plan
// does not remove duplicate hashes, so content put twice in one
// session appears twice in the committed chunks.
func (s *Session) Put(rec Record) (hashcodec.Hash, error) {
	canon := hashcodec.CanonicalSequenceBytes(rec.Content)
	h := hashcodec.Sum(canon)

	_, existed, err := s.seqs.GetSequence(h)
	if err != nil {
		return h, err
	}

	h, err = s.seqs.PutSequence(rec.Content, rec.Kind, rec.Rep)
	if err != nil {
		return h, err
	}

	if s.metrics != nil {
		if existed {
			s.metrics.SequencesDedupedTotal.Inc()
			s.metrics.RepresentationsTotal.Inc()
		} else {
			s.metrics.SequencesStoredTotal.Inc()
		}
	}

	s.candidates = append(s.candidates, chunk.Candidate{
		Hash:     h,
		TaxonID:  rec.TaxonID,
		HasTaxon: rec.HasTaxon,
		Length:   int64(len(canon)),
	})
	s.totalBytes += uint64(len(canon))
	if s.logger != nil && len(s.candidates)%10_000 == 0 {
		s.logger.IngestProgress(s.source, s.dataset, len(s.candidates), len(s.candidates))
	}
	return h, nil
}

// Commit plans every queued candidate into C5 chunks, writes them,
// computes the C6 root via manifest.CreateManifest, and fires the C10
// invalidation triggers (spec.md §2, §4.5-§4.7, §4.10). seqTime and
// taxTime are the bi-temporal index's valid-time stamps (spec.md
// §4.12); upstreamVersion is "" for a purely local ingest.
func (s *Session) Commit(seqTime, taxTime time.Time, upstreamVersion string, now time.Time) (manifest.Manifest, error) {
	start := time.Now()

	groups := chunk.Plan(s.candidates, s.policy)
	inputs := make([]chunk.ChunkInput, len(groups))
	for i, g := range groups {
		canon := hashcodec.CanonicalChunkBytes(hashcodec.ChunkReference, g.Hashes)
		compressed := hashcodec.Compress(canon, s.level)
		inputs[i] = chunk.ChunkInput{
			SequenceHashes:   g.Hashes,
			TaxonSet:         g.Taxa,
			UncompressedSize: uint64(len(canon)),
			CompressedSize:   uint64(len(compressed)),
			ChunkType:        hashcodec.ChunkReference,
		}
	}

	chunkHashes, err := s.chunks.PutChunks(inputs, now)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if s.metrics != nil {
		s.metrics.ChunksStoredTotal.Add(float64(len(chunkHashes)))
	}

	m, err := s.manifests.CreateManifest(s.source, s.dataset, chunkHashes, seqTime, taxTime, upstreamVersion, uint64(len(s.candidates)), s.totalBytes, now)
	if err != nil {
		return manifest.Manifest{}, err
	}

	if s.cache != nil {
		s.cache.InvalidateDatabase(s.source, s.dataset)
		s.cache.InvalidateStats()
	}

	dur := time.Since(start)
	if s.logger != nil {
		s.logger.IngestCommitted(s.source, s.dataset, m.Timestamp, dur, len(chunkHashes), len(s.candidates))
	}
	if s.metrics != nil {
		s.metrics.IngestBatchDuration.Observe(dur.Seconds())
	}

	s.candidates = nil
	s.totalBytes = 0
	return m, nil
}

// Pending returns the number of sequences queued since the last Commit.
func (s *Session) Pending() int { return len(s.candidates) }
