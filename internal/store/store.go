// Package store wires C1-C13 into a single handle: opening the KV
// backend, loading or rebuilding the filter cascade, and constructing
// every component store against the shared backend (spec.md §2 data
// flow). This is the composition root a daemon or CLI entry point
// constructs once at startup.
package store

import (
	"time"

	"github.com/talaria-bio/herald/internal/cache"
	"github.com/talaria-bio/herald/internal/chunk"
	"github.com/talaria-bio/herald/internal/config"
	"github.com/talaria-bio/herald/internal/delta"
	"github.com/talaria-bio/herald/internal/filter"
	"github.com/talaria-bio/herald/internal/gc"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/ingest"
	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/manifest"
	"github.com/talaria-bio/herald/internal/observability"
	"github.com/talaria-bio/herald/internal/ratelimit"
	"github.com/talaria-bio/herald/internal/sequence"
	"github.com/talaria-bio/herald/internal/syncengine"
	"github.com/talaria-bio/herald/internal/temporal"
)

// Store is the composed handle over every component. It holds no sync
// engine: SyncEngine builds a new one on each call from a concrete
// ChunkClient, since the transport is supplied by the caller (daemon,
// CLI, or test harness).
type Store struct {
	Config    config.Config
	KV        *kv.Store
	Filter    *filter.Cascade
	Sequences *sequence.Store
	Chunks    *chunk.Store
	Manifests *manifest.Store
	Deltas    *delta.Store
	Temporal  *temporal.Index
	Cache     *cache.Cache
	GC        *gc.Collector

	// FilterLoadedFromDisk records whether Open loaded the tier-1
	// filter from bloom.bin or had to rebuild it by scanning the
	// sequences partition, surfaced to callers wiring health checks.
	FilterLoadedFromDisk bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Open builds every component store rooted at cfg.HomeDir. The bloom
// filter is loaded from disk if present; otherwise it is rebuilt from
// the sequences partition (spec.md §4.13) — cheap on first boot, since
// the partition is empty, and self-healing after a crash that left a
// missing or corrupt filter file.
func Open(cfg config.Config, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	backend, err := kv.Open(cfg.HomeDir, kv.Options{
		CacheBytes:       cfg.KVCacheBytes,
		WriteBufferBytes: cfg.KVWriteBufferBytes,
	})
	if err != nil {
		return nil, err
	}

	filterPath := filter.PathFor(cfg.HomeDir)
	cascade, loaded, err := filter.Load(filterPath, cfg.ExpectedSequences)
	if err != nil {
		return nil, err
	}
	if !loaded {
		cascade, err = filter.Rebuild(cfg.ExpectedSequences, cfg.BloomFalsePositiveRate, func(yield func([]byte) bool) error {
			return backend.IteratePrefix(kv.PartitionSequences, nil, func(key, value []byte) bool {
				return yield(key)
			})
		})
		if err != nil {
			return nil, err
		}
	}

	seqs := sequence.New(backend, cascade)
	chunks := chunk.New(backend)
	metaCache := cache.New(cfg.CacheTTL, cfg.CacheDir())
	mans := manifest.New(backend, metaCache)
	deltaPolicy := delta.Policy{
		MaxDeltaDistance:        cfg.MaxDeltaDistance,
		MaxDeltaChain:           cfg.MaxDeltaChain,
		ReconstructionThreshold: cfg.ReconstructionThreshold,
	}
	deltas := delta.New(backend, nil, deltaPolicy)
	idx := temporal.New(backend, mans)
	collector := gc.New(backend, gc.Policy{MaxDeltaChain: cfg.MaxDeltaChain})

	return &Store{
		Config:               cfg,
		KV:                   backend,
		Filter:               cascade,
		Sequences:            seqs,
		Chunks:               chunks,
		Manifests:            mans,
		Deltas:               deltas,
		Temporal:             idx,
		Cache:                metaCache,
		GC:                   collector,
		FilterLoadedFromDisk: loaded,
		Logger:               logger,
		Metrics:              metrics,
	}, nil
}

// SyncEngine builds C8 over this Store's backend stores, using client
// for transport and ledgerPath for resumable-attempt tracking.
func (s *Store) SyncEngine(client syncengine.ChunkClient, ledgerPath string) (*syncengine.Engine, error) {
	ledger, err := syncengine.OpenLedger(ledgerPath)
	if err != nil {
		return nil, err
	}
	pacer := ratelimit.NewTokenBucket(float64(s.Config.SyncParallelDownloads*4), s.Config.SyncParallelDownloads*4)
	policy := syncengine.Policy{
		ParallelDownloads: s.Config.SyncParallelDownloads,
		PerChunkTimeout:   s.Config.SyncPerChunkTimeout,
		MaxAttempts:       3,
	}
	return syncengine.New(client, s.Manifests, s.Chunks, s.Sequences, ledger, s.Cache, policy, s.Logger, s.Metrics, pacer), nil
}

// chunkPolicy builds C5's grouping policy from configuration,
// applying the configured soft/hard byte thresholds on top of the
// defaults for the fields Config does not expose (spec.md §6
// chunk_target_bytes, chunk_max_bytes; spec.md §4.5 for the rest).
func (s *Store) chunkPolicy() chunk.Policy {
	p := chunk.DefaultPolicy()
	p.TargetBytes = s.Config.ChunkTargetBytes
	p.MaxBytes = s.Config.ChunkMaxBytes
	return p
}

// NewIngestSession builds an ingest Session for one (source, dataset)
// pass, wiring it to this Store's component stores and the configured
// chunk policy (spec.md §2 local-write data flow).
func (s *Store) NewIngestSession(source, dataset string, level hashcodec.Level) *ingest.Session {
	return ingest.NewSession(s.Sequences, s.Chunks, s.Manifests, s.Cache, s.chunkPolicy(), level, s.Logger, s.Metrics, source, dataset)
}

// PersistFilter saves the current filter cascade to disk, intended to
// be called periodically (spec.md §4.13, BloomPersistInterval).
func (s *Store) PersistFilter() error {
	return s.Filter.Save(filter.PathFor(s.Config.HomeDir))
}

// Close releases the KV backend's resources.
func (s *Store) Close() error {
	return s.KV.Close()
}

// CompactionLoop runs the KV backend's copy-compact routine on the
// given interval until stop is closed (spec.md §4.2 "background
// compaction is the backend's concern"). Unlike PersistFilterLoop,
// each run holds the backend's write lock for its full duration (see
// kv.Compact), so interval should be long relative to the store's
// size — a maintenance cadence, not a tight background cycle.
func (s *Store) CompactionLoop(interval time.Duration, stop <-chan struct{}) {
	s.KV.RunCompactionLoop(interval, stop, func(err error) {
		s.Logger.Error(err, "periodic kv compaction failed")
	})
}

// PersistFilterLoop runs PersistFilter every interval until stop is
// closed, logging (not failing) a persistence error so a transient
// disk issue does not bring the daemon down.
func (s *Store) PersistFilterLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.PersistFilter(); err != nil {
				s.Logger.Error(err, "periodic filter persistence failed")
			}
		}
	}
}
