// Package syncengine implements C8: the diff & sync engine that pulls
// a remote database's new chunks across an abstract ChunkClient,
// verifies their content addresses, and installs them alongside a new
// manifest. Sequences, chunks and the manifest are written in separate
// commits, and the manifest with its alias switch is written last.
package syncengine

import (
	"context"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talaria-bio/herald/internal/chunk"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/herr"
	"github.com/talaria-bio/herald/internal/manifest"
	"github.com/talaria-bio/herald/internal/observability"
	"github.com/talaria-bio/herald/internal/ratelimit"
	"github.com/talaria-bio/herald/internal/sequence"
)

// Policy holds the sync engine's tunables (spec.md §6 environment
// configuration: sync_parallel_downloads, sync_per_chunk_timeout_sec).
type Policy struct {
	ParallelDownloads int
	PerChunkTimeout   time.Duration
	MaxAttempts       int
}

// DefaultPolicy returns the spec's default sync tunables.
func DefaultPolicy() Policy {
	return Policy{ParallelDownloads: 8, PerChunkTimeout: 30 * time.Second, MaxAttempts: 3}
}

func (p Policy) normalized() Policy {
	if p.ParallelDownloads <= 0 {
		p.ParallelDownloads = 8
	}
	if p.PerChunkTimeout <= 0 {
		p.PerChunkTimeout = 30 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	return p
}

// Invalidator is the hook into C10 the engine calls after a successful
// commit (spec.md §4.8 step 6). A sync both installs a new manifest
// (create_manifest) and writes new ChunkRecords (put_chunks), so both
// invalidation triggers fire (spec.md §4.10).
type Invalidator interface {
	InvalidateDatabase(source, dataset string)
	InvalidateStats()
}

// Engine is C8. It owns the per-(source,dataset) single-sync mutex, the
// resumable ledger, and the stores it writes into on commit.
type Engine struct {
	client   ChunkClient
	manifest *manifest.Store
	chunks   *chunk.Store
	seqs     *sequence.Store
	ledger   *Ledger
	cache    Invalidator
	policy   Policy
	logger   *observability.Logger
	metrics  *observability.Metrics
	pacer    *ratelimit.TokenBucket // paces fetch issuance independent of the errgroup concurrency cap

	mu      sync.Mutex
	holders map[string]struct{} // "source/dataset" currently syncing
}

// New builds a sync Engine. The pacer bounds the rate at which new
// chunk fetches are issued (distinct from ParallelDownloads, which
// bounds how many are in flight at once); a nil pacer means unpaced.
func New(client ChunkClient, manifests *manifest.Store, chunks *chunk.Store, seqs *sequence.Store, ledger *Ledger, cache Invalidator, policy Policy, logger *observability.Logger, metrics *observability.Metrics, pacer *ratelimit.TokenBucket) *Engine {
	return &Engine{
		client:   client,
		manifest: manifests,
		chunks:   chunks,
		seqs:     seqs,
		ledger:   ledger,
		cache:    cache,
		policy:   policy.normalized(),
		logger:   logger,
		metrics:  metrics,
		pacer:    pacer,
		holders:  make(map[string]struct{}),
	}
}

func dbKey(source, dataset string) string { return source + "/" + dataset }

// Result summarizes a completed sync.
type Result struct {
	ManifestTimestamp string
	ChunksFetched     int
	ChunksUnchanged   int
}

// Sync executes spec.md §4.8's sync() operation against the given
// remote manifest. At most one sync per (source, dataset) runs at a
// time; a second concurrent call fails with Busy.
func (e *Engine) Sync(ctx context.Context, source, dataset string, remote manifest.Manifest) (Result, error) {
	key := dbKey(source, dataset)
	if !e.acquire(key) {
		return Result{}, herr.New(herr.KindBusy, "syncengine.Sync", key)
	}
	defer e.release(key)

	start := time.Now()
	sessLog := e.logger.WithDatabase(source, dataset)

	local, ok, err := e.manifest.Resolve(source, dataset, "latest")
	if err != nil {
		return Result{}, err
	}
	var localChunks []hashcodec.Hash
	if ok {
		localChunks = local.Chunks
	}

	diff := ComputeDiff(localChunks, remote.Chunks)
	sessLog.SyncStarted(source, dataset, len(diff.NewChunks))

	attemptID := uuid.NewString()
	newHex := make([]string, 0, len(diff.NewChunks))
	for _, h := range diff.NewChunks {
		newHex = append(newHex, h.String())
	}
	if err := e.ledger.BeginAttempt(attemptID, source, dataset, remote.Timestamp, newHex); err != nil {
		return Result{}, err
	}

	fetched, err := e.fetchAndVerify(ctx, attemptID, diff.NewChunks)
	if err != nil {
		e.ledger.FinishAttempt(attemptID, "FAILED")
		if e.metrics != nil {
			e.metrics.RecordSync("failed", time.Since(start).Seconds())
		}
		return Result{}, err
	}

	if err := e.partitionAndFetchSequences(ctx, source, dataset, fetched); err != nil {
		e.ledger.FinishAttempt(attemptID, "FAILED")
		if e.metrics != nil {
			e.metrics.RecordSync("failed", time.Since(start).Seconds())
		}
		return Result{}, err
	}

	if _, err := e.manifest.CreateManifest(source, dataset, remote.Chunks, remote.SeqTime, remote.TaxTime, remote.UpstreamVersion, remote.SequenceCount, remote.TotalBytes, time.Now()); err != nil {
		e.ledger.FinishAttempt(attemptID, "FAILED")
		if e.metrics != nil {
			e.metrics.RecordSync("failed", time.Since(start).Seconds())
		}
		return Result{}, err
	}

	e.ledger.FinishAttempt(attemptID, "COMMITTED")
	if e.cache != nil {
		e.cache.InvalidateDatabase(source, dataset)
		e.cache.InvalidateStats()
	}

	dur := time.Since(start)
	sessLog.SyncCompleted(source, dataset, remote.Timestamp, dur, len(diff.NewChunks))
	if e.metrics != nil {
		e.metrics.RecordSync("success", dur.Seconds())
		e.metrics.ChunksFetchedTotal.Add(float64(len(diff.NewChunks)))
	}

	return Result{ManifestTimestamp: remote.Timestamp, ChunksFetched: len(diff.NewChunks), ChunksUnchanged: len(diff.UnchangedChunks)}, nil
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.holders[key]; busy {
		return false
	}
	e.holders[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.holders, key)
}

// fetchedChunk pairs a verified chunk's hash with its decoded payload,
// handed to partitionAndFetchSequences to resolve embedded sequences.
type fetchedChunk struct {
	hash    hashcodec.Hash
	payload []byte
}

// fetchAndVerify fetches diff.NewChunks with bounded concurrency,
// verifying each blob's content address and retrying with exponential
// backoff per spec.md §4.8 steps 2-3.
func (e *Engine) fetchAndVerify(ctx context.Context, attemptID string, hashes []hashcodec.Hash) ([]fetchedChunk, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.policy.ParallelDownloads)

	results := make([]fetchedChunk, len(hashes))
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			blob, err := e.fetchOneWithRetry(gctx, attemptID, h)
			if err != nil {
				return err
			}
			results[i] = fetchedChunk{hash: h, payload: blob}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) fetchOneWithRetry(ctx context.Context, attemptID string, h hashcodec.Hash) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if e.pacer != nil {
			if err := e.pacer.WaitContext(ctx, 1); err != nil {
				return nil, err
			}
		}
		fctx, cancel := context.WithTimeout(ctx, e.policy.PerChunkTimeout)
		blob, err := e.fetchOne(fctx, h)
		cancel()
		if err == nil {
			if err := e.ledger.MarkChunkState(attemptID, h.String(), ChunkVerified); err != nil {
				return nil, err
			}
			return blob, nil
		}

		lastErr = err
		e.ledger.MarkChunkState(attemptID, h.String(), ChunkFailed)
		if e.logger != nil {
			e.logger.ChunkVerifyFailed(h.String(), "", attempt)
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, herr.Wrap(herr.KindIntegrity, "syncengine.fetchOneWithRetry", h.String(), lastErr)
}

// fetchOne fetches a single chunk and verifies its hash, returning the
// (decompressed if needed) canonical payload.
func (e *Engine) fetchOne(ctx context.Context, h hashcodec.Hash) ([]byte, error) {
	var payload []byte
	var deliverErr error
	err := e.client.FetchChunks(ctx, []hashcodec.Hash{h}, func(got hashcodec.Hash, blob []byte) error {
		if got != h {
			deliverErr = herr.New(herr.KindIntegrity, "syncengine.fetchOne", h.String())
			return deliverErr
		}
		payload = blob
		return nil
	})
	if err != nil {
		return nil, err
	}
	if deliverErr != nil {
		return nil, deliverErr
	}
	if !hashcodec.Verify(payload, h) {
		return nil, herr.Integrity("syncengine.fetchOne", h.String(), h.String(), hashcodec.Sum(payload).String())
	}
	return payload, nil
}

// sleepBackoff waits an exponential-backoff interval for the given
// attempt number (1-indexed), honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 200 * time.Millisecond
	factor := 1 << uint(bits.Len(uint(attempt)))
	wait := time.Duration(math.Min(float64(base)*float64(factor), float64(5*time.Second)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// partitionAndFetchSequences decodes each fetched chunk's referenced
// sequence hashes, fetches any not already present locally via
// FetchSequences, and commits chunks+sequences (spec.md §4.8 steps 4-5).
func (e *Engine) partitionAndFetchSequences(ctx context.Context, source, dataset string, fetched []fetchedChunk) error {
	if len(fetched) == 0 {
		return nil
	}

	var missing []hashcodec.Hash
	type decodedChunk struct {
		hash   hashcodec.Hash
		kind   hashcodec.ChunkKind
		hashes []hashcodec.Hash
	}
	decoded := make([]decodedChunk, 0, len(fetched))

	for _, fc := range fetched {
		kind, hashes, err := decodeChunkPayload(fc.payload)
		if err != nil {
			return err
		}
		decoded = append(decoded, decodedChunk{hash: fc.hash, kind: kind, hashes: hashes})
	}

	for _, dc := range decoded {
		for _, sh := range dc.hashes {
			if _, ok, err := e.seqs.GetSequence(sh); err != nil {
				return err
			} else if !ok {
				missing = append(missing, sh)
			}
		}
	}

	if len(missing) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.policy.ParallelDownloads)
		var mu sync.Mutex
		fetchedSeqs := make(map[hashcodec.Hash][]byte, len(missing))
		err := e.client.FetchSequences(gctx, missing, func(h hashcodec.Hash, content []byte) error {
			if !hashcodec.Verify(hashcodec.CanonicalSequenceBytes(content), h) {
				return herr.New(herr.KindIntegrity, "syncengine.partitionAndFetchSequences", h.String())
			}
			mu.Lock()
			fetchedSeqs[h] = content
			mu.Unlock()
			return nil
		})
		if err != nil {
			return err
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, content := range fetchedSeqs {
			if _, err := e.seqs.PutSequence(content, hashcodec.SequenceUnknown, sequence.Representation{Source: source, Dataset: dataset, FirstSeen: time.Now()}); err != nil {
				return err
			}
		}
	}

	inputs := make([]chunk.ChunkInput, 0, len(decoded))
	for _, dc := range decoded {
		taxa := map[uint32]bool{}
		inputs = append(inputs, chunk.ChunkInput{SequenceHashes: dc.hashes, TaxonSet: taxa, ChunkType: dc.kind})
	}
	if _, err := e.chunks.PutChunks(inputs, time.Now()); err != nil {
		return err
	}
	return nil
}

func decodeChunkPayload(b []byte) (hashcodec.ChunkKind, []hashcodec.Hash, error) {
	if len(b) < 5 {
		return 0, nil, herr.New(herr.KindCorruptedData, "syncengine.decodeChunkPayload", "")
	}
	kind := hashcodec.ChunkKind(b[0])
	count := int(uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4]))
	off := 5
	hashes := make([]hashcodec.Hash, 0, count)
	for i := 0; i < count; i++ {
		if off+hashcodec.Size > len(b) {
			return 0, nil, herr.New(herr.KindCorruptedData, "syncengine.decodeChunkPayload", "")
		}
		var h hashcodec.Hash
		copy(h[:], b[off:off+hashcodec.Size])
		hashes = append(hashes, h)
		off += hashcodec.Size
	}
	return kind, hashes, nil
}
