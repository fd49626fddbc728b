package syncengine

import (
	"context"
	"time"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/manifest"
)

// ChunkClient is the abstract remote transport the sync engine depends
// on but does not implement (spec.md §6). Transport framing and auth
// are the implementation's concern; this core only needs manifest and
// blob retrieval.
type ChunkClient interface {
	// FetchManifest retrieves the remote manifest for (source, dataset).
	// If etag matches the remote's current state, notModified is true.
	FetchManifest(ctx context.Context, source, dataset, etag string) (m manifest.Manifest, newETag string, notModified bool, err error)

	// FetchChunks streams chunk payloads for hashes in any order. Each
	// delivered blob is the chunk's canonical on-wire form.
	FetchChunks(ctx context.Context, hashes []hashcodec.Hash, deliver func(hashcodec.Hash, []byte) error) error

	// FetchSequences streams canonical sequence bytes for hashes not
	// embedded in a chunk payload (spec.md §4.8 step 4).
	FetchSequences(ctx context.Context, hashes []hashcodec.Hash, deliver func(hashcodec.Hash, []byte) error) error
}

// RetryAfter is an error a ChunkClient may return (wrapped, for
// errors.As) to carry a server-specified delay. Engine's retry backoff
// does not inspect it and always uses its own exponential schedule.
type RetryAfter struct {
	Duration time.Duration
}

func (e *RetryAfter) Error() string { return "retry after " + e.Duration.String() }
