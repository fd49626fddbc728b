package ingest

import (
	"testing"
	"time"

	"github.com/talaria-bio/herald/internal/chunk"
	"github.com/talaria-bio/herald/internal/filter"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/manifest"
	"github.com/talaria-bio/herald/internal/observability"
	"github.com/talaria-bio/herald/internal/sequence"
)

func newTestSession(t *testing.T, source, dataset string) *Session {
	t.Helper()
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	seqs := sequence.New(backend, filter.New(1000, 0.01))
	chunks := chunk.New(backend)
	mans := manifest.New(backend, nil)
	logger := observability.NewLogger("ingest-test", "test", nil)

	policy := chunk.DefaultPolicy()
	policy.TargetCount = 2 // force multiple chunks with a small fixture

	return NewSession(seqs, chunks, mans, nil, policy, hashcodec.LevelFastest, logger, nil, source, dataset)
}

func TestCommitWritesManifestOverPlannedChunks(t *testing.T) {
	s := newTestSession(t, "uniprot", "sprot")
	now := time.Now()

	contents := [][]byte{[]byte("ACGT"), []byte("TTTT"), []byte("GGGG")}
	for i, c := range contents {
		if _, err := s.Put(Record{
			Content: c,
			Kind:    hashcodec.SequenceDNA,
			Rep:     sequence.Representation{Source: "uniprot", Dataset: "sprot", FirstSeen: now},
		}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if s.Pending() != 3 {
		t.Fatalf("expected 3 pending candidates, got %d", s.Pending())
	}

	m, err := s.Commit(now, now, "", now)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if m.SequenceCount == 0 || len(m.Chunks) == 0 {
		t.Fatalf("expected a non-empty manifest, got %+v", m)
	}
	if s.Pending() != 0 {
		t.Fatalf("expected Commit to reset pending candidates, got %d", s.Pending())
	}

	got, ok, err := s.manifests.Resolve("uniprot", "sprot", "latest")
	if err != nil || !ok {
		t.Fatalf("expected manifest to resolve via latest alias: ok=%v err=%v", ok, err)
	}
	if got.Timestamp != m.Timestamp {
		t.Fatalf("resolved manifest timestamp mismatch: got %s want %s", got.Timestamp, m.Timestamp)
	}
}

func TestPutDedupesIdenticalContentAcrossCalls(t *testing.T) {
	s := newTestSession(t, "ncbi", "nr")
	now := time.Now()

	h1, err := s.Put(Record{Content: []byte("ACDE"), Kind: hashcodec.SequenceProtein, Rep: sequence.Representation{Source: "ncbi", Dataset: "nr", Header: "a", FirstSeen: now}})
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	h2, err := s.Put(Record{Content: []byte("ACDE"), Kind: hashcodec.SequenceProtein, Rep: sequence.Representation{Source: "ncbi", Dataset: "nr", Header: "b", FirstSeen: now}})
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical content to hash identically, got %s vs %s", h1, h2)
	}
	if s.Pending() != 2 {
		t.Fatalf("expected both calls to queue a candidate even though the content deduped, got %d", s.Pending())
	}
}
