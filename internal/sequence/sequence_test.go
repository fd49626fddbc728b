package sequence

import (
	"testing"
	"time"

	"github.com/talaria-bio/herald/internal/filter"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return New(backend, filter.New(1000, 0.01))
}

func TestPutSequenceDedupAcrossSources(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.PutSequence([]byte("malw"), hashcodec.SequenceProtein, Representation{
		Source: "uniprot", Dataset: "swissprot", Header: "sp|P12345 INS_HUMAN", FirstSeen: time.Now(),
	})
	if err != nil {
		t.Fatalf("PutSequence 1: %v", err)
	}

	h2, err := s.PutSequence([]byte("MALW"), hashcodec.SequenceProtein, Representation{
		Source: "ncbi", Dataset: "nr", Header: "gi|999 insulin", FirstSeen: time.Now(),
	})
	if err != nil {
		t.Fatalf("PutSequence 2: %v", err)
	}

	if h1 != h2 {
		t.Fatalf("expected same hash for case-insensitive identical content, got %s vs %s", h1, h2)
	}
	want := hashcodec.Sum([]byte("MALW"))
	if h1 != want {
		t.Fatalf("hash mismatch: got %s want %s", h1, want)
	}

	reps, err := s.GetRepresentations(h1)
	if err != nil {
		t.Fatalf("GetRepresentations: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("expected exactly 2 representations, got %d", len(reps))
	}

	seq, ok, err := s.GetSequence(h1)
	if err != nil || !ok {
		t.Fatalf("GetSequence: ok=%v err=%v", ok, err)
	}
	if string(seq.Content) != "MALW" {
		t.Fatalf("unexpected content: %q", seq.Content)
	}
}

func TestPutSequenceIdempotent(t *testing.T) {
	s := newTestStore(t)
	rep := Representation{Source: "a", Dataset: "b", Header: "h", FirstSeen: time.Now()}

	h1, err := s.PutSequence([]byte("ACDEFG"), hashcodec.SequenceDNA, rep)
	if err != nil {
		t.Fatalf("put 1: %v", err)
	}
	h2, err := s.PutSequence([]byte("ACDEFG"), hashcodec.SequenceDNA, rep)
	if err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed across idempotent puts")
	}

	reps, err := s.GetRepresentations(h1)
	if err != nil {
		t.Fatalf("GetRepresentations: %v", err)
	}
	if len(reps) != 1 {
		t.Fatalf("expected idempotent put to not duplicate representation, got %d entries", len(reps))
	}
}

func TestGetSequenceMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetSequence(hashcodec.Sum([]byte("absent")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing sequence")
	}
}

func TestBatchPutGroupsAndDedups(t *testing.T) {
	s := newTestStore(t)
	items := []BatchItem{
		{Content: []byte("AAA"), Kind: hashcodec.SequenceDNA, Rep: Representation{Source: "s1", Dataset: "d1", Header: "h1", FirstSeen: time.Now()}},
		{Content: []byte("aaa"), Kind: hashcodec.SequenceDNA, Rep: Representation{Source: "s2", Dataset: "d2", Header: "h2", FirstSeen: time.Now()}},
		{Content: []byte("CCC"), Kind: hashcodec.SequenceDNA, Rep: Representation{Source: "s3", Dataset: "d3", Header: "h3", FirstSeen: time.Now()}},
	}
	hashes, err := s.BatchPut(items, 2)
	if err != nil {
		t.Fatalf("BatchPut: %v", err)
	}
	if len(hashes) != 3 {
		t.Fatalf("expected 3 hashes, got %d", len(hashes))
	}
	if hashes[0] != hashes[1] {
		t.Fatalf("expected AAA and aaa to collapse to the same hash")
	}
	reps, err := s.GetRepresentations(hashes[0])
	if err != nil {
		t.Fatalf("GetRepresentations: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("expected 2 representations for deduped sequence, got %d", len(reps))
	}
}
