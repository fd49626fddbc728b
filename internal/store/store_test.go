package store

import (
	"testing"
	"time"

	"github.com/talaria-bio/herald/internal/config"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/observability"
	"github.com/talaria-bio/herald/internal/sequence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.FromEnv()
	cfg.HomeDir = t.TempDir()
	cfg.ExpectedSequences = 1000
	cfg.CacheTTL = time.Minute

	st, err := Open(cfg, observability.NewLogger("herald-test", "test", nil), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenWiresEveryComponent(t *testing.T) {
	st := newTestStore(t)
	if st.KV == nil || st.Filter == nil || st.Sequences == nil || st.Chunks == nil ||
		st.Manifests == nil || st.Deltas == nil || st.Temporal == nil || st.Cache == nil || st.GC == nil {
		t.Fatalf("expected every component to be wired, got %+v", st)
	}
}

func TestRoundTripSequenceThroughWiredStores(t *testing.T) {
	st := newTestStore(t)

	h, err := st.Sequences.PutSequence([]byte("ACGT"), hashcodec.SequenceDNA, sequence.Representation{
		Source: "uniprot", Dataset: "sprot", FirstSeen: time.Now(),
	})
	if err != nil {
		t.Fatalf("PutSequence: %v", err)
	}

	got, ok, err := st.Sequences.GetSequence(h)
	if err != nil || !ok {
		t.Fatalf("expected sequence to round-trip: ok=%v err=%v", ok, err)
	}
	if string(got.Content) != "ACGT" {
		t.Fatalf("content mismatch: got %q", got.Content)
	}
}

func TestPersistFilterWritesRecoverableFile(t *testing.T) {
	st := newTestStore(t)

	if _, err := st.Sequences.PutSequence([]byte("GGGG"), hashcodec.SequenceDNA, sequence.Representation{
		Source: "a", Dataset: "b", FirstSeen: time.Now(),
	}); err != nil {
		t.Fatalf("PutSequence: %v", err)
	}
	if err := st.PersistFilter(); err != nil {
		t.Fatalf("PersistFilter: %v", err)
	}
	// bbolt keeps an exclusive lock on the data file while it is open,
	// so the first handle must be released before the store is reopened.
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(st.Config, st.Logger, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.FilterLoadedFromDisk || reopened.Filter.ApproximatedSize() == 0 {
		t.Fatalf("expected reopened store to load a non-empty persisted filter")
	}
}
