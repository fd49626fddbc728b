package temporal

import (
	"testing"
	"time"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/manifest"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func chunkHash(n byte) hashcodec.Hash {
	var h hashcodec.Hash
	h[0] = n
	return h
}

// TestSnapshotAtScenarioS6 mirrors the spec's bi-temporal query
// scenario: three manifests for uniprot/swissprot, querying the
// newest one whose seq_time and tax_time both fall at or before the
// query bounds.
func TestSnapshotAtScenarioS6(t *testing.T) {
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	defer backend.Close()

	mans := manifest.New(backend, nil)
	idx := New(backend, mans)

	mk := func(i byte, seq, tax string) manifest.Manifest {
		m, err := mans.CreateManifest("uniprot", "swissprot", []hashcodec.Hash{chunkHash(i)}, date(seq), date(tax), "", 1, 1, time.Now().Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("CreateManifest: %v", err)
		}
		return m
	}

	m1 := mk(1, "2024-01-01", "2023-12-01")
	m2 := mk(2, "2024-02-01", "2023-12-01")
	_ = mk(3, "2024-02-01", "2024-02-15")

	got, ok, err := idx.SnapshotAt("uniprot", "swissprot", date("2024-02-10"), date("2024-01-10"))
	if err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}
	if !ok {
		t.Fatalf("expected a result")
	}
	if got.Timestamp != m2.Timestamp {
		t.Fatalf("expected M2 (%s), got %s (M1=%s)", m2.Timestamp, got.Timestamp, m1.Timestamp)
	}
}

// TestSnapshotAtFallsBackPastDeletedManifest deletes M2, the newest
// manifest within the query bounds, and checks that SnapshotAt then
// returns the older M1 instead of reporting "not found".
func TestSnapshotAtFallsBackPastDeletedManifest(t *testing.T) {
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	defer backend.Close()

	mans := manifest.New(backend, nil)
	idx := New(backend, mans)

	mk := func(i byte, seq, tax string) manifest.Manifest {
		m, err := mans.CreateManifest("uniprot", "swissprot", []hashcodec.Hash{chunkHash(i)}, date(seq), date(tax), "", 1, 1, time.Now().Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("CreateManifest: %v", err)
		}
		return m
	}

	m1 := mk(1, "2024-01-01", "2023-12-01")
	m2 := mk(2, "2024-02-01", "2023-12-01")
	_ = mk(3, "2024-03-01", "2023-12-01")

	if err := mans.DeleteVersion("uniprot", "swissprot", m2.Timestamp); err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}

	got, ok, err := idx.SnapshotAt("uniprot", "swissprot", date("2024-02-10"), date("2024-01-10"))
	if err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}
	if !ok {
		t.Fatalf("expected SnapshotAt to fall back to M1 instead of reporting not found")
	}
	if got.Timestamp != m1.Timestamp {
		t.Fatalf("expected fallback to M1 (%s), got %s", m1.Timestamp, got.Timestamp)
	}
}

func TestHistoryRangeScan(t *testing.T) {
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	defer backend.Close()

	mans := manifest.New(backend, nil)
	idx := New(backend, mans)

	for i, d := range []string{"2024-01-01", "2024-02-01", "2024-03-01"} {
		if _, err := mans.CreateManifest("a", "b", []hashcodec.Hash{chunkHash(byte(i + 1))}, date(d), date(d), "", 1, 1, time.Now().Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("CreateManifest: %v", err)
		}
	}

	history, err := idx.History("a", "b", TimeRange{From: date("2024-01-15"), To: date("2024-02-15")}, TimeRange{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly 1 manifest in range, got %d", len(history))
	}
}
