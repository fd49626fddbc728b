package cache

import (
	"testing"
	"time"
)

func TestDatabaseListCachesComputeResult(t *testing.T) {
	c := New(time.Minute, "")
	calls := 0
	compute := func() ([]DatabaseSummary, error) {
		calls++
		return []DatabaseSummary{{Source: "ncbi", Dataset: "nr", NewestVersion: "20260101_000000"}}, nil
	}

	if _, err := c.DatabaseList(compute); err != nil {
		t.Fatalf("DatabaseList: %v", err)
	}
	if _, err := c.DatabaseList(compute); err != nil {
		t.Fatalf("DatabaseList: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected compute called once, got %d", calls)
	}
}

func TestInvalidateDatabaseClearsVersionListAndDatabaseList(t *testing.T) {
	c := New(time.Minute, "")
	calls := 0
	compute := func() ([]string, error) {
		calls++
		return []string{"20260101_000000"}, nil
	}

	if _, err := c.VersionList("ncbi", "nr", compute); err != nil {
		t.Fatalf("VersionList: %v", err)
	}
	c.InvalidateDatabase("ncbi", "nr")
	if _, err := c.VersionList("ncbi", "nr", compute); err != nil {
		t.Fatalf("VersionList: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after invalidation, calls=%d", calls)
	}
}

func TestInvalidateDatabaseDoesNotAffectOtherDatabase(t *testing.T) {
	c := New(time.Minute, "")
	callsA, callsB := 0, 0
	computeA := func() ([]string, error) { callsA++; return []string{"A"}, nil }
	computeB := func() ([]string, error) { callsB++; return []string{"B"}, nil }

	c.VersionList("ncbi", "nr", computeA)
	c.VersionList("uniprot", "sprot", computeB)
	c.InvalidateDatabase("ncbi", "nr")
	c.VersionList("ncbi", "nr", computeA)
	c.VersionList("uniprot", "sprot", computeB)

	if callsA != 2 {
		t.Fatalf("expected ncbi/nr recomputed, calls=%d", callsA)
	}
	if callsB != 1 {
		t.Fatalf("expected uniprot/sprot untouched, calls=%d", callsB)
	}
}

func TestExpiredEntryTriggersRecompute(t *testing.T) {
	c := New(10*time.Millisecond, "")
	calls := 0
	compute := func() (Stats, error) { calls++; return Stats{TotalDatabases: calls}, nil }

	c.GlobalStats(compute)
	time.Sleep(30 * time.Millisecond)
	c.GlobalStats(compute)

	if calls != 2 {
		t.Fatalf("expected recompute after TTL expiry, calls=%d", calls)
	}
}

func TestMirrorSurvivesCacheRestart(t *testing.T) {
	dir := t.TempDir()
	c1 := New(time.Minute, dir)
	calls := 0
	compute := func() (Stats, error) { calls++; return Stats{TotalDatabases: 7}, nil }
	if _, err := c1.GlobalStats(compute); err != nil {
		t.Fatalf("GlobalStats: %v", err)
	}

	c2 := New(time.Minute, dir)
	got, err := c2.GlobalStats(compute)
	if err != nil {
		t.Fatalf("GlobalStats (restart): %v", err)
	}
	if got.TotalDatabases != 7 {
		t.Fatalf("expected mirrored stats to survive restart, got %+v", got)
	}
	if calls != 1 {
		t.Fatalf("expected mirror hit to avoid recompute, calls=%d", calls)
	}
}
