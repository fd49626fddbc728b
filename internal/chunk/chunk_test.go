package chunk

import (
	"testing"
	"time"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/kv"
)

func seqHash(n byte) hashcodec.Hash {
	var h hashcodec.Hash
	h[0] = n
	return h
}

func TestPlanGroupsByTaxonAndFlushesOnTargetCount(t *testing.T) {
	var candidates []Candidate
	for i := byte(0); i < 5; i++ {
		candidates = append(candidates, Candidate{Hash: seqHash(i), TaxonID: 1, HasTaxon: true, Length: 10})
	}
	policy := DefaultPolicy()
	policy.TargetCount = 2
	policy.MinBytes = 0

	groups := Plan(candidates, policy)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups (2,2,1), got %d", len(groups))
	}
	if len(groups[0].Hashes) != 2 || len(groups[1].Hashes) != 2 || len(groups[2].Hashes) != 1 {
		t.Fatalf("unexpected group sizes: %v %v %v", len(groups[0].Hashes), len(groups[1].Hashes), len(groups[2].Hashes))
	}
}

func TestPlanDeterministic(t *testing.T) {
	var candidates []Candidate
	for i := byte(0); i < 20; i++ {
		candidates = append(candidates, Candidate{Hash: seqHash(i), TaxonID: uint32(i % 3), HasTaxon: true, Length: 100})
	}
	policy := DefaultPolicy()

	g1 := Plan(candidates, policy)
	g2 := Plan(candidates, policy)
	if len(g1) != len(g2) {
		t.Fatalf("nondeterministic group count")
	}
	for i := range g1 {
		if len(g1[i].Hashes) != len(g2[i].Hashes) {
			t.Fatalf("nondeterministic group %d size", i)
		}
		for j := range g1[i].Hashes {
			if g1[i].Hashes[j] != g2[i].Hashes[j] {
				t.Fatalf("nondeterministic group %d hash %d", i, j)
			}
		}
	}
}

func TestPlanSplitsOversizedTaxon(t *testing.T) {
	var candidates []Candidate
	for i := byte(0); i < 10; i++ {
		candidates = append(candidates, Candidate{Hash: seqHash(i), TaxonID: 7, HasTaxon: true, Length: 1})
	}
	policy := DefaultPolicy()
	policy.TargetCount = 1000
	policy.MaxCount = 4

	groups := Plan(candidates, policy)
	for _, g := range groups {
		if len(g.Hashes) > policy.MaxCount {
			t.Fatalf("group exceeds MaxCount: %d > %d", len(g.Hashes), policy.MaxCount)
		}
	}
	total := 0
	for _, g := range groups {
		total += len(g.Hashes)
	}
	if total != 10 {
		t.Fatalf("lost sequences during split: total %d want 10", total)
	}
}

func TestPlanGivesModelTaxonItsOwnChunkOnEntry(t *testing.T) {
	var candidates []Candidate
	candidates = append(candidates,
		Candidate{Hash: seqHash(1), TaxonID: 10, HasTaxon: true, Length: 1},
		Candidate{Hash: seqHash(2), TaxonID: 10, HasTaxon: true, Length: 1},
		Candidate{Hash: seqHash(3), TaxonID: 42, HasTaxon: true, Length: 1},
	)
	policy := DefaultPolicy()
	policy.ModelTaxa = map[uint32]bool{42: true}

	groups := Plan(candidates, policy)
	if len(groups) != 2 {
		t.Fatalf("expected taxon 42 split into its own group, got %d groups", len(groups))
	}
	if len(groups[0].Hashes) != 2 || !groups[0].Taxa[10] || groups[0].Taxa[42] {
		t.Fatalf("expected first group to hold only taxon 10, got %+v", groups[0])
	}
	if len(groups[1].Hashes) != 1 || !groups[1].Taxa[42] {
		t.Fatalf("expected second group to hold only taxon 42, got %+v", groups[1])
	}
}

func TestPlanSharesNoTaxonAndExplicitZeroBucket(t *testing.T) {
	candidates := []Candidate{
		{Hash: seqHash(1), HasTaxon: false, Length: 1},
		{Hash: seqHash(2), TaxonID: 0, HasTaxon: true, Length: 1},
	}
	policy := DefaultPolicy()
	policy.MinBytes = 0

	groups := Plan(candidates, policy)
	if len(groups) != 1 {
		t.Fatalf("expected no-taxon and explicit-taxon-0 candidates in one group, got %d groups", len(groups))
	}
	if len(groups[0].Hashes) != 2 {
		t.Fatalf("expected both candidates in the shared bucket, got %d", len(groups[0].Hashes))
	}
}

func newTestChunkStore(t *testing.T) *Store {
	t.Helper()
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return New(backend)
}

func TestPutChunksCollapsesDuplicates(t *testing.T) {
	s := newTestChunkStore(t)
	hashes := []hashcodec.Hash{seqHash(1), seqHash(2), seqHash(3)}

	input := ChunkInput{SequenceHashes: hashes, TaxonSet: map[uint32]bool{5: true}, ChunkType: hashcodec.ChunkReference}
	out1, err := s.PutChunks([]ChunkInput{input}, time.Now())
	if err != nil {
		t.Fatalf("PutChunks 1: %v", err)
	}
	out2, err := s.PutChunks([]ChunkInput{input}, time.Now())
	if err != nil {
		t.Fatalf("PutChunks 2: %v", err)
	}
	if out1[0] != out2[0] {
		t.Fatalf("expected identical chunk hash for identical contents")
	}

	rec, ok, err := s.GetChunk(out1[0])
	if err != nil || !ok {
		t.Fatalf("GetChunk: ok=%v err=%v", ok, err)
	}
	if len(rec.SequenceHashes) != 3 || rec.TaxonIDs[0] != 5 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPutChunksOrderSensitive(t *testing.T) {
	s := newTestChunkStore(t)
	a := []hashcodec.Hash{seqHash(1), seqHash(2)}
	b := []hashcodec.Hash{seqHash(2), seqHash(1)}

	out, err := s.PutChunks([]ChunkInput{
		{SequenceHashes: a, ChunkType: hashcodec.ChunkReference},
		{SequenceHashes: b, ChunkType: hashcodec.ChunkReference},
	}, time.Now())
	if err != nil {
		t.Fatalf("PutChunks: %v", err)
	}
	if out[0] == out[1] {
		t.Fatalf("expected different hashes for differently ordered sequence lists")
	}
}

func TestIterChunksVisitsAll(t *testing.T) {
	s := newTestChunkStore(t)
	_, err := s.PutChunks([]ChunkInput{
		{SequenceHashes: []hashcodec.Hash{seqHash(1)}, ChunkType: hashcodec.ChunkReference},
		{SequenceHashes: []hashcodec.Hash{seqHash(2)}, ChunkType: hashcodec.ChunkReference},
	}, time.Now())
	if err != nil {
		t.Fatalf("PutChunks: %v", err)
	}

	count := 0
	err = s.IterChunks(nil, func(h hashcodec.Hash, r Record) bool {
		count++
		return true
	})
	if err != nil {
		t.Fatalf("IterChunks: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records, got %d", count)
	}
}
