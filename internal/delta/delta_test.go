package delta

import (
	"bytes"
	"testing"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/kv"
)

func TestBandedAlignerRoundTrip(t *testing.T) {
	ref := []byte("ABCDEFGH")
	target := []byte("ABCXEFGH")

	ops, dist, ok, err := BandedAligner{}.Align(ref, target, 1000)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if !ok {
		t.Fatalf("expected alignment to succeed within band")
	}
	if dist != 1 {
		t.Fatalf("expected edit distance 1, got %d", dist)
	}

	got, err := Decode(ref, ops)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Fatalf("decode mismatch: got %q want %q", got, target)
	}
}

func TestBandedAlignerRejectsBeyondBand(t *testing.T) {
	ref := []byte("AAAAAAAAAA")
	target := []byte("BBBBBBBBBB")

	_, dist, ok, err := BandedAligner{}.Align(ref, target, 2)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection when edit distance (%d) exceeds band 2", dist)
	}
}

func newTestDeltaStore(t *testing.T) *Store {
	t.Helper()
	backend, err := kv.Open(t.TempDir(), kv.Options{})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return New(backend, BandedAligner{}, DefaultPolicy())
}

func TestEncodeDecodeScenarioS5(t *testing.T) {
	s := newTestDeltaStore(t)
	// The three ops for a one-byte substitution encode to 44 bytes,
	// which the default 0.3 threshold (2.4 bytes for an 8-byte target)
	// would reject; raise it so the delta path itself is exercised.
	s.policy.ReconstructionThreshold = 10

	ref := []byte("ABCDEFGH")
	target := []byte("ABCXEFGH")
	refHash := hashcodec.Sum(ref)
	targetHash := hashcodec.Sum(target)

	ok, err := s.Encode(targetHash, refHash, ref, target)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !ok {
		t.Fatalf("expected delta to be accepted for a single substitution")
	}

	got, err := s.Reconstruct(targetHash, func(h hashcodec.Hash) ([]byte, bool, error) {
		if h == refHash {
			return ref, true, nil
		}
		return nil, false, nil
	})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(got, target) {
		t.Fatalf("reconstruction mismatch: got %q want %q", got, target)
	}
	if gotHash := hashcodec.Sum(got); gotHash != targetHash {
		t.Fatalf("reconstructed hash mismatch: got %s want %s", gotHash, targetHash)
	}
}

func TestEncodeRejectsWhenTooDissimilar(t *testing.T) {
	s := newTestDeltaStore(t)
	s.policy.MaxDeltaDistance = 1

	ref := []byte("AAAAAAAAAA")
	target := []byte("BBBBBBBBBB")

	ok, err := s.Encode(hashcodec.Sum(target), hashcodec.Sum(ref), ref, target)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection for edit distance beyond policy max")
	}
}

func TestReconstructRejectsChainDeeperThanMax(t *testing.T) {
	s := newTestDeltaStore(t)
	s.policy.MaxDeltaChain = 1

	a := hashcodec.Sum([]byte("A"))
	b := hashcodec.Sum([]byte("B"))
	c := hashcodec.Sum([]byte("C"))

	// Force two chained delta records (c -> b -> a) directly (bypassing Encode's
	// own acceptance checks) to exercise the chain-depth guard.
	mustPutDelta(t, s, c, b, []Op{{Kind: OpCopy, Offset: 0, Length: 1}})
	mustPutDelta(t, s, b, a, []Op{{Kind: OpCopy, Offset: 0, Length: 1}})

	_, err := s.Reconstruct(c, func(h hashcodec.Hash) ([]byte, bool, error) {
		if h == a {
			return []byte("A"), true, nil
		}
		return nil, false, nil
	})
	if err == nil {
		t.Fatalf("expected chain-depth error")
	}
}

func mustPutDelta(t *testing.T, s *Store, target, reference hashcodec.Hash, ops []Op) {
	t.Helper()
	batch := kv.NewWriteBatch()
	batch.Put(kv.PartitionDeltas, target.Bytes(), encodeRecord(Record{Reference: reference, Ops: ops, EditDistance: 1}))
	if err := s.kv.Commit(batch); err != nil {
		t.Fatalf("mustPutDelta: %v", err)
	}
}
