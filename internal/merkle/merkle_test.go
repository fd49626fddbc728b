package merkle

import (
	"testing"

	"github.com/talaria-bio/herald/internal/hashcodec"
)

func h(b byte) hashcodec.Hash {
	var hh hashcodec.Hash
	hh[0] = b
	return hh
}

func TestEmptyRootIsSentinel(t *testing.T) {
	root := Root(nil)
	want := hashcodec.Sum(EmptyRootTag)
	if root != want {
		t.Fatalf("empty root mismatch")
	}
}

func TestSingletonRootIsElement(t *testing.T) {
	leaf := h(0x42)
	if Root([]hashcodec.Hash{leaf}) != leaf {
		t.Fatalf("singleton root must equal its single element")
	}
}

func TestThreeElementRootMatchesScenarioS2(t *testing.T) {
	h1, h2, h3 := h(0x01), h(0x02), h(0x03)
	got := Root([]hashcodec.Hash{h1, h2, h3})

	inner := hashcodec.Sum(append(append([]byte{}, h1.Bytes()...), h2.Bytes()...))
	want := hashcodec.Sum(append(append([]byte{}, inner.Bytes()...), h3.Bytes()...))

	if got != want {
		t.Fatalf("root mismatch: got %s want %s", got, want)
	}
}

func TestRootDeterministicAcrossRuns(t *testing.T) {
	leaves := []hashcodec.Hash{h(1), h(2), h(3), h(4), h(5)}
	r1 := Root(leaves)
	r2 := Root(leaves)
	if r1 != r2 {
		t.Fatalf("root not deterministic")
	}
}

func TestInclusionProofRoundTrip(t *testing.T) {
	leaves := []hashcodec.Hash{h(1), h(2), h(3), h(4), h(5), h(6), h(7)}
	root := Root(leaves)

	for i := range leaves {
		proof, err := Prove(leaves, i)
		if err != nil {
			t.Fatalf("Prove(%d): %v", i, err)
		}
		if !Verify(leaves[i], proof, root) {
			t.Fatalf("Verify failed for index %d", i)
		}
	}
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	leaves := []hashcodec.Hash{h(1), h(2), h(3), h(4)}
	root := Root(leaves)
	proof, err := Prove(leaves, 0)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if Verify(leaves[1], proof, root) {
		t.Fatalf("expected verification to fail for mismatched leaf")
	}
}

func TestProveOutOfRange(t *testing.T) {
	leaves := []hashcodec.Hash{h(1)}
	if _, err := Prove(leaves, 5); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}
