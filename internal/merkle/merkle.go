// Package merkle implements C6: a deterministic binary hash tree over
// an ordered list of chunk hashes, with logarithmic inclusion proofs.
// The split rule is power-of-two left-biased (spec.md §4.6), which
// differs from a naive "pair adjacent, duplicate the odd one out"
// Merkle tree — that shape is deliberately not used here because it
// would make a manifest's root depend on whether its chunk count is
// even, which fails the spec's cross-platform, cross-run determinism
// requirement (I7, P5) in a way the power-of-two split does not.
package merkle

import (
	"math/bits"

	"github.com/talaria-bio/herald/internal/hashcodec"
)

// EmptyRootTag is hashed alone to produce the sentinel root for an
// empty chunk list (spec.md §4.6). It is never a valid chunk hash
// since real chunk hashes are SHA-256 of a non-empty canonical chunk
// byte string starting with a kind tag, not this literal.
var EmptyRootTag = []byte("herald:empty-merkle-root")

// Root computes the Merkle root over an ordered list of chunk hashes.
// An empty list yields a fixed sentinel; a singleton list's root is
// the element itself; otherwise the list splits left-biased at the
// largest power of two strictly less than len(L) (spec.md §4.6).
func Root(leaves []hashcodec.Hash) hashcodec.Hash {
	switch len(leaves) {
	case 0:
		return hashcodec.Sum(EmptyRootTag)
	case 1:
		return leaves[0]
	}
	left, right := split(leaves)
	leftRoot := Root(left)
	rightRoot := Root(right)
	return combine(leftRoot, rightRoot)
}

func combine(left, right hashcodec.Hash) hashcodec.Hash {
	buf := make([]byte, 0, hashcodec.Size*2)
	buf = append(buf, left.Bytes()...)
	buf = append(buf, right.Bytes()...)
	return hashcodec.Sum(buf)
}

// split divides leaves into a left half sized at the largest power of
// two strictly less than len(leaves), and a right half with the
// remainder — e.g. len=5 -> left=4, right=1; len=3 -> left=2, right=1.
func split(leaves []hashcodec.Hash) (left, right []hashcodec.Hash) {
	n := len(leaves)
	leftSize := 1 << (bits.Len(uint(n-1)) - 1)
	return leaves[:leftSize], leaves[leftSize:]
}

// Side records which side of a combine() an inclusion-proof sibling
// sits on, needed to recompute the root in the correct hash order.
type Side byte

const (
	SideLeft Side = iota
	SideRight
)

// ProofStep is one sibling hash on the root path of an inclusion
// proof, paired with which side it sits on relative to the node being
// proved at that level.
type ProofStep struct {
	Sibling hashcodec.Hash
	Side    Side
}

// Prove returns the ordered sibling path from chunk index i up to the
// root of leaves, usable by Verify to recompute the root in
// O(log |leaves|) hashes (spec.md §4.6).
func Prove(leaves []hashcodec.Hash, i int) ([]ProofStep, error) {
	if i < 0 || i >= len(leaves) {
		return nil, errOutOfRange(i, len(leaves))
	}
	return proveRec(leaves, i), nil
}

func proveRec(leaves []hashcodec.Hash, i int) []ProofStep {
	if len(leaves) <= 1 {
		return nil
	}
	left, right := split(leaves)
	if i < len(left) {
		rest := proveRec(left, i)
		return append(rest, ProofStep{Sibling: Root(right), Side: SideRight})
	}
	rest := proveRec(right, i-len(left))
	return append(rest, ProofStep{Sibling: Root(left), Side: SideLeft})
}

// Verify recomputes the root from leaf, its ordered proof path, and
// compares against want. It returns true iff the proof is exactly the
// path Prove would produce for this leaf at its original position and
// the recomputed root equals want (law L2).
func Verify(leaf hashcodec.Hash, proof []ProofStep, want hashcodec.Hash) bool {
	cur := leaf
	for _, step := range proof {
		switch step.Side {
		case SideLeft:
			cur = combine(step.Sibling, cur)
		case SideRight:
			cur = combine(cur, step.Sibling)
		default:
			return false
		}
	}
	return cur == want
}

type rangeError struct {
	index, length int
}

func (e rangeError) Error() string {
	return "merkle: index out of range"
}

func errOutOfRange(index, length int) error {
	return rangeError{index: index, length: length}
}
