package merkle

import (
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/herr"
	"github.com/talaria-bio/herald/internal/kv"
)

// Node is a stored internal Merkle node (spec.md §3 MerkleNode):
// leaves are chunk hashes and are never stored separately.
type Node struct {
	Left, Right hashcodec.Hash
}

func encodeNode(n Node) []byte {
	out := make([]byte, 0, hashcodec.Size*2)
	out = append(out, n.Left.Bytes()...)
	out = append(out, n.Right.Bytes()...)
	return out
}

func decodeNode(b []byte) (Node, error) {
	if len(b) != hashcodec.Size*2 {
		return Node{}, herr.New(herr.KindCorruptedData, "merkle.decodeNode", "")
	}
	var n Node
	copy(n.Left[:], b[:hashcodec.Size])
	copy(n.Right[:], b[hashcodec.Size:])
	return n, nil
}

// BuildAndStore computes the Merkle root over leaves and persists
// every internal node it creates into the merkle partition, keyed by
// the node's own hash, so a later inclusion-proof verification can
// recover sibling hashes without rebuilding the whole tree from the
// chunk list.
func BuildAndStore(store *kv.Store, leaves []hashcodec.Hash) (hashcodec.Hash, error) {
	batch := kv.NewWriteBatch()
	root := buildRec(leaves, batch)
	if err := store.Commit(batch); err != nil {
		return hashcodec.Zero, err
	}
	return root, nil
}

func buildRec(leaves []hashcodec.Hash, batch *kv.WriteBatch) hashcodec.Hash {
	switch len(leaves) {
	case 0:
		return hashcodec.Sum(EmptyRootTag)
	case 1:
		return leaves[0]
	}
	left, right := split(leaves)
	leftRoot := buildRec(left, batch)
	rightRoot := buildRec(right, batch)
	root := combine(leftRoot, rightRoot)
	batch.Put(kv.PartitionMerkle, root.Bytes(), encodeNode(Node{Left: leftRoot, Right: rightRoot}))
	return root
}

// LoadNode reads a persisted internal node by its hash.
func LoadNode(store *kv.Store, h hashcodec.Hash) (Node, bool, error) {
	v, ok, err := store.Get(kv.PartitionMerkle, h.Bytes())
	if err != nil || !ok {
		return Node{}, ok, err
	}
	n, err := decodeNode(v)
	if err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}
