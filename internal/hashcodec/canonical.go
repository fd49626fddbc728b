package hashcodec

import (
	"encoding/binary"
	"sort"
	"strings"
)

// SequenceKind mirrors the CanonicalSequence.kind field of the data
// model (spec.md §3).
type SequenceKind byte

const (
	SequenceUnknown SequenceKind = iota
	SequenceProtein
	SequenceDNA
	SequenceRNA
	SequenceNucleotide
)

func (k SequenceKind) String() string {
	switch k {
	case SequenceProtein:
		return "Protein"
	case SequenceDNA:
		return "DNA"
	case SequenceRNA:
		return "RNA"
	case SequenceNucleotide:
		return "Nucleotide"
	default:
		return "Unknown"
	}
}

// CanonicalSequenceBytes produces the canonical byte form of a
// sequence's residue content: uppercase, whitespace stripped, no
// header. This is the exact byte string hashed to produce the
// sequence's content address (I1).
func CanonicalSequenceBytes(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out = append(out, b)
	}
	return out
}

// ChunkKind mirrors ChunkRecord.chunk_type.
type ChunkKind byte

const (
	ChunkReference ChunkKind = iota
	ChunkDelta
	ChunkMixed
)

// CanonicalChunkBytes produces the canonical on-wire/on-disk form of a
// chunk (spec.md §4.1, §6): a 1-byte kind tag, a 4-byte big-endian
// count, and the concatenation of the listed sequence hashes in order.
// The chunk's hash is SHA-256 of exactly this byte string, and it must
// be byte-identical across platforms, so the length prefix is always
// big-endian regardless of host architecture.
func CanonicalChunkBytes(kind ChunkKind, hashes []Hash) []byte {
	out := make([]byte, 0, 1+4+len(hashes)*Size)
	out = append(out, byte(kind))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(hashes)))
	out = append(out, countBuf[:]...)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

// CanonicalDeltaTargetBytes produces the canonical input to the hash
// used when a delta target needs its own content address computed
// from its edit script rather than from reconstructed content:
// reference-hash || serialized ops (spec.md §4.1).
func CanonicalDeltaTargetBytes(reference Hash, serializedOps []byte) []byte {
	out := make([]byte, 0, Size+len(serializedOps))
	out = append(out, reference[:]...)
	out = append(out, serializedOps...)
	return out
}

// SortHashes returns a new, ascending-sorted copy of hashes, for
// callers that need a "sorted set" ordering of hashes rather than
// list-order-sensitive data such as a chunk's sequence_hashes. It does
// not remove duplicates.
func SortHashes(hashes []Hash) []Hash {
	out := make([]Hash, len(hashes))
	copy(out, hashes)
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// NormalizeHeader trims leading and trailing whitespace from a
// FASTA-style header; internal whitespace is left as is. A header is
// metadata, not part of the hashed canonical form, so it may vary in
// ways that don't affect dedup.
func NormalizeHeader(h string) string {
	return strings.TrimSpace(h)
}
