package delta

import (
	"encoding/binary"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/herr"
	"github.com/talaria-bio/herald/internal/kv"
)

// Record is a stored DeltaRecord (spec.md §3): target is implicit (the
// key), Reference names the sequence the ops apply against.
type Record struct {
	Reference    hashcodec.Hash
	Ops          []Op
	EditDistance int
}

// Policy holds C9's acceptance thresholds (spec.md §4.9).
type Policy struct {
	MaxDeltaDistance        int     // default 1000
	MaxDeltaChain           int     // default 1
	ReconstructionThreshold float64 // default 0.3
}

// DefaultPolicy returns the spec's default delta thresholds.
func DefaultPolicy() Policy {
	return Policy{MaxDeltaDistance: 1000, MaxDeltaChain: 1, ReconstructionThreshold: 0.3}
}

func (p Policy) normalized() Policy {
	if p.MaxDeltaDistance <= 0 {
		p.MaxDeltaDistance = 1000
	}
	if p.MaxDeltaChain <= 0 {
		p.MaxDeltaChain = 1
	}
	if p.ReconstructionThreshold <= 0 {
		p.ReconstructionThreshold = 0.3
	}
	return p
}

// Store is C9, built atop the shared KV backend's deltas partition.
type Store struct {
	kv      *kv.Store
	aligner Aligner
	policy  Policy
}

// New builds a delta Store using aligner for edit-script computation.
func New(store *kv.Store, aligner Aligner, policy Policy) *Store {
	if aligner == nil {
		aligner = BandedAligner{}
	}
	return &Store{kv: store, aligner: aligner, policy: policy.normalized()}
}

// Encode attempts to store target as a delta against reference. It
// returns ok=false (no error) when the edit distance exceeds
// MaxDeltaDistance or the encoded size does not beat
// ReconstructionThreshold of target's length — the spec's defined
// "fall back to full sequence storage without error" boundary
// behavior (spec.md §4.9, §8 boundary behaviors).
func (s *Store) Encode(targetHash, referenceHash hashcodec.Hash, reference, target []byte) (bool, error) {
	ops, editDistance, ok, err := s.aligner.Align(reference, target, s.policy.MaxDeltaDistance)
	if err != nil {
		return false, err
	}
	if !ok || editDistance > s.policy.MaxDeltaDistance {
		return false, nil
	}

	encoded := encodeOps(ops)
	if float64(len(encoded)) >= float64(len(target))*s.policy.ReconstructionThreshold {
		return false, nil
	}

	rec := Record{Reference: referenceHash, Ops: ops, EditDistance: editDistance}
	batch := kv.NewWriteBatch()
	batch.Put(kv.PartitionDeltas, targetHash.Bytes(), encodeRecord(rec))
	if err := s.kv.Commit(batch); err != nil {
		return false, err
	}
	return true, nil
}

// GetDelta returns the stored DeltaRecord for targetHash, if any.
func (s *Store) GetDelta(targetHash hashcodec.Hash) (Record, bool, error) {
	v, ok, err := s.kv.Get(kv.PartitionDeltas, targetHash.Bytes())
	if err != nil || !ok {
		return Record{}, ok, err
	}
	rec, err := decodeRecord(v)
	if err != nil {
		return Record{}, false, herr.Wrap(herr.KindCorruptedData, "delta.GetDelta", targetHash.String(), err)
	}
	return rec, true, nil
}

// Decode applies ops left-to-right against referenceContent,
// reconstructing the target's bytes. Any op reading outside the
// reference is a fatal CorruptedData error (spec.md §4.9).
func Decode(referenceContent []byte, ops []Op) ([]byte, error) {
	var out []byte
	for _, op := range ops {
		switch op.Kind {
		case OpCopy:
			if op.Offset < 0 || op.Offset+op.Length > len(referenceContent) {
				return nil, herr.New(herr.KindCorruptedData, "delta.Decode", "copy out of bounds")
			}
			out = append(out, referenceContent[op.Offset:op.Offset+op.Length]...)
		case OpInsert:
			out = append(out, op.Bytes...)
		case OpSubstitute:
			if op.Offset < 0 || op.Offset+len(op.Bytes) > len(referenceContent) {
				return nil, herr.New(herr.KindCorruptedData, "delta.Decode", "substitute out of bounds")
			}
			out = append(out, op.Bytes...)
		default:
			return nil, herr.New(herr.KindCorruptedData, "delta.Decode", "unknown op kind")
		}
	}
	return out, nil
}

// Reconstruct resolves targetHash through at most MaxDeltaChain
// levels of delta indirection, materializing intermediate references
// as needed via getSequence (full CanonicalSequence content lookup).
// A chain deeper than MaxDeltaChain is a CorruptedData error, since
// the encoder must never produce one (spec.md §4.9).
func (s *Store) Reconstruct(targetHash hashcodec.Hash, getSequence func(hashcodec.Hash) ([]byte, bool, error)) ([]byte, error) {
	type frame struct {
		hash hashcodec.Hash
		rec  Record
	}
	var chain []frame

	cur := targetHash
	for depth := 0; ; depth++ {
		if depth > s.policy.MaxDeltaChain {
			return nil, herr.New(herr.KindCorruptedData, "delta.Reconstruct", targetHash.String())
		}
		rec, ok, err := s.GetDelta(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			content, ok, err := getSequence(cur)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, herr.New(herr.KindNotFound, "delta.Reconstruct", cur.String())
			}
			result := content
			for i := len(chain) - 1; i >= 0; i-- {
				result, err = Decode(result, chain[i].rec.Ops)
				if err != nil {
					return nil, err
				}
			}
			return result, nil
		}
		chain = append(chain, frame{hash: cur, rec: rec})
		cur = rec.Reference
	}
}

func encodeOps(ops []Op) []byte {
	var out []byte
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(ops)))
	out = append(out, countBuf[:]...)
	for _, op := range ops {
		out = append(out, byte(op.Kind))
		var offBuf [4]byte
		binary.BigEndian.PutUint32(offBuf[:], uint32(op.Offset))
		out = append(out, offBuf[:]...)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(op.Length))
		out = append(out, lenBuf[:]...)
		var bytesLenBuf [4]byte
		binary.BigEndian.PutUint32(bytesLenBuf[:], uint32(len(op.Bytes)))
		out = append(out, bytesLenBuf[:]...)
		out = append(out, op.Bytes...)
	}
	return out
}

func decodeOps(b []byte) ([]Op, int, error) {
	if len(b) < 4 {
		return nil, 0, herr.New(herr.KindCorruptedData, "delta.decodeOps", "")
	}
	count := int(binary.BigEndian.Uint32(b[0:4]))
	off := 4
	ops := make([]Op, 0, count)
	for i := 0; i < count; i++ {
		if off+13 > len(b) {
			return nil, 0, herr.New(herr.KindCorruptedData, "delta.decodeOps", "")
		}
		kind := OpKind(b[off])
		offset := int32(binary.BigEndian.Uint32(b[off+1 : off+5]))
		length := int32(binary.BigEndian.Uint32(b[off+5 : off+9]))
		bytesLen := int(binary.BigEndian.Uint32(b[off+9 : off+13]))
		off += 13
		if off+bytesLen > len(b) {
			return nil, 0, herr.New(herr.KindCorruptedData, "delta.decodeOps", "")
		}
		data := append([]byte(nil), b[off:off+bytesLen]...)
		off += bytesLen
		ops = append(ops, Op{Kind: kind, Offset: int(offset), Length: int(length), Bytes: data})
	}
	return ops, off, nil
}

func encodeRecord(r Record) []byte {
	out := append([]byte(nil), r.Reference.Bytes()...)
	var edBuf [4]byte
	binary.BigEndian.PutUint32(edBuf[:], uint32(r.EditDistance))
	out = append(out, edBuf[:]...)
	out = append(out, encodeOps(r.Ops)...)
	return out
}

// DecodeRecord exposes the delta binary decoder for callers reading
// raw values from a consistent kv.Snapshot (e.g. the garbage
// collector's mark phase).
func DecodeRecord(b []byte) (Record, error) { return decodeRecord(b) }

func decodeRecord(b []byte) (Record, error) {
	if len(b) < hashcodec.Size+4 {
		return Record{}, herr.New(herr.KindCorruptedData, "delta.decodeRecord", "")
	}
	var rec Record
	copy(rec.Reference[:], b[:hashcodec.Size])
	rec.EditDistance = int(binary.BigEndian.Uint32(b[hashcodec.Size : hashcodec.Size+4]))
	ops, _, err := decodeOps(b[hashcodec.Size+4:])
	if err != nil {
		return Record{}, err
	}
	rec.Ops = ops
	return rec, nil
}
