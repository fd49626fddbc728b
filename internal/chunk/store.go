package chunk

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/herr"
	"github.com/talaria-bio/herald/internal/kv"
)

// Record is a stored ChunkRecord (spec.md §3). Chunks are immutable
// once written; duplicate chunks (same ordered sequence-hash list)
// collapse to the same key since the hash is over the canonical
// serialization of the contents.
type Record struct {
	SequenceHashes   []hashcodec.Hash
	TaxonIDs         []uint32 // sorted set
	SequenceCount    uint32
	UncompressedSize uint64
	CompressedSize   uint64
	ChunkType        hashcodec.ChunkKind
	CreatedAt        time.Time
}

// Store is C5, the chunk manifest store.
type Store struct {
	kv *kv.Store
}

// New builds a chunk Store over an opened KV backend.
func New(store *kv.Store) *Store { return &Store{kv: store} }

// ChunkInput is one taxonomy-aware group ready to be hashed and
// stored, as produced by Plan.
type ChunkInput struct {
	SequenceHashes   []hashcodec.Hash
	TaxonSet         map[uint32]bool
	UncompressedSize uint64
	CompressedSize   uint64
	ChunkType        hashcodec.ChunkKind
}

// PutChunks computes each input's canonical chunk bytes, hashes it,
// and stores the resulting ChunkRecord (skipping hashes already
// present, since chunks are immutable and content-addressed). It
// returns one Hash per input in the same order (spec.md §4.5).
func (s *Store) PutChunks(inputs []ChunkInput, now time.Time) ([]hashcodec.Hash, error) {
	out := make([]hashcodec.Hash, len(inputs))
	batch := kv.NewWriteBatch()

	for i, in := range inputs {
		canon := hashcodec.CanonicalChunkBytes(in.ChunkType, in.SequenceHashes)
		h := hashcodec.Sum(canon)
		out[i] = h

		_, exists, err := s.kv.Get(kv.PartitionChunks, h.Bytes())
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		taxa := make([]uint32, 0, len(in.TaxonSet))
		for t := range in.TaxonSet {
			taxa = append(taxa, t)
		}
		sort.Slice(taxa, func(a, b int) bool { return taxa[a] < taxa[b] })

		rec := Record{
			SequenceHashes:   in.SequenceHashes,
			TaxonIDs:         taxa,
			SequenceCount:    uint32(len(in.SequenceHashes)),
			UncompressedSize: in.UncompressedSize,
			CompressedSize:   in.CompressedSize,
			ChunkType:        in.ChunkType,
			CreatedAt:        now,
		}
		batch.Put(kv.PartitionChunks, h.Bytes(), encodeRecord(rec))
	}

	if batch.Len() > 0 {
		if err := s.kv.Commit(batch); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetChunk returns the stored ChunkRecord for h.
func (s *Store) GetChunk(h hashcodec.Hash) (Record, bool, error) {
	v, ok, err := s.kv.Get(kv.PartitionChunks, h.Bytes())
	if err != nil {
		return Record{}, false, err
	}
	if !ok {
		return Record{}, false, nil
	}
	rec, err := decodeRecord(v)
	if err != nil {
		return Record{}, false, herr.Wrap(herr.KindCorruptedData, "chunk.GetChunk", h.String(), err)
	}
	return rec, true, nil
}

// IterChunks streams every stored ChunkRecord matching filter; a
// record for which filter returns false is skipped and iteration
// continues. Iteration stops early only when fn returns false. filter
// may be nil to visit every record.
func (s *Store) IterChunks(filter func(Record) bool, fn func(hashcodec.Hash, Record) bool) error {
	return s.kv.IteratePrefix(kv.PartitionChunks, nil, func(key, value []byte) bool {
		var h hashcodec.Hash
		copy(h[:], key)
		rec, err := decodeRecord(value)
		if err != nil {
			return true
		}
		if filter != nil && !filter(rec) {
			return true
		}
		return fn(h, rec)
	})
}

func encodeRecord(r Record) []byte {
	var out []byte
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(r.SequenceHashes)))
	out = append(out, countBuf[:]...)
	for _, h := range r.SequenceHashes {
		out = append(out, h.Bytes()...)
	}
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(r.TaxonIDs)))
	out = append(out, countBuf[:]...)
	for _, t := range r.TaxonIDs {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], t)
		out = append(out, b[:]...)
	}
	var misc [1 + 4 + 8 + 8 + 8]byte
	misc[0] = byte(r.ChunkType)
	binary.BigEndian.PutUint32(misc[1:5], r.SequenceCount)
	binary.BigEndian.PutUint64(misc[5:13], r.UncompressedSize)
	binary.BigEndian.PutUint64(misc[13:21], r.CompressedSize)
	out = append(out, misc[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(r.CreatedAt.UTC().UnixNano()))
	out = append(out, tsBuf[:]...)
	return out
}

// DecodeRecord exposes the chunk binary decoder for callers reading
// raw values from a consistent kv.Snapshot (e.g. the garbage
// collector's mark phase).
func DecodeRecord(b []byte) (Record, error) { return decodeRecord(b) }

func decodeRecord(b []byte) (Record, error) {
	var rec Record
	off := 0
	if off+4 > len(b) {
		return rec, herr.New(herr.KindCorruptedData, "chunk.decodeRecord", "")
	}
	hashCount := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	rec.SequenceHashes = make([]hashcodec.Hash, hashCount)
	for i := 0; i < hashCount; i++ {
		if off+hashcodec.Size > len(b) {
			return rec, herr.New(herr.KindCorruptedData, "chunk.decodeRecord", "")
		}
		copy(rec.SequenceHashes[i][:], b[off:off+hashcodec.Size])
		off += hashcodec.Size
	}
	if off+4 > len(b) {
		return rec, herr.New(herr.KindCorruptedData, "chunk.decodeRecord", "")
	}
	taxonCount := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	rec.TaxonIDs = make([]uint32, taxonCount)
	for i := 0; i < taxonCount; i++ {
		if off+4 > len(b) {
			return rec, herr.New(herr.KindCorruptedData, "chunk.decodeRecord", "")
		}
		rec.TaxonIDs[i] = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}
	if off+29 > len(b) {
		return rec, herr.New(herr.KindCorruptedData, "chunk.decodeRecord", "")
	}
	rec.ChunkType = hashcodec.ChunkKind(b[off])
	rec.SequenceCount = binary.BigEndian.Uint32(b[off+1 : off+5])
	rec.UncompressedSize = binary.BigEndian.Uint64(b[off+5 : off+13])
	rec.CompressedSize = binary.BigEndian.Uint64(b[off+13 : off+21])
	off += 21
	rec.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8]))).UTC()
	return rec, nil
}
