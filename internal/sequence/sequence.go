// Package sequence implements C4: the canonical sequence store. Each
// unique sequence's residue bytes are stored exactly once, keyed by
// content hash; per-source header metadata is kept as a separate,
// growable Representation list so the same biological sequence seen
// across many source databases costs one copy plus one small record
// per source.
package sequence

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/talaria-bio/herald/internal/filter"
	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/herr"
	"github.com/talaria-bio/herald/internal/kv"
)

// Sequence is a stored CanonicalSequence value.
type Sequence struct {
	Length  uint32
	Kind    hashcodec.SequenceKind
	Content []byte
}

// Representation is one source database's header/metadata binding to
// a CanonicalSequence.
type Representation struct {
	Source    string
	Dataset   string
	Header    string
	TaxonID   uint32
	HasTaxon  bool
	Extra     map[string]string
	FirstSeen time.Time
}

// Store is C4, built atop the shared KV backend and filter cascade.
// Two concurrent PutSequence calls for the same content both succeed;
// the backend write is naturally idempotent (same key, same bytes),
// satisfying the "loser re-checks" ordering guarantee (spec.md §5)
// without needing a separate write-intent mechanism.
type Store struct {
	kv      *kv.Store
	cascade *filter.Cascade

	// putMu serializes the read-modify-write of a single hash's
	// representation list so two concurrent PutSequence calls for the
	// same content append distinct representations rather than racing
	// a lost update. It is sharded by nothing (single mutex) since
	// batch_put already serializes within a batch and cross-batch
	// contention on the same hash is rare.
	putMu sync.Mutex
}

// New builds a sequence Store over an opened KV backend and filter
// cascade.
func New(store *kv.Store, cascade *filter.Cascade) *Store {
	return &Store{kv: store, cascade: cascade}
}

// PutSequence canonicalizes content, computes its hash, and stores it
// plus rep if absent or not already listed (spec.md §4.4). It is
// idempotent with respect to (content, representation): calling it
// twice with the same arguments leaves the store in the same state as
// one call (law L1).
func (s *Store) PutSequence(raw []byte, kind hashcodec.SequenceKind, rep Representation) (hashcodec.Hash, error) {
	canon := hashcodec.CanonicalSequenceBytes(raw)
	h := hashcodec.Sum(canon)

	s.putMu.Lock()
	defer s.putMu.Unlock()

	exists, err := s.cascade.Exists(h, func(hh hashcodec.Hash) (bool, error) {
		_, ok, err := s.kv.Get(kv.PartitionSequences, hh.Bytes())
		return ok, err
	})
	if err != nil {
		return h, err
	}

	batch := kv.NewWriteBatch()
	if !exists {
		batch.Put(kv.PartitionSequences, h.Bytes(), encodeSequence(Sequence{
			Length:  uint32(len(canon)),
			Kind:    kind,
			Content: canon,
		}))
		reps := []Representation{rep}
		batch.Put(kv.PartitionRepresentations, h.Bytes(), encodeRepresentations(reps))
	} else {
		reps, _, err := s.getRepresentations(h)
		if err != nil {
			return h, err
		}
		if containsRepresentation(reps, rep) {
			return h, nil
		}
		reps = append(reps, rep)
		batch.Put(kv.PartitionRepresentations, h.Bytes(), encodeRepresentations(reps))
	}

	if err := s.kv.Commit(batch); err != nil {
		return h, err
	}
	if !exists {
		s.cascade.Insert(h)
	}
	return h, nil
}

// BatchPut groups items into backend-sized batches (default 10,000),
// performing one batch-commit per group and updating the tier-1
// filter only after each group's commit succeeds (spec.md §4.4).
func (s *Store) BatchPut(items []BatchItem, groupSize int) ([]hashcodec.Hash, error) {
	if groupSize <= 0 {
		groupSize = 10_000
	}
	out := make([]hashcodec.Hash, 0, len(items))
	for start := 0; start < len(items); start += groupSize {
		end := start + groupSize
		if end > len(items) {
			end = len(items)
		}
		group := items[start:end]
		hashes, err := s.putGroup(group)
		if err != nil {
			return out, err
		}
		out = append(out, hashes...)
	}
	return out, nil
}

// BatchItem is one (content, representation) pair for BatchPut.
type BatchItem struct {
	Content []byte
	Kind    hashcodec.SequenceKind
	Rep     Representation
}

func (s *Store) putGroup(items []BatchItem) ([]hashcodec.Hash, error) {
	s.putMu.Lock()
	defer s.putMu.Unlock()

	batch := kv.NewWriteBatch()
	hashes := make([]hashcodec.Hash, len(items))
	var toInsert []hashcodec.Hash
	seenInBatch := map[hashcodec.Hash][]Representation{}

	for i, item := range items {
		canon := hashcodec.CanonicalSequenceBytes(item.Content)
		h := hashcodec.Sum(canon)
		hashes[i] = h

		exists, err := s.cascade.Exists(h, func(hh hashcodec.Hash) (bool, error) {
			_, ok, err := s.kv.Get(kv.PartitionSequences, hh.Bytes())
			return ok, err
		})
		if err != nil {
			return nil, err
		}

		if reps, already := seenInBatch[h]; already {
			if !containsRepresentation(reps, item.Rep) {
				seenInBatch[h] = append(reps, item.Rep)
			}
			continue
		}

		if !exists {
			batch.Put(kv.PartitionSequences, h.Bytes(), encodeSequence(Sequence{
				Length:  uint32(len(canon)),
				Kind:    item.Kind,
				Content: canon,
			}))
			seenInBatch[h] = []Representation{item.Rep}
			toInsert = append(toInsert, h)
			continue
		}

		existingReps, _, err := s.getRepresentations(h)
		if err != nil {
			return nil, err
		}
		if !containsRepresentation(existingReps, item.Rep) {
			seenInBatch[h] = append(existingReps, item.Rep)
		} else {
			seenInBatch[h] = existingReps
		}
	}

	for h, reps := range seenInBatch {
		batch.Put(kv.PartitionRepresentations, h.Bytes(), encodeRepresentations(reps))
	}

	if err := s.kv.Commit(batch); err != nil {
		return nil, err
	}
	s.cascade.InsertMany(toInsert)
	return hashes, nil
}

// GetSequence returns the stored CanonicalSequence for h, or ok=false
// if absent.
func (s *Store) GetSequence(h hashcodec.Hash) (Sequence, bool, error) {
	v, ok, err := s.kv.Get(kv.PartitionSequences, h.Bytes())
	if err != nil {
		return Sequence{}, false, err
	}
	if !ok {
		return Sequence{}, false, nil
	}
	seq, err := decodeSequence(v)
	if err != nil {
		return Sequence{}, false, herr.Wrap(herr.KindCorruptedData, "sequence.GetSequence", h.String(), err)
	}
	return seq, true, nil
}

// IterSequenceHashes yields every stored sequence hash, stopping early
// if yield returns false. It has the iterator shape filter.Rebuild
// takes (spec.md §4.13); store.Open passes its own equivalent scan of
// the sequences partition rather than this method.
func (s *Store) IterSequenceHashes(yield func([]byte) bool) error {
	return s.kv.IteratePrefix(kv.PartitionSequences, nil, func(key, value []byte) bool {
		return yield(key)
	})
}

// GetRepresentations returns every Representation bound to h.
func (s *Store) GetRepresentations(h hashcodec.Hash) ([]Representation, error) {
	reps, _, err := s.getRepresentations(h)
	return reps, err
}

func (s *Store) getRepresentations(h hashcodec.Hash) ([]Representation, bool, error) {
	v, ok, err := s.kv.Get(kv.PartitionRepresentations, h.Bytes())
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	reps, err := decodeRepresentations(v)
	if err != nil {
		return nil, false, herr.Wrap(herr.KindCorruptedData, "sequence.GetRepresentations", h.String(), err)
	}
	return reps, true, nil
}

func containsRepresentation(reps []Representation, rep Representation) bool {
	for _, r := range reps {
		if r.Source == rep.Source && r.Dataset == rep.Dataset && r.Header == rep.Header {
			return true
		}
	}
	return false
}

// --- wire encoding: length-prefixed, fixed-endianness (spec.md §4.1) ---

func encodeSequence(seq Sequence) []byte {
	out := make([]byte, 0, 5+len(seq.Content))
	out = append(out, byte(seq.Kind))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], seq.Length)
	out = append(out, lenBuf[:]...)
	out = append(out, seq.Content...)
	return out
}

func decodeSequence(b []byte) (Sequence, error) {
	if len(b) < 5 {
		return Sequence{}, fmt.Errorf("sequence record too short: %d bytes", len(b))
	}
	kind := hashcodec.SequenceKind(b[0])
	length := binary.BigEndian.Uint32(b[1:5])
	content := append([]byte(nil), b[5:]...)
	return Sequence{Length: length, Kind: kind, Content: content}, nil
}

func encodeRepresentations(reps []Representation) []byte {
	var out []byte
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(reps)))
	out = append(out, countBuf[:]...)
	for _, r := range reps {
		out = appendString(out, r.Source)
		out = appendString(out, r.Dataset)
		out = appendString(out, r.Header)
		var taxonBuf [5]byte
		if r.HasTaxon {
			taxonBuf[0] = 1
		}
		binary.BigEndian.PutUint32(taxonBuf[1:], r.TaxonID)
		out = append(out, taxonBuf[:]...)
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(r.FirstSeen.UTC().UnixNano()))
		out = append(out, tsBuf[:]...)
		var extraCount [4]byte
		binary.BigEndian.PutUint32(extraCount[:], uint32(len(r.Extra)))
		out = append(out, extraCount[:]...)
		for k, v := range r.Extra {
			out = appendString(out, k)
			out = appendString(out, v)
		}
	}
	return out
}

func appendString(out []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	out = append(out, lenBuf[:]...)
	return append(out, s...)
}

func readString(b []byte, off int) (string, int, error) {
	if off+4 > len(b) {
		return "", off, fmt.Errorf("truncated string length at offset %d", off)
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if off+n > len(b) {
		return "", off, fmt.Errorf("truncated string data at offset %d", off)
	}
	return string(b[off : off+n]), off + n, nil
}

func decodeRepresentations(b []byte) ([]Representation, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("representation record too short")
	}
	count := int(binary.BigEndian.Uint32(b[0:4]))
	off := 4
	reps := make([]Representation, 0, count)
	for i := 0; i < count; i++ {
		var r Representation
		var err error
		r.Source, off, err = readString(b, off)
		if err != nil {
			return nil, err
		}
		r.Dataset, off, err = readString(b, off)
		if err != nil {
			return nil, err
		}
		r.Header, off, err = readString(b, off)
		if err != nil {
			return nil, err
		}
		if off+5 > len(b) {
			return nil, fmt.Errorf("truncated taxon field at offset %d", off)
		}
		r.HasTaxon = b[off] == 1
		r.TaxonID = binary.BigEndian.Uint32(b[off+1 : off+5])
		off += 5
		if off+8 > len(b) {
			return nil, fmt.Errorf("truncated timestamp field at offset %d", off)
		}
		r.FirstSeen = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8]))).UTC()
		off += 8
		if off+4 > len(b) {
			return nil, fmt.Errorf("truncated extra-count field at offset %d", off)
		}
		extraCount := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if extraCount > 0 {
			r.Extra = make(map[string]string, extraCount)
		}
		for j := 0; j < extraCount; j++ {
			var k, v string
			k, off, err = readString(b, off)
			if err != nil {
				return nil, err
			}
			v, off, err = readString(b, off)
			if err != nil {
				return nil, err
			}
			r.Extra[k] = v
		}
		reps = append(reps, r)
	}
	return reps, nil
}
