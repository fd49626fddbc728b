package manifest

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/talaria-bio/herald/internal/hashcodec"
	"github.com/talaria-bio/herald/internal/herr"
	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/merkle"
)

// Manifest is a stored DatabaseManifest (spec.md §3).
type Manifest struct {
	Source          string
	Dataset         string
	Timestamp       string // YYYYMMDD_HHMMSS UTC
	Chunks          []hashcodec.Hash
	MerkleRoot      hashcodec.Hash
	SeqTime         time.Time
	TaxTime         time.Time
	SequenceCount   uint64
	TotalBytes      uint64
	UpstreamVersion string // "" if absent
}

// VersionSummary is one entry of list_versions' output.
type VersionSummary struct {
	Timestamp string
	Aliases   []string
	Manifest  Manifest
}

// Invalidator is the C10 hook DeleteVersion and SetAlias fire
// directly: unlike CreateManifest (invalidated by its callers in
// ingest and syncengine, which also just wrote new chunks), these two
// operations have no higher-level caller to do it for them, so the
// store invalidates itself (spec.md §4.10's exact trigger set:
// put_chunks, create_manifest, delete_version, set_alias).
type Invalidator interface {
	InvalidateDatabase(source, dataset string)
	InvalidateStats()
}

// Store is C7, the database manifest manager.
type Store struct {
	kv    *kv.Store
	cache Invalidator
}

// New builds a manifest Store over an opened KV backend. A nil cache
// is tolerated (invalidation becomes a no-op).
func New(store *kv.Store, cache Invalidator) *Store { return &Store{kv: store, cache: cache} }

func manifestKey(source, dataset, timestamp string) []byte {
	return []byte(fmt.Sprintf("manifest:%s:%s:%s", source, dataset, timestamp))
}

func manifestPrefix(source, dataset string) []byte {
	return []byte(fmt.Sprintf("manifest:%s:%s:", source, dataset))
}

func aliasKey(source, dataset, name string) []byte {
	return []byte(fmt.Sprintf("alias:%s:%s:%s", source, dataset, name))
}

func aliasPrefix(source, dataset string) []byte {
	return []byte(fmt.Sprintf("alias:%s:%s:", source, dataset))
}

// TimestampFormat matches spec.md §6: YYYYMMDD_HHMMSS UTC.
const TimestampFormat = "20060102_150405"

// CreateManifest stores a new manifest version, computes its Merkle
// root, persists the root's internal nodes, and atomically updates
// the latest/current aliases in the same batch (spec.md §4.7).
// sequenceCount is the total number of sequence entries listed across
// chunks (spec.md §3 DatabaseManifest.sequence_count), not the number
// of chunks itself; a hash listed twice counts twice.
func (s *Store) CreateManifest(source, dataset string, chunks []hashcodec.Hash, seqTime, taxTime time.Time, upstreamVersion string, sequenceCount, totalBytes uint64, now time.Time) (Manifest, error) {
	ts := now.UTC().Format(TimestampFormat)
	root, err := merkle.BuildAndStore(s.kv, chunks)
	if err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		Source:          source,
		Dataset:         dataset,
		Timestamp:       ts,
		Chunks:          chunks,
		MerkleRoot:      root,
		SeqTime:         seqTime.UTC(),
		TaxTime:         taxTime.UTC(),
		SequenceCount:   sequenceCount,
		TotalBytes:      totalBytes,
		UpstreamVersion: upstreamVersion,
	}

	key := manifestKey(source, dataset, ts)
	if _, exists, err := s.kv.Get(kv.PartitionManifests, key); err != nil {
		return Manifest{}, err
	} else if exists {
		return Manifest{}, herr.New(herr.KindAlreadyExists, "manifest.CreateManifest", string(key))
	}

	batch := kv.NewWriteBatch()
	batch.Put(kv.PartitionManifests, key, encodeManifest(m))
	batch.Put(kv.PartitionAliases, aliasKey(source, dataset, ReservedLatest), []byte(ts))
	batch.Put(kv.PartitionAliases, aliasKey(source, dataset, ReservedCurrent), []byte(ts))
	batch.Put(kv.PartitionTemporal, temporalKey(seqTime, taxTime, source, dataset), []byte(ts))

	if err := s.kv.Commit(batch); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Resolve resolves versionOrAlias (a timestamp, "current"/"latest", or
// a user alias) to its manifest. Resolution is single-level: aliases
// never chain (spec.md §4.7, §9 open question).
func (s *Store) Resolve(source, dataset, versionOrAlias string) (Manifest, bool, error) {
	ts := versionOrAlias
	if !isTimestamp(versionOrAlias) {
		v, ok, err := s.kv.Get(kv.PartitionAliases, aliasKey(source, dataset, versionOrAlias))
		if err != nil {
			return Manifest{}, false, err
		}
		if !ok {
			return Manifest{}, false, nil
		}
		ts = string(v)
	}

	v, ok, err := s.kv.Get(kv.PartitionManifests, manifestKey(source, dataset, ts))
	if err != nil {
		return Manifest{}, false, err
	}
	if !ok {
		return Manifest{}, false, nil
	}
	m, err := decodeManifest(v)
	if err != nil {
		return Manifest{}, false, herr.Wrap(herr.KindCorruptedData, "manifest.Resolve", ts, err)
	}
	return m, true, nil
}

// ListVersions prefix-scans every manifest for (source, dataset) and
// reports the aliases pointing at each, newest first.
func (s *Store) ListVersions(source, dataset string) ([]VersionSummary, error) {
	var out []VersionSummary
	err := s.kv.IteratePrefix(kv.PartitionManifests, manifestPrefix(source, dataset), func(key, value []byte) bool {
		m, err := decodeManifest(value)
		if err != nil {
			return true
		}
		out = append(out, VersionSummary{Timestamp: m.Timestamp, Manifest: m})
		return true
	})
	if err != nil {
		return nil, err
	}

	aliasesByTS := map[string][]string{}
	err = s.kv.IteratePrefix(kv.PartitionAliases, aliasPrefix(source, dataset), func(key, value []byte) bool {
		name := string(key[len(aliasPrefix(source, dataset)):])
		aliasesByTS[string(value)] = append(aliasesByTS[string(value)], name)
		return true
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Aliases = aliasesByTS[out[i].Timestamp]
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteVersion removes a manifest version, refusing to delete the
// only alive version, and re-points aliases atomically: latest moves
// to the newest remaining version; current follows latest unless a
// custom alias already points at a different surviving version
// (spec.md §4.7).
func (s *Store) DeleteVersion(source, dataset, timestamp string) error {
	versions, err := s.ListVersions(source, dataset)
	if err != nil {
		return err
	}
	if len(versions) <= 1 {
		return herr.New(herr.KindInvalidInput, "manifest.DeleteVersion", timestamp)
	}

	var remaining []VersionSummary
	var deleted *Manifest
	found := false
	for _, v := range versions {
		if v.Timestamp == timestamp {
			found = true
			m := v.Manifest
			deleted = &m
			continue
		}
		remaining = append(remaining, v)
	}
	if !found {
		return herr.New(herr.KindNotFound, "manifest.DeleteVersion", timestamp)
	}

	newestTS := remaining[0].Timestamp
	for _, v := range remaining[1:] {
		if v.Timestamp > newestTS {
			newestTS = v.Timestamp
		}
	}

	batch := kv.NewWriteBatch()
	batch.Delete(kv.PartitionManifests, manifestKey(source, dataset, timestamp))
	batch.Delete(kv.PartitionTemporal, temporalKey(deleted.SeqTime, deleted.TaxTime, source, dataset))
	batch.Put(kv.PartitionAliases, aliasKey(source, dataset, ReservedLatest), []byte(newestTS))

	currentV, ok, err := s.kv.Get(kv.PartitionAliases, aliasKey(source, dataset, ReservedCurrent))
	if err != nil {
		return err
	}
	if !ok || string(currentV) == timestamp {
		batch.Put(kv.PartitionAliases, aliasKey(source, dataset, ReservedCurrent), []byte(newestTS))
	}

	if err := s.kv.Commit(batch); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateDatabase(source, dataset)
		s.cache.InvalidateStats()
	}
	return nil
}

// SetAlias points a user alias at timestamp, rejecting the reserved
// names and validating the target exists (spec.md §4.7).
func (s *Store) SetAlias(source, dataset, name, timestamp string) error {
	if name == ReservedCurrent || name == ReservedLatest {
		return herr.New(herr.KindInvalidInput, "manifest.SetAlias", name)
	}
	if !identifierRE.MatchString(name) {
		return herr.New(herr.KindInvalidInput, "manifest.SetAlias", name)
	}
	_, ok, err := s.kv.Get(kv.PartitionManifests, manifestKey(source, dataset, timestamp))
	if err != nil {
		return err
	}
	if !ok {
		return herr.New(herr.KindNotFound, "manifest.SetAlias", timestamp)
	}

	batch := kv.NewWriteBatch()
	batch.Put(kv.PartitionAliases, aliasKey(source, dataset, name), []byte(timestamp))
	if err := s.kv.Commit(batch); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateDatabase(source, dataset)
	}
	return nil
}

func temporalKey(seqTime, taxTime time.Time, source, dataset string) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(seqTime.UTC().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(taxTime.UTC().UnixNano()))
	return append(buf[:], []byte(":"+source+":"+dataset)...)
}

func encodeManifest(m Manifest) []byte {
	var out []byte
	out = appendString(out, m.Source)
	out = appendString(out, m.Dataset)
	out = appendString(out, m.Timestamp)
	out = appendString(out, m.UpstreamVersion)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(m.Chunks)))
	out = append(out, countBuf[:]...)
	for _, h := range m.Chunks {
		out = append(out, h.Bytes()...)
	}
	out = append(out, m.MerkleRoot.Bytes()...)

	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(m.SeqTime.UTC().UnixNano()))
	out = append(out, tbuf[:]...)
	binary.BigEndian.PutUint64(tbuf[:], uint64(m.TaxTime.UTC().UnixNano()))
	out = append(out, tbuf[:]...)
	binary.BigEndian.PutUint64(tbuf[:], m.SequenceCount)
	out = append(out, tbuf[:]...)
	binary.BigEndian.PutUint64(tbuf[:], m.TotalBytes)
	out = append(out, tbuf[:]...)
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

// DecodeManifest exposes the manifest binary decoder for callers that
// need to read a raw value out of a consistent kv.Snapshot (e.g. the
// garbage collector's mark phase), rather than going through Resolve.
func DecodeManifest(b []byte) (Manifest, error) { return decodeManifest(b) }

func decodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	var err error
	off := 0

	m.Source, off, err = readString(b, off)
	if err != nil {
		return m, err
	}
	m.Dataset, off, err = readString(b, off)
	if err != nil {
		return m, err
	}
	m.Timestamp, off, err = readString(b, off)
	if err != nil {
		return m, err
	}
	m.UpstreamVersion, off, err = readString(b, off)
	if err != nil {
		return m, err
	}

	if off+4 > len(b) {
		return m, fmt.Errorf("truncated chunk count at offset %d", off)
	}
	chunkCount := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	m.Chunks = make([]hashcodec.Hash, chunkCount)
	for i := 0; i < chunkCount; i++ {
		if off+hashcodec.Size > len(b) {
			return m, fmt.Errorf("truncated chunk hash at offset %d", off)
		}
		copy(m.Chunks[i][:], b[off:off+hashcodec.Size])
		off += hashcodec.Size
	}
	if off+hashcodec.Size > len(b) {
		return m, fmt.Errorf("truncated merkle root at offset %d", off)
	}
	copy(m.MerkleRoot[:], b[off:off+hashcodec.Size])
	off += hashcodec.Size

	if off+32 > len(b) {
		return m, fmt.Errorf("truncated trailer at offset %d", off)
	}
	m.SeqTime = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8]))).UTC()
	off += 8
	m.TaxTime = time.Unix(0, int64(binary.BigEndian.Uint64(b[off:off+8]))).UTC()
	off += 8
	m.SequenceCount = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	m.TotalBytes = binary.BigEndian.Uint64(b[off : off+8])
	return m, nil
}
