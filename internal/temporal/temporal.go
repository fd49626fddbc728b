// Package temporal implements C12: the bi-temporal index over manifest
// versions, answering point-in-time ("snapshot_at") and range
// ("history") queries against the two independent time dimensions
// sequence-time and taxonomy-time (spec.md §4.12).
package temporal

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/talaria-bio/herald/internal/kv"
	"github.com/talaria-bio/herald/internal/manifest"
)

// Index is C12, built atop the shared KV backend's temporal
// partition (populated by manifest.Store.CreateManifest) and the
// manifest store itself, to materialize full Manifest values.
type Index struct {
	kv   *kv.Store
	mans *manifest.Store
}

// New builds a temporal Index over an opened KV backend and manifest
// store.
func New(store *kv.Store, mans *manifest.Store) *Index {
	return &Index{kv: store, mans: mans}
}

type entry struct {
	seqTime, taxTime  time.Time
	source, dataset   string
	manifestTimestamp string
}

// entries scans the whole temporal partition and decodes every entry,
// since the key's (seq_time, tax_time, source, dataset) ordering puts
// the (source, dataset) filter after the time bytes — a targeted
// per-database prefix scan would require a second index keyed
// (source, dataset, seq_time, tax_time), which this core does not
// maintain; see DESIGN.md for the tradeoff.
func (idx *Index) entries(source, dataset string) ([]entry, error) {
	var out []entry
	suffix := ":" + source + ":" + dataset
	err := idx.kv.IteratePrefix(kv.PartitionTemporal, nil, func(key, value []byte) bool {
		if len(key) < 16 {
			return true
		}
		rest := string(key[16:])
		if rest != suffix {
			return true
		}
		seqNanos := int64(binary.BigEndian.Uint64(key[0:8]))
		taxNanos := int64(binary.BigEndian.Uint64(key[8:16]))
		out = append(out, entry{
			seqTime:           time.Unix(0, seqNanos).UTC(),
			taxTime:           time.Unix(0, taxNanos).UTC(),
			source:            source,
			dataset:           dataset,
			manifestTimestamp: string(value),
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotAt returns the newest manifest with seq_time <= atSeqTime
// and tax_time <= atTaxTime (spec.md §4.12). DeleteVersion removes a
// deleted manifest's temporal entry in the same batch, so the entries
// seen here normally all resolve; candidates are still tried
// newest-first, and one whose manifest does not resolve is skipped in
// favor of the next-newest match rather than reported as "not found"
// (mirrors History's per-entry Resolve skip below).
func (idx *Index) SnapshotAt(source, dataset string, atSeqTime, atTaxTime time.Time) (manifest.Manifest, bool, error) {
	entries, err := idx.entries(source, dataset)
	if err != nil {
		return manifest.Manifest{}, false, err
	}

	var candidates []entry
	for _, e := range entries {
		if e.seqTime.After(atSeqTime) || e.taxTime.After(atTaxTime) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return newer(candidates[i], candidates[j])
	})

	for _, c := range candidates {
		m, ok, err := idx.mans.Resolve(source, dataset, c.manifestTimestamp)
		if err != nil {
			return manifest.Manifest{}, false, err
		}
		if ok {
			return m, true, nil
		}
	}
	return manifest.Manifest{}, false, nil
}

func newer(a, b entry) bool {
	if !a.seqTime.Equal(b.seqTime) {
		return a.seqTime.After(b.seqTime)
	}
	return a.taxTime.After(b.taxTime)
}

// History returns every manifest for (source, dataset) whose
// seq_time falls within seqRange and tax_time within taxRange,
// ordered oldest-first (spec.md §4.12 "range scan").
func (idx *Index) History(source, dataset string, seqRange, taxRange TimeRange) ([]manifest.Manifest, error) {
	entries, err := idx.entries(source, dataset)
	if err != nil {
		return nil, err
	}

	out := make([]manifest.Manifest, 0, len(entries))
	for _, e := range entries {
		if !seqRange.contains(e.seqTime) || !taxRange.contains(e.taxTime) {
			continue
		}
		m, ok, err := idx.mans.Resolve(source, dataset, e.manifestTimestamp)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// TimeRange is an inclusive [From, To] bound; a zero Time on either
// side means unbounded on that side.
type TimeRange struct {
	From, To time.Time
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
