package chunk

import (
	"sort"

	"github.com/talaria-bio/herald/internal/hashcodec"
)

// Candidate is one sequence hash queued for chunking, carrying the
// taxon it was classified under (taxon id 0 is the "no taxon" bucket,
// spec.md §4.5) and its stored length for size accounting.
type Candidate struct {
	Hash     hashcodec.Hash
	TaxonID  uint32
	HasTaxon bool
	Length   int64
}

// Group is one accumulated, not-yet-hashed chunk: an ordered sequence
// hash list plus the taxon set it spans.
type Group struct {
	Hashes  []hashcodec.Hash
	Lengths []int64 // parallel to Hashes; per-sequence uncompressed length
	Taxa    map[uint32]bool
	bytes   int64
}

// Plan groups candidates into chunk-sized Groups by the taxonomy-aware
// policy (spec.md §4.5): sort by taxon id (0 = no taxon), accumulate
// until a soft threshold trips or the hard ceiling forces a flush, and
// split any single taxon that alone exceeds the hard ceiling by stable
// sequence-hash order. This is the library's analogue to the teacher's
// ComputeManifest accumulate-and-flush loop, generalized from
// fixed-size byte windows to taxon-aware sequence groups.
func Plan(candidates []Candidate, policy Policy) []Group {
	p := policy.normalized()
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := taxonKey(sorted[i]), taxonKey(sorted[j])
		if ti != tj {
			return ti < tj
		}
		return hashcodec.Less(sorted[i].Hash, sorted[j].Hash)
	})

	var groups []Group
	var cur Group
	var curTaxon uint32
	var curHasTaxon bool
	haveCur := false

	flush := func() {
		if len(cur.Hashes) == 0 {
			return
		}
		groups = append(groups, splitOversized(cur, p)...)
		cur = Group{}
		haveCur = false
	}

	for _, c := range sorted {
		taxonChanged := haveCur && effectiveTaxon(c.TaxonID, c.HasTaxon) != effectiveTaxon(curTaxon, curHasTaxon)
		if taxonChanged && cur.bytes >= p.MinBytes {
			flush()
		}
		// A model taxon always gets its own dedicated chunk(s): flush
		// on the way out of one (spec.md §4.5) and, symmetrically, on
		// the way in, so a model taxon never gets silently appended
		// onto the tail of the group that precedes it.
		if taxonChanged && (policy.isModelTaxon(curTaxon, curHasTaxon) || policy.isModelTaxon(c.TaxonID, c.HasTaxon)) {
			flush()
		}

		if !haveCur {
			curTaxon, curHasTaxon = c.TaxonID, c.HasTaxon
			haveCur = true
			cur.Taxa = map[uint32]bool{}
		}

		cur.Hashes = append(cur.Hashes, c.Hash)
		cur.Lengths = append(cur.Lengths, c.Length)
		cur.bytes += c.Length
		if c.HasTaxon {
			cur.Taxa[c.TaxonID] = true
		}

		if len(cur.Hashes) >= p.TargetCount || cur.bytes >= p.TargetBytes {
			flush()
		}
	}
	flush()
	return groups
}

// taxonKey orders candidates for sorting: sequences lacking a taxon id
// and sequences with an explicit taxon id of 0 share the same "no
// taxon" bucket (spec.md §4.5: "sequences lacking a taxon id go to a
// bucket with id 0"), so both map to the same sort key.
func taxonKey(c Candidate) int64 {
	return int64(effectiveTaxon(c.TaxonID, c.HasTaxon))
}

// effectiveTaxon collapses "no taxon" and "explicit taxon 0" into the
// same group identity (spec.md §4.5) so the accumulate-and-flush loop
// never treats the transition between them as a taxon change.
func effectiveTaxon(taxonID uint32, hasTaxon bool) uint32 {
	if !hasTaxon {
		return 0
	}
	return taxonID
}

// splitOversized enforces the hard ceiling (spec.md §4.5 "if a single
// taxon exceeds the upper bound, split it by stable sequence-hash
// order") by cutting g into MaxCount/MaxBytes-bounded pieces,
// preserving input order within each piece.
func splitOversized(g Group, p Policy) []Group {
	if len(g.Hashes) <= p.MaxCount && g.bytes <= p.MaxBytes {
		return []Group{g}
	}

	var out []Group
	var piece Group
	piece.Taxa = g.Taxa
	var pieceBytes int64

	for i, h := range g.Hashes {
		length := g.Lengths[i]
		piece.Hashes = append(piece.Hashes, h)
		piece.Lengths = append(piece.Lengths, length)
		pieceBytes += length
		if len(piece.Hashes) >= p.MaxCount || pieceBytes >= p.MaxBytes {
			piece.bytes = pieceBytes
			out = append(out, piece)
			piece = Group{Taxa: g.Taxa}
			pieceBytes = 0
		}
	}
	if len(piece.Hashes) > 0 {
		piece.bytes = pieceBytes
		out = append(out, piece)
	}
	return out
}
