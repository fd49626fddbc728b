// Package chunk implements C5: the taxonomy-aware chunker and the
// chunk manifest store built on top of it. The grouping policy here
// plays the role the teacher's internal/chunker package plays for
// flat byte-window chunking (ComputeManifest's accumulate-then-flush
// loop), generalized from fixed-size byte windows to taxon-sorted,
// size/count-bounded sequence groups.
package chunk

// Policy holds the taxonomy-aware chunking thresholds (spec.md §4.5).
// All fields have defaults matching the spec; zero values are treated
// as "not configured" and replaced by DefaultPolicy's values.
type Policy struct {
	TargetCount int   // soft sequence-count target per chunk (default 1000)
	TargetBytes int64 // soft uncompressed-size target (default 50 MiB)
	MinBytes    int64 // minimum size before a taxon change forces a flush (default 10 MiB)
	MaxCount    int   // hard sequence-count ceiling (default 5000)
	MaxBytes    int64 // hard uncompressed-size ceiling (default 500 MiB)

	// ModelTaxa are taxon IDs that always get their own dedicated
	// chunk(s) regardless of the size/count lower bounds.
	ModelTaxa map[uint32]bool
}

const (
	mib = 1 << 20
)

// DefaultPolicy returns the spec's default thresholds (spec.md §4.5).
func DefaultPolicy() Policy {
	return Policy{
		TargetCount: 1000,
		TargetBytes: 50 * mib,
		MinBytes:    10 * mib,
		MaxCount:    5000,
		MaxBytes:    500 * mib,
		ModelTaxa:   map[uint32]bool{},
	}
}

func (p Policy) normalized() Policy {
	if p.TargetCount <= 0 {
		p.TargetCount = 1000
	}
	if p.TargetBytes <= 0 {
		p.TargetBytes = 50 * mib
	}
	if p.MinBytes <= 0 {
		p.MinBytes = 10 * mib
	}
	if p.MaxCount <= 0 {
		p.MaxCount = 5000
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = 500 * mib
	}
	if p.ModelTaxa == nil {
		p.ModelTaxa = map[uint32]bool{}
	}
	return p
}

func (p Policy) isModelTaxon(taxonID uint32, hasTaxon bool) bool {
	if !hasTaxon {
		return false
	}
	return p.ModelTaxa[taxonID]
}
