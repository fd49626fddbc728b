package delta

// BandedAligner is the default Aligner: a banded Needleman-Wunsch-style
// edit-distance computation restricted to a diagonal band of width
// band (spec.md §4.9). It never shells out to an external aligner —
// the real Needleman-Wunsch/BLOSUM oracle named in spec.md §1 is an
// explicitly out-of-scope external collaborator; this is the delta
// engine's own cheap byte-level edit-distance computation, not a
// substitute for it.
type BandedAligner struct{}

const unreachable = 1<<31 - 1

// Align computes the banded edit distance between reference and
// target and produces a Copy/Insert/Substitute op list reconstructing
// target from reference. It reports ok=false if the true edit
// distance provably exceeds band (spec.md §4.9 "reject if the
// minimum-edit-distance exceeds it").
func (BandedAligner) Align(reference, target []byte, band int) ([]Op, int, bool, error) {
	n, m := len(reference), len(target)
	if band < 0 {
		band = 0
	}

	// dp[i][j] = edit distance between reference[:i] and target[:j],
	// restricted to |i-j| <= band; cells outside the band are
	// "unreachable" sentinels.
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
		for j := range dp[i] {
			dp[i][j] = unreachable
		}
	}
	dp[0][0] = 0
	for i := 0; i <= n; i++ {
		lo := i - band
		if lo < 0 {
			lo = 0
		}
		hi := i + band
		if hi > m {
			hi = m
		}
		for j := lo; j <= hi; j++ {
			if i == 0 && j == 0 {
				continue
			}
			best := unreachable
			if i > 0 && withinBand(i-1, j, band) {
				if v := dp[i-1][j] + 1; v < best { // deletion from reference
					best = v
				}
			}
			if j > 0 && withinBand(i, j-1, band) {
				if v := dp[i][j-1] + 1; v < best { // insertion into target
					best = v
				}
			}
			if i > 0 && j > 0 && withinBand(i-1, j-1, band) {
				cost := 1
				if reference[i-1] == target[j-1] {
					cost = 0
				}
				if v := dp[i-1][j-1] + cost; v < best {
					best = v
				}
			}
			dp[i][j] = best
		}
	}

	if dp[n][m] >= unreachable {
		return nil, 0, false, nil
	}
	if dp[n][m] > band {
		return nil, dp[n][m], false, nil
	}

	ops := tracebackOps(dp, reference, target, band)
	return ops, dp[n][m], true, nil
}

func withinBand(i, j, band int) bool {
	d := i - j
	if d < 0 {
		d = -d
	}
	return d <= band
}

// tracebackOps walks the dp table from (n, m) back to (0, 0),
// collecting raw single-byte ops, then coalesces the result into
// Copy/Insert/Substitute runs.
func tracebackOps(dp [][]int, reference, target []byte, band int) []Op {
	type rawOp struct {
		kind OpKind
		pos  int  // reference offset (Copy/Substitute) or -1 (Insert)
		b    byte // target byte (Insert/Substitute)
	}
	var raw []rawOp

	i, j := len(reference), len(target)
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && withinBand(i-1, j-1, band) && dp[i][j] == dp[i-1][j-1]+costOf(reference[i-1], target[j-1]) {
			if reference[i-1] == target[j-1] {
				raw = append(raw, rawOp{kind: OpCopy, pos: i - 1})
			} else {
				raw = append(raw, rawOp{kind: OpSubstitute, pos: i - 1, b: target[j-1]})
			}
			i--
			j--
			continue
		}
		if j > 0 && withinBand(i, j-1, band) && dp[i][j] == dp[i][j-1]+1 {
			raw = append(raw, rawOp{kind: OpInsert, pos: -1, b: target[j-1]})
			j--
			continue
		}
		// deletion from reference: consume one reference byte, emit nothing
		i--
	}

	// raw is in reverse order; reverse it, then coalesce adjacent
	// Copy runs and adjacent Insert runs into single ops.
	for l, r := 0, len(raw)-1; l < r; l, r = l+1, r-1 {
		raw[l], raw[r] = raw[r], raw[l]
	}

	var ops []Op
	for _, r := range raw {
		switch r.kind {
		case OpCopy:
			if last := lastOp(ops); last != nil && last.Kind == OpCopy && last.Offset+last.Length == r.pos {
				last.Length++
				continue
			}
			ops = append(ops, Op{Kind: OpCopy, Offset: r.pos, Length: 1})
		case OpInsert:
			if last := lastOp(ops); last != nil && last.Kind == OpInsert {
				last.Bytes = append(last.Bytes, r.b)
				continue
			}
			ops = append(ops, Op{Kind: OpInsert, Bytes: []byte{r.b}})
		case OpSubstitute:
			if last := lastOp(ops); last != nil && last.Kind == OpSubstitute && last.Offset+len(last.Bytes) == r.pos {
				last.Bytes = append(last.Bytes, r.b)
				continue
			}
			ops = append(ops, Op{Kind: OpSubstitute, Offset: r.pos, Bytes: []byte{r.b}})
		}
	}
	return ops
}

func costOf(a, b byte) int {
	if a == b {
		return 0
	}
	return 1
}

func lastOp(ops []Op) *Op {
	if len(ops) == 0 {
		return nil
	}
	return &ops[len(ops)-1]
}
