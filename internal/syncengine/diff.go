package syncengine

import "github.com/talaria-bio/herald/internal/hashcodec"

// Diff is the result of comparing a local manifest's chunk set against
// a remote one (spec.md §4.8).
type Diff struct {
	NewChunks       []hashcodec.Hash
	RemovedChunks   []hashcodec.Hash // informational only
	UnchangedChunks []hashcodec.Hash
}

// ComputeDiff compares local against remote chunk-hash lists. A nil
// local represents "no local manifest for this (source, dataset)".
func ComputeDiff(local, remote []hashcodec.Hash) Diff {
	localSet := make(map[hashcodec.Hash]struct{}, len(local))
	for _, h := range local {
		localSet[h] = struct{}{}
	}
	remoteSet := make(map[hashcodec.Hash]struct{}, len(remote))
	for _, h := range remote {
		remoteSet[h] = struct{}{}
	}

	var d Diff
	for _, h := range remote {
		if _, ok := localSet[h]; ok {
			d.UnchangedChunks = append(d.UnchangedChunks, h)
		} else {
			d.NewChunks = append(d.NewChunks, h)
		}
	}
	for _, h := range local {
		if _, ok := remoteSet[h]; !ok {
			d.RemovedChunks = append(d.RemovedChunks, h)
		}
	}
	return d
}
