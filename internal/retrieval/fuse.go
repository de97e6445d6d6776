package retrieval

import "sort"

// chunkKey identifies a chunk within a single knowledge base.
type chunkKey struct {
	kbID    string
	chunkID string
}

// modalityScores accumulates the best (max) raw score seen for a chunk
// within one modality (sparse or dense), across every query variant and
// knowledge base searched in a request.
type modalityScores map[chunkKey]float64

// accumulateMax keeps the maximum score observed per key.
func (m modalityScores) accumulateMax(key chunkKey, score float64) {
	if cur, ok := m[key]; !ok || score > cur {
		m[key] = score
	}
}

// normalize min-max normalizes scores to [0,1] within the set. An empty
// or single-valued set maps every score to 1 if non-zero, 0 otherwise,
// since min == max leaves no usable spread.
func normalize(scores modalityScores) map[chunkKey]float64 {
	out := make(map[chunkKey]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	min, max := 0.0, 0.0
	first := true
	for _, s := range scores {
		if first {
			min, max = s, s
			first = false
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	spread := max - min
	for k, s := range scores {
		switch {
		case spread == 0 && max == 0:
			out[k] = 0
		case spread == 0:
			out[k] = 1
		default:
			out[k] = (s - min) / spread
		}
	}
	return out
}

// fusedEntry is the raw material for one SearchHit before content and
// position metadata are hydrated from the chunk lookup.
type fusedEntry struct {
	key        chunkKey
	rawScore   float64
	fusedScore float64
}

// fuse combines normalized dense and sparse scores per chunk with weight
// alpha: fused = alpha*dense_norm + (1-alpha)*sparse_norm. A chunk absent
// from a modality scores 0 in that modality, per spec.
func fuse(sparse, dense modalityScores, alpha float64) []fusedEntry {
	sparseNorm := normalize(sparse)
	denseNorm := normalize(dense)

	keys := make(map[chunkKey]struct{}, len(sparse)+len(dense))
	for k := range sparse {
		keys[k] = struct{}{}
	}
	for k := range dense {
		keys[k] = struct{}{}
	}

	entries := make([]fusedEntry, 0, len(keys))
	for k := range keys {
		sn := sparseNorm[k]
		dn := denseNorm[k]

		raw := sparse[k]
		if dense[k] > raw {
			raw = dense[k]
		}

		entries = append(entries, fusedEntry{
			key:        k,
			rawScore:   raw,
			fusedScore: alpha*dn + (1-alpha)*sn,
		})
	}
	return entries
}

// dedupByDocChunk merges hits sharing the same (doc_id, chunk_index),
// which can only happen when the same content is indexed under more than
// one knowledge base shard, keeping whichever copy has the higher final
// score.
func dedupByDocChunk(hits []hitCandidate) []hitCandidate {
	type docKey struct {
		docID      string
		chunkIndex int
	}
	best := make(map[docKey]hitCandidate, len(hits))
	order := make([]docKey, 0, len(hits))
	for _, h := range hits {
		k := docKey{docID: h.hit.DocID, chunkIndex: h.hit.ChunkIndex}
		existing, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = h
			continue
		}
		if h.hit.FinalScore() > existing.hit.FinalScore() {
			best[k] = h
		}
	}
	out := make([]hitCandidate, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// sortHits orders hits by final score descending, tie-breaking by
// (doc_id, chunk_index) ascending for a stable, reproducible order.
func sortHits(hits []hitCandidate) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i].hit, hits[j].hit
		if a.FinalScore() != b.FinalScore() {
			return a.FinalScore() > b.FinalScore()
		}
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}
