// Package bm25 implements the sparse half of hybrid retrieval: a per-KB
// Okapi BM25 index with a custom binary persistence format, built and
// maintained independently of the dense vector store.
package bm25

import (
	"math"
	"sort"
	"sync"
)

// k1 and b are the classic Okapi BM25 tuning constants; the spec fixes
// both rather than exposing them per-KB.
const (
	k1 = 1.5
	b  = 0.75
)

// posting records one chunk's term frequency and document length at the
// time it was indexed.
type posting struct {
	chunkID string
	tf      int
	docLen  int
}

// Index is an in-memory Okapi BM25 index for a single knowledge base. Its
// methods take Index.mu themselves, so an Index is safe for concurrent use
// on its own and can be unit tested without a manager.
type Index struct {
	KBID             string
	TokenizerVersion uint32

	mu       sync.RWMutex
	postings map[string][]posting // term -> postings, ordered by insertion
	docLens  map[string]int       // chunkID -> token count, for avgdl maintenance
	totalLen int64
	dirty    bool
}

// NewIndex builds an empty index for a knowledge base.
func NewIndex(kbID string) *Index {
	return &Index{
		KBID:             kbID,
		TokenizerVersion: TokenizerVersion,
		postings:         make(map[string][]posting),
		docLens:          make(map[string]int),
	}
}

// N is the number of documents (chunks) currently indexed.
func (idx *Index) N() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLens)
}

// avgdl is the average document length across all indexed chunks.
func (idx *Index) avgdl() float64 {
	if len(idx.docLens) == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(len(idx.docLens))
}

// Upsert (re)indexes a chunk's content, replacing any prior postings for
// the same chunk ID.
func (idx *Index) Upsert(chunkID, content string) {
	terms := Tokenize(content)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)

	tf := make(map[string]int, len(terms))
	for _, term := range terms {
		tf[term]++
	}
	for term, freq := range tf {
		idx.postings[term] = append(idx.postings[term], posting{
			chunkID: chunkID,
			tf:      freq,
			docLen:  len(terms),
		})
	}
	idx.docLens[chunkID] = len(terms)
	idx.totalLen += int64(len(terms))
	idx.dirty = true
}

// Delete removes a chunk from the index. It is a no-op if the chunk was
// never indexed.
func (idx *Index) Delete(chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)
	idx.dirty = true
}

func (idx *Index) removeLocked(chunkID string) {
	docLen, ok := idx.docLens[chunkID]
	if !ok {
		return
	}
	delete(idx.docLens, chunkID)
	idx.totalLen -= int64(docLen)

	for term, plist := range idx.postings {
		for i, p := range plist {
			if p.chunkID == chunkID {
				idx.postings[term] = append(plist[:i], plist[i+1:]...)
				break
			}
		}
		if len(idx.postings[term]) == 0 {
			delete(idx.postings, term)
		}
	}
}

// Dirty reports whether the index has unpersisted mutations.
func (idx *Index) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}

// markClean is called by the manager after a successful flush.
func (idx *Index) markClean() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dirty = false
}

// Hit is a scored sparse search result.
type Hit struct {
	ChunkID string
	Score   float64
}

// Search scores every chunk containing at least one query term and
// returns the topK highest-scoring hits, descending.
func (idx *Index) Search(query string, topK int) []Hit {
	terms := Tokenize(query)
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docLens)
	if n == 0 || len(terms) == 0 {
		return nil
	}
	avgdl := idx.avgdl()

	scores := make(map[string]float64)
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		plist, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := idfScore(n, len(plist))
		for _, p := range plist {
			denom := float64(p.tf) + k1*(1-b+b*float64(p.docLen)/avgdl)
			scores[p.chunkID] += idf * (float64(p.tf) * (k1 + 1)) / denom
		}
	}

	hits := make([]Hit, 0, len(scores))
	for chunkID, score := range scores {
		hits = append(hits, Hit{ChunkID: chunkID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// idfScore is the BM25 inverse document frequency with +1 smoothing, which
// keeps the score non-negative even when a term appears in more than half
// the corpus.
func idfScore(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}
