package retrieval

import (
	"context"
	"sort"

	"github.com/kbserve/retrieval-core/internal/bm25"
	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/vectorstore"
)

// sparseTask is one (kb_id, query variant) BM25 search to run.
type sparseTask struct {
	kbID  string
	query string
	topK  int
}

func (t sparseTask) fanoutID() string { return t.kbID + ":" + t.query }

// sparseSearch scores every query variant against every knowledge base's
// BM25 index and returns the max score seen per (kb_id, chunk_id). A
// knowledge base with no loaded index contributes nothing, which the
// caller treats as a zero sparse score for that KB (spec's missing-index
// edge policy) rather than an error.
func (e *Engine) sparseSearch(kbIDs, queries []string, topK int) modalityScores {
	tasks := make([]sparseTask, 0, len(kbIDs)*len(queries))
	for _, kbID := range kbIDs {
		for _, q := range queries {
			tasks = append(tasks, sparseTask{kbID: kbID, query: q, topK: topK})
		}
	}

	results := fanout(context.Background(), tasks, func(_ context.Context, t sparseTask) ([]bm25.Hit, error) {
		return e.BM25.Search(t.kbID, t.query, t.topK)
	})

	scores := make(modalityScores)
	for i, r := range results {
		if r.Err != nil {
			if e.shouldLogMissingSparseIndex(tasks[i].kbID) {
				e.logf("sparse search unavailable for kb, treating as zero", "kb_id", tasks[i].kbID, "error", r.Err)
			}
			continue
		}
		kbID := tasks[i].kbID
		for _, hit := range r.Value {
			scores.accumulateMax(chunkKey{kbID: kbID, chunkID: hit.ChunkID}, hit.Score)
		}
	}
	return scores
}

// denseTask is one (query embedding, kb_id) vector search to run.
type denseTask struct {
	kbID      string
	queryText string
	vector    []float32
	topK      int
	filters   map[string]any
}

func (t denseTask) fanoutID() string { return t.kbID + ":" + t.queryText }

// denseSearch batch-embeds every query variant in one resilience-wrapped
// call (rewrites carry different semantic content so they cannot share
// an embedding), then fans out a vector-store search per (embedding,
// kb_id) pair, each independently wrapped by the resilience layer.
func (e *Engine) denseSearch(ctx context.Context, kbIDs, queries []string, topK int, filters map[string]any) (modalityScores, error) {
	vectors, err := resilience.Execute(ctx, e.Resilience, serviceKeyEmbed, func(ctx context.Context) ([][]float32, error) {
		return e.Embedder.EmbedBatch(ctx, queries)
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]denseTask, 0, len(kbIDs)*len(queries))
	for i, q := range queries {
		if i >= len(vectors) {
			break
		}
		for _, kbID := range kbIDs {
			tasks = append(tasks, denseTask{kbID: kbID, queryText: q, vector: vectors[i], topK: topK, filters: filters})
		}
	}

	results := fanout(ctx, tasks, func(ctx context.Context, t denseTask) ([]vectorstore.Result, error) {
		return resilience.Execute(ctx, e.Resilience, serviceKeyVectorStore, func(ctx context.Context) ([]vectorstore.Result, error) {
			if len(t.filters) > 0 {
				return e.Vectors.SearchWithFilter(ctx, t.kbID, t.vector, t.topK, t.filters)
			}
			return e.Vectors.Search(ctx, t.kbID, t.vector, t.topK)
		})
	})

	scores := make(modalityScores)
	failures := 0
	for i, r := range results {
		if r.Err != nil {
			failures++
			e.logf("dense search failed for kb", "kb_id", tasks[i].kbID, "error", r.Err)
			continue
		}
		kbID := tasks[i].kbID
		for _, res := range r.Value {
			scores.accumulateMax(chunkKey{kbID: kbID, chunkID: res.ID}, res.Score)
		}
	}

	if len(tasks) > 0 && failures == len(tasks) {
		return nil, results[0].Err
	}
	return scores, nil
}

// hydrate resolves chunk content and position metadata for each fused
// entry, grouping lookups by knowledge base to batch them.
func (e *Engine) hydrate(ctx context.Context, entries []fusedEntry) ([]hitCandidate, error) {
	byKB := make(map[string][]string)
	for _, en := range entries {
		byKB[en.key.kbID] = append(byKB[en.key.kbID], en.key.chunkID)
	}

	chunkByKey := make(map[chunkKey]model.Chunk, len(entries))
	if e.Chunks != nil {
		for kbID, ids := range byKB {
			chunks, err := e.Chunks.GetChunks(ctx, kbID, ids)
			if err != nil {
				return nil, err
			}
			for _, c := range chunks {
				chunkByKey[chunkKey{kbID: kbID, chunkID: c.ID}] = c
			}
		}
	}

	out := make([]hitCandidate, 0, len(entries))
	for _, en := range entries {
		c, ok := chunkByKey[en.key]
		docID := c.DocID
		if !ok {
			// No chunk metadata available (lookup unset or chunk since
			// deleted): fall back to a key that still uniquely
			// identifies this chunk so dedup-by-doc never collapses
			// unrelated hits together.
			docID = en.key.kbID + ":" + en.key.chunkID
		}
		out = append(out, hitCandidate{hit: model.SearchHit{
			ChunkID:    en.key.chunkID,
			DocID:      docID,
			KBID:       en.key.kbID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			RawScore:   en.rawScore,
			FusedScore: en.fusedScore,
			Page:       c.Page,
			Section:    c.SectionTitle,
		}})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].hit.FusedScore > out[j].hit.FusedScore
	})
	return out, nil
}
