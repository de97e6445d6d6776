// Package retrieval implements the hybrid retrieval engine: it fuses
// dense (vector) and sparse (BM25) search, reranks, deduplicates across
// knowledge bases, and returns the final ranked hit list described in
// spec §4.1. It is the one package that composes the query rewriter,
// BM25 index manager, embedding provider, vector store, and reranker
// behind a single request-scoped algorithm.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kbserve/retrieval-core/internal/bm25"
	"github.com/kbserve/retrieval-core/internal/embedding"
	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/rerank"
	"github.com/kbserve/retrieval-core/internal/rewrite"
	"github.com/kbserve/retrieval-core/internal/telemetry"
	"github.com/kbserve/retrieval-core/internal/vectorstore"
)

const (
	minQueryLen = 1
	maxQueryLen = 1000
	minTopK     = 1
	maxTopK     = 200

	serviceKeyEmbed       = "embedding"
	serviceKeyVectorStore = "vectorstore.search"
	serviceKeyRerank      = "rerank"

	// missingSparseIndexLogInterval throttles the "no sparse index loaded
	// for kb" warning: a KB missing its BM25 index stays missing across
	// many requests, so logging it on every search just floods output.
	missingSparseIndexLogInterval = time.Minute
)

// Mode selects which modalities contribute to a search.
type Mode string

const (
	ModeDense  Mode = "dense"
	ModeSparse Mode = "sparse"
	ModeHybrid Mode = "hybrid"
)

// Options configures a single search request.
type Options struct {
	Mode            Mode
	Alpha           float64
	UseRerank       bool
	UseQueryRewrite bool
	ConversationID  string
	Filters         map[string]any
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	if o.Alpha == 0 && o.Mode == ModeHybrid {
		o.Alpha = 0.5
	}
	return o
}

// KBChecker reports whether a knowledge base exists and is active.
type KBChecker interface {
	IsActive(ctx context.Context, kbID string) (bool, error)
}

// HistorySource supplies recent conversation turns for query rewriting.
type HistorySource interface {
	History(ctx context.Context, conversationID string, maxTurns int) ([]model.ConversationTurn, error)
}

// ChunkLookup hydrates chunk content and position metadata for hits
// found by modality search, which only return chunk IDs and scores.
type ChunkLookup interface {
	GetChunks(ctx context.Context, kbID string, chunkIDs []string) ([]model.Chunk, error)
}

// Engine composes the rewrite, sparse, dense, rerank, and dedup stages
// into the single-request hybrid search algorithm.
type Engine struct {
	BM25        *bm25.Manager
	Vectors     vectorstore.Store
	Embedder    embedding.Provider
	Reranker    rerank.Reranker
	Rewriter    *rewrite.Rewriter
	Resilience  *resilience.Registry
	KBChecker   KBChecker
	History     HistorySource
	Chunks      ChunkLookup
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger

	sparseMissMu   sync.Mutex
	sparseMissSeen map[string]time.Time
}

// shouldLogMissingSparseIndex reports whether the "no sparse index loaded"
// warning for kbID is due, allowing at most one log line per kbID per
// missingSparseIndexLogInterval.
func (e *Engine) shouldLogMissingSparseIndex(kbID string) bool {
	e.sparseMissMu.Lock()
	defer e.sparseMissMu.Unlock()
	if e.sparseMissSeen == nil {
		e.sparseMissSeen = make(map[string]time.Time)
	}
	if last, ok := e.sparseMissSeen[kbID]; ok && time.Since(last) < missingSparseIndexLogInterval {
		return false
	}
	e.sparseMissSeen[kbID] = time.Now()
	return true
}

// hitCandidate wraps a hit for the final sort/dedup passes.
type hitCandidate struct {
	hit model.SearchHit
}

// Search runs the hybrid retrieval algorithm for query against kbIDs,
// returning at most topK hits plus whether the request degraded to a
// reduced modality set.
func (e *Engine) Search(ctx context.Context, kbIDs []string, query string, topK int, opts Options) (hits []model.SearchHit, degradedOut bool, err error) {
	start := time.Now()
	mode := string(opts.Mode)
	if mode == "" {
		mode = string(ModeHybrid)
	}
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case degradedOut:
			outcome = "degraded"
		}
		e.Metrics.ObserveSearch(mode, outcome, time.Since(start))
	}()

	if n := utf8.RuneCountInString(query); n < minQueryLen || n > maxQueryLen {
		return nil, false, model.NewRetrievalError("retrieval", "search", "query length out of bounds", query, model.ErrInvalidQuery)
	}
	if topK < minTopK || topK > maxTopK {
		return nil, false, model.NewRetrievalError("retrieval", "search", fmt.Sprintf("top_k %d out of bounds", topK), query, model.ErrInvalidQuery)
	}
	if len(kbIDs) == 0 {
		return nil, false, model.NewRetrievalError("retrieval", "search", "no knowledge bases specified", query, model.ErrInvalidQuery)
	}
	if err := e.checkKBs(ctx, kbIDs); err != nil {
		return nil, false, err
	}

	opts = opts.withDefaults()

	queries := []string{query}
	if opts.UseQueryRewrite && opts.ConversationID != "" && e.Rewriter != nil && e.History != nil {
		history, err := e.History.History(ctx, opts.ConversationID, 5)
		if err != nil {
			e.logf("history lookup failed, proceeding without rewrite", "conversation_id", opts.ConversationID, "error", err)
		} else {
			result := e.Rewriter.Rewrite(ctx, query, history, rewrite.DefaultConfig())
			queries = append([]string{result.Rewritten}, result.Variants...)
		}
	}

	perModalityTopK := topK * 2

	var sparse modalityScores
	if opts.Mode != ModeDense {
		sparse = e.sparseSearch(kbIDs, queries, perModalityTopK)
	}

	var dense modalityScores
	degraded := false
	alpha := opts.Alpha
	if opts.Mode != ModeSparse {
		d, err := e.denseSearch(ctx, kbIDs, queries, perModalityTopK, opts.Filters)
		switch {
		case err == nil:
			dense = d
		case len(sparse) > 0:
			e.logf("dense search unavailable, degrading to sparse-only", "error", err)
			degraded = true
			alpha = 0
		default:
			return nil, false, fmt.Errorf("retrieval: %w", model.ErrServiceUnavailable)
		}
	}

	if len(sparse) == 0 && len(dense) == 0 {
		return []model.SearchHit{}, degraded, nil
	}

	entries := fuse(sparse, dense, alpha)
	candidates, err := e.hydrate(ctx, entries)
	if err != nil {
		return nil, degraded, err
	}

	if opts.UseRerank && e.Reranker != nil && !e.rerankCircuitOpen() {
		truncN := 4 * topK
		if truncN > 50 {
			truncN = 50
		}
		if len(candidates) > truncN {
			candidates = candidates[:truncN]
		}
		hits := make([]model.SearchHit, len(candidates))
		for i, c := range candidates {
			hits[i] = c.hit
		}
		reranked, err := e.rerank(ctx, query, hits, topK)
		if err != nil {
			e.logf("rerank failed, keeping fused order", "error", err)
		} else {
			candidates = candidates[:0]
			for _, h := range reranked {
				candidates = append(candidates, hitCandidate{hit: h})
			}
		}
	}

	candidates = dedupByDocChunk(candidates)
	sortHits(candidates)

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]model.SearchHit, len(candidates))
	for i, c := range candidates {
		out[i] = c.hit
	}
	return out, degraded, nil
}

func (e *Engine) checkKBs(ctx context.Context, kbIDs []string) error {
	if e.KBChecker == nil {
		return nil
	}
	for _, id := range kbIDs {
		active, err := e.KBChecker.IsActive(ctx, id)
		switch {
		case errors.Is(err, model.ErrKBNotFound):
			return &model.KBError{KBID: id, Err: model.ErrKBNotFound}
		case err != nil:
			return fmt.Errorf("retrieval: check kb %s: %w", id, err)
		case !active:
			return &model.KBError{KBID: id, Err: model.ErrKBInactive}
		}
	}
	return nil
}

func (e *Engine) rerank(ctx context.Context, query string, hits []model.SearchHit, topK int) ([]model.SearchHit, error) {
	return resilience.Execute(ctx, e.Resilience, serviceKeyRerank, func(ctx context.Context) ([]model.SearchHit, error) {
		return e.Reranker.Rerank(ctx, query, hits, topK)
	})
}

func (e *Engine) rerankCircuitOpen() bool {
	return e.Resilience.IsOpen(serviceKeyRerank)
}

func (e *Engine) logf(msg string, args ...any) {
	if e.Logger != nil {
		e.Logger.Warn(msg, args...)
	}
}
