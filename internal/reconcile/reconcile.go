// Package reconcile implements the reconciliation pass of spec §4.2/§7:
// after ingestion commits to the repository, the vector store, and BM25 in
// sequence, a crash or upstream failure between steps can leave them out of
// sync. Reconciler brings BM25 and the vector store back in line with the
// repository, the system of record, on startup and on demand.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kbserve/retrieval-core/internal/bm25"
	"github.com/kbserve/retrieval-core/internal/embedding"
	"github.com/kbserve/retrieval-core/internal/repository"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/vectorstore"
)

const embedServiceKey = "embedding"

// Reconciler re-derives BM25 and vector-store state from the repository.
type Reconciler struct {
	Repo       repository.Repository
	BM25       *bm25.Manager
	Vectors    vectorstore.Store
	Embedder   embedding.Provider
	Resilience *resilience.Registry
	Logger     *slog.Logger
}

// Result reports what one knowledge base's reconciliation did.
type Result struct {
	KBID           string
	ChunksSeen     int
	ChunksReembed  int
	BM25Rebuilt    bool
	VectorFailures int
}

// ReconcileAll reconciles every active knowledge base, continuing past a
// single KB's failure so one bad tenant doesn't block the rest.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]Result, error) {
	kbs, err := r.Repo.ListActiveKBs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list active kbs: %w", err)
	}

	results := make([]Result, 0, len(kbs))
	var firstErr error
	for _, kb := range kbs {
		res, err := r.ReconcileKB(ctx, kb.ID)
		results = append(results, res)
		if err != nil {
			r.logf("reconcile kb failed", "kb_id", kb.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return results, firstErr
}

// ReconcileKB brings kbID's BM25 index and vector-store rows in line with
// the repository's current chunk set.
//
// BM25 reconciliation is exact: Manager.RebuildAll discards the existing
// index and rebuilds it entirely from the repository's ListChunks, so
// chunks missing from BM25 are added and chunks no longer in the
// repository are dropped in the same pass.
//
// Vector-store reconciliation is best-effort re-addition only: the
// VectorStore contract (spec §6) is deliberately opaque and exposes no way
// to list a collection's existing IDs, so a stale row that the repository
// no longer references cannot be detected and purged here. Re-upserting
// every current chunk is idempotent and repairs any chunk that failed to
// reach the vector store during ingestion; actual orphan cleanup happens
// as a side effect of DeleteChunksByDoc's caller removing the returned
// vector_ids directly.
func (r *Reconciler) ReconcileKB(ctx context.Context, kbID string) (Result, error) {
	res := Result{KBID: kbID}

	if r.BM25 != nil {
		if err := r.BM25.RebuildAll(ctx, []string{kbID}, repository.BM25Source{Repo: r.Repo}); err != nil {
			return res, fmt.Errorf("reconcile: rebuild bm25 for %s: %w", kbID, err)
		}
		res.BM25Rebuilt = true
	}

	if r.Vectors == nil || r.Embedder == nil {
		return res, nil
	}

	collection := vectorstore.CollectionName(kbID)
	cursor := ""
	for {
		chunks, page, err := r.Repo.ListChunks(ctx, kbID, repository.Pagination{After: cursor, Limit: 500})
		if err != nil {
			return res, fmt.Errorf("reconcile: list chunks for %s: %w", kbID, err)
		}
		res.ChunksSeen += len(chunks)

		if len(chunks) > 0 {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Content
			}
			vectors, err := r.embedBatch(ctx, texts)
			if err != nil {
				res.VectorFailures += len(chunks)
				r.logf("reconcile embed batch failed", "kb_id", kbID, "error", err)
			} else {
				for i, c := range chunks {
					meta := map[string]any{"doc_id": c.DocID, "chunk_index": c.Index}
					if err := r.Vectors.Upsert(ctx, collection, c.VectorID, vectors[i], meta); err != nil {
						res.VectorFailures++
						r.logf("reconcile upsert failed", "kb_id", kbID, "chunk_id", c.ID, "error", err)
						continue
					}
					res.ChunksReembed++
				}
			}
		}

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	return res, nil
}

func (r *Reconciler) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if r.Resilience == nil {
		return r.Embedder.EmbedBatch(ctx, texts)
	}
	return resilience.Execute(ctx, r.Resilience, embedServiceKey, func(ctx context.Context) ([][]float32, error) {
		return r.Embedder.EmbedBatch(ctx, texts)
	})
}

func (r *Reconciler) logf(msg string, args ...any) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn(msg, args...)
}
