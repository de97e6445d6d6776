// Package repository defines the persistence contract the retrieval system
// is built against (knowledge bases, documents, chunks) and a concrete
// Postgres implementation of it. Every other package that needs durable
// state — BM25's rebuild source, the retrieval engine's chunk hydration and
// KB activity check, reconciliation — depends on the Repository interface,
// never on PostgresRepository directly.
package repository

import (
	"context"

	"github.com/kbserve/retrieval-core/internal/model"
)

// Pagination is a keyset cursor over chunks ordered by chunk ID:
// After is the last chunk ID seen by the caller, empty for the first page.
type Pagination struct {
	After string
	Limit int
}

// Page describes whether more results follow the returned slice.
type Page struct {
	NextCursor string
	HasMore    bool
}

// Repository is the system of record for knowledge bases, documents, and
// chunks. Implementations must make InsertChunks and DeleteChunksByDoc
// atomic: a caller retrying after a partial failure must never observe a
// chunk indexed in the vector store without a corresponding repository row,
// or vice versa.
type Repository interface {
	// ListActiveKBs returns every knowledge base with Active set.
	ListActiveKBs(ctx context.Context) ([]model.KnowledgeBase, error)

	// GetKB returns the knowledge base by id, or ErrKBNotFound.
	GetKB(ctx context.Context, kbID string) (model.KnowledgeBase, error)

	// IsActive reports whether kbID is active, without fetching the full
	// row. Returns ErrKBNotFound if kbID does not exist; (false, nil)
	// means the kb exists but is inactive. Satisfies retrieval.KBChecker.
	IsActive(ctx context.Context, kbID string) (bool, error)

	// ListChunks pages through every chunk belonging to kbID, ordered by
	// chunk ID. Used by BM25 index rebuilds and reconciliation.
	ListChunks(ctx context.Context, kbID string, p Pagination) ([]model.Chunk, Page, error)

	// GetChunks resolves chunkIDs to their full records within kbID, in
	// no particular order. Chunks not found are silently omitted.
	// Satisfies retrieval.ChunkLookup.
	GetChunks(ctx context.Context, kbID string, chunkIDs []string) ([]model.Chunk, error)

	// GetDocument returns the document by id, or ErrDocumentNotFound.
	GetDocument(ctx context.Context, docID string) (model.Document, error)

	// UpdateDocumentStatus transitions a document's status, optionally
	// updating its chunk/token counts (nil leaves the stored value
	// unchanged). Callers are responsible for checking
	// DocumentStatus.CanTransitionTo before calling.
	UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, chunkCount, tokenCount *int) error

	// InsertChunks persists chunks transactionally and returns the
	// canonical vector_id assigned to each, in the same order as chunks.
	// Callers pass these vector_ids, not Chunk.ID, to the vector store.
	InsertChunks(ctx context.Context, chunks []model.Chunk) ([]string, error)

	// DeleteChunksByDoc removes every chunk belonging to docID
	// transactionally and returns their vector_ids, so the caller can
	// remove the same rows from the vector store and BM25 index.
	DeleteChunksByDoc(ctx context.Context, docID string) ([]string, error)
}
