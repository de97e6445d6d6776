package repository

import (
	"context"
	"fmt"

	"github.com/kbserve/retrieval-core/internal/bm25"
)

// BM25Source adapts a Repository to bm25.ChunkSource, paging through every
// chunk in a knowledge base to rebuild a missing or corrupt sparse index.
type BM25Source struct {
	Repo Repository
}

// ListChunks implements bm25.ChunkSource.
func (s BM25Source) ListChunks(ctx context.Context, kbID string) ([]bm25.ChunkRecord, error) {
	var out []bm25.ChunkRecord
	cursor := ""
	for {
		chunks, page, err := s.Repo.ListChunks(ctx, kbID, Pagination{After: cursor, Limit: 1000})
		if err != nil {
			return nil, fmt.Errorf("repository: bm25 source list chunks %s: %w", kbID, err)
		}
		for _, c := range chunks {
			out = append(out, bm25.ChunkRecord{ChunkID: c.ID, Content: c.Content})
		}
		if !page.HasMore {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
