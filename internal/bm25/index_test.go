package bm25

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex_SearchRanksMoreRelevantChunkHigher(t *testing.T) {
	idx := NewIndex("kb1")
	idx.Upsert("c1", "the go programming language channels goroutines concurrency")
	idx.Upsert("c2", "go go go concurrency concurrency patterns in go")
	idx.Upsert("c3", "a completely unrelated document about gardening")

	hits := idx.Search("go concurrency", 10)
	require.NotEmpty(t, hits)
	require.Equal(t, "c2", hits[0].ChunkID, "chunk with higher term frequency of query terms should rank first")

	for _, h := range hits {
		require.NotEqual(t, "c3", h.ChunkID)
	}
}

func TestIndex_UpsertReplacesPriorPostings(t *testing.T) {
	idx := NewIndex("kb1")
	idx.Upsert("c1", "alpha beta gamma")
	require.Equal(t, 1, idx.N())

	idx.Upsert("c1", "delta epsilon")
	hits := idx.Search("alpha", 10)
	require.Empty(t, hits, "re-upserting a chunk must drop its old postings")

	hits = idx.Search("delta", 10)
	require.Len(t, hits, 1)
	require.Equal(t, 1, idx.N())
}

func TestIndex_DeleteRemovesChunkFromAllPostings(t *testing.T) {
	idx := NewIndex("kb1")
	idx.Upsert("c1", "shared term unique1")
	idx.Upsert("c2", "shared term unique2")

	idx.Delete("c1")
	require.Equal(t, 1, idx.N())

	hits := idx.Search("shared", 10)
	require.Len(t, hits, 1)
	require.Equal(t, "c2", hits[0].ChunkID)
}

func TestIndex_SearchOnEmptyIndexReturnsNoHits(t *testing.T) {
	idx := NewIndex("kb1")
	require.Empty(t, idx.Search("anything", 10))
}

func TestIndex_SearchRespectsTopK(t *testing.T) {
	idx := NewIndex("kb1")
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		idx.Upsert(id, "common term "+id)
	}
	hits := idx.Search("common", 2)
	require.Len(t, hits, 2)
}
