package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	response string
	err      error
}

func (g *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.response, g.err
}

func hits() []model.SearchHit {
	return []model.SearchHit{
		{ChunkID: "a", Content: "alpha content", FusedScore: 0.5},
		{ChunkID: "b", Content: "beta content", FusedScore: 0.9},
		{ChunkID: "c", Content: "gamma content", FusedScore: 0.1},
	}
}

func TestLLMReranker_ReordersByLLMRanking(t *testing.T) {
	gen := &fakeGenerator{response: `["c", "a", "b"]`}
	r := NewLLMReranker(gen, 10)

	out, err := r.Rerank(context.Background(), "query", hits(), 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "c", out[0].ChunkID)
	require.Equal(t, "a", out[1].ChunkID)
	require.Equal(t, "b", out[2].ChunkID)
	require.NotNil(t, out[0].RerankScore)
	require.Equal(t, 1.0, *out[0].RerankScore)
}

func TestLLMReranker_FallsBackToOriginalOrderOnLLMError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider unavailable")}
	r := NewLLMReranker(gen, 10)

	out, err := r.Rerank(context.Background(), "query", hits(), 2)
	require.Error(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].ChunkID)
}

func TestLLMReranker_FallsBackOnUnparseableResponse(t *testing.T) {
	gen := &fakeGenerator{response: "not json at all"}
	r := NewLLMReranker(gen, 10)

	out, err := r.Rerank(context.Background(), "query", hits(), 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestLLMReranker_UnknownIDsAreIgnoredKnownIDsAppended(t *testing.T) {
	gen := &fakeGenerator{response: `["z", "b"]`}
	r := NewLLMReranker(gen, 10)

	out, err := r.Rerank(context.Background(), "query", hits(), 10)
	require.NoError(t, err)
	require.Equal(t, "b", out[0].ChunkID)
	ids := []string{out[1].ChunkID, out[2].ChunkID}
	require.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestNoOpReranker_TruncatesWithoutRescoring(t *testing.T) {
	r := NewNoOpReranker()
	out, err := r.Rerank(context.Background(), "query", hits(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Nil(t, out[0].RerankScore)
}
