package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/tokencount"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a fixed vector per distinct text so cosine
// similarity is deterministic and easy to reason about in tests.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vectors[text], f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

func newRegistry() *resilience.Registry {
	return resilience.NewRegistry(
		resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		resilience.RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond},
		time.Second,
	)
}

func TestAttribute_AssignsRelevanceByCosineSimilarity(t *testing.T) {
	answer := "refunds are processed within five business days"
	hitContent := "our refund policy processes refunds within five business days."
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		answer:     {1, 0, 0},
		hitContent: {1, 0, 0},
	}}
	a := New(embedder, newRegistry())

	hits := []model.SearchHit{{ChunkID: "c1", DocID: "d1", Content: hitContent, FusedScore: 0.7}}
	result, err := a.Attribute(context.Background(), "how fast are refunds", answer, hits)

	require.NoError(t, err)
	require.Len(t, result.References, 1)
	require.InDelta(t, 1.0, result.References[0].Relevance, 1e-6)
	require.InDelta(t, 1.0, result.Confidence, 1e-6)
	require.NotEmpty(t, result.References[0].Citation)
	require.False(t, result.Degraded)
}

func TestAttribute_ConfidenceExcludesBelowThresholdHits(t *testing.T) {
	answer := "answer text"
	relevant := "closely related content"
	irrelevant := "totally unrelated content"
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		answer:     {1, 0, 0},
		relevant:   {1, 0, 0},
		irrelevant: {0, 1, 0},
	}}
	a := New(embedder, newRegistry())

	hits := []model.SearchHit{
		{ChunkID: "c1", Content: relevant, FusedScore: 0.8},
		{ChunkID: "c2", Content: irrelevant, FusedScore: 0.3},
	}
	result, err := a.Attribute(context.Background(), "query", answer, hits)

	require.NoError(t, err)
	require.InDelta(t, 1.0, result.Confidence, 1e-6)
}

func TestAttribute_DegradesWhenEmbeddingCircuitOpen(t *testing.T) {
	reg := newRegistry()
	reg.ForceOpen("embedding")
	embedder := &fakeEmbedder{vectors: map[string][]float32{}}
	a := New(embedder, reg)

	hits := []model.SearchHit{{ChunkID: "c1", Content: "some content", FusedScore: 0.6}}
	result, err := a.Attribute(context.Background(), "q", "answer", hits)

	require.NoError(t, err)
	require.True(t, result.Degraded)
	require.Equal(t, 0.0, result.Confidence)
	require.Equal(t, 0.6, result.References[0].Relevance)
}

func TestAttribute_EmptyHitsReturnsEmptyResult(t *testing.T) {
	a := New(&fakeEmbedder{}, newRegistry())
	result, err := a.Attribute(context.Background(), "q", "a", nil)
	require.NoError(t, err)
	require.Empty(t, result.References)
}

func TestCompress_SelectsRelevantSentencesWithinBudget(t *testing.T) {
	query := "refund timeline"
	hitA := "Refunds are processed within five business days. Shipping takes two weeks. Contact support for help."
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		query: {1, 0, 0},
		"Refunds are processed within five business days.": {1, 0, 0},
		"Shipping takes two weeks.":                         {0, 1, 0},
		"Contact support for help.":                         {0, 1, 0},
	}}
	a := New(embedder, newRegistry())
	counter, err := tokencount.NewCounter("gpt-4o-mini")
	require.NoError(t, err)

	hits := []model.SearchHit{{ChunkID: "c1", Content: hitA, FusedScore: 0.9}}
	result, err := a.Compress(context.Background(), hits, query, 200, counter)

	require.NoError(t, err)
	require.False(t, result.Degraded)
	require.Len(t, result.Excerpts, 1)
	require.Contains(t, result.Excerpts[0].Text, "Refunds are processed")
	require.NotContains(t, result.Excerpts[0].Text, "Shipping takes two weeks")
	require.Greater(t, result.OriginalTokens, result.CompressedTokens)
}

func TestCompress_DegradesToTruncationWhenEmbeddingCircuitOpen(t *testing.T) {
	reg := newRegistry()
	reg.ForceOpen("embedding")
	a := New(&fakeEmbedder{}, reg)
	counter, err := tokencount.NewCounter("gpt-4o-mini")
	require.NoError(t, err)

	hits := []model.SearchHit{{ChunkID: "c1", Content: "a reasonably long piece of content about refunds and shipping", FusedScore: 0.5}}
	result, err := a.Compress(context.Background(), hits, "q", 5, counter)

	require.NoError(t, err)
	require.True(t, result.Degraded)
	require.LessOrEqual(t, result.CompressedTokens, 5)
}

func TestCompress_EmptyHitsReturnsEmptyResult(t *testing.T) {
	a := New(&fakeEmbedder{}, newRegistry())
	counter, err := tokencount.NewCounter("gpt-4o-mini")
	require.NoError(t, err)

	result, err := a.Compress(context.Background(), nil, "q", 100, counter)
	require.NoError(t, err)
	require.Empty(t, result.Excerpts)
}
