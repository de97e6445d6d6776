package embedding

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls     atomic.Int32
	dimension int
}

func (p *fakeProvider) Dimension() int    { return p.dimension }
func (p *fakeProvider) ModelName() string { return "fake" }
func (p *fakeProvider) Close() error      { return nil }

func (p *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	vec := make([]float32, p.dimension)
	for i := range vec {
		vec[i] = float32(len(text))
	}
	return vec, nil
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestCachingProvider_CachesRepeatedText(t *testing.T) {
	inner := &fakeProvider{dimension: 4}
	cached, err := NewCachingProvider(inner, 100)
	require.NoError(t, err)

	v1, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, int32(1), inner.calls.Load(), "second call for the same text must be served from cache")
}

func TestCachingProvider_EmbedBatchSplitsHitsAndMisses(t *testing.T) {
	inner := &fakeProvider{dimension: 4}
	cached, err := NewCachingProvider(inner, 100)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	inner.calls.Store(0)

	vecs, err := cached.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, int32(1), inner.calls.Load(), "only the uncached text should reach the inner provider")
}

func TestCachingProvider_DifferentTextsNotConflated(t *testing.T) {
	inner := &fakeProvider{dimension: 4}
	cached, err := NewCachingProvider(inner, 100)
	require.NoError(t, err)

	v1, err := cached.Embed(context.Background(), "short")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "a much longer string of text")
	require.NoError(t, err)

	require.NotEqual(t, v1, v2)
}
