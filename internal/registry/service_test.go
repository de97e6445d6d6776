package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbserve/retrieval-core/internal/bm25"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/vectorstore"
)

// fakeEmbedder is a minimal embedding.Provider that records Close calls.
type fakeEmbedder struct {
	closed bool
	closeErr error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (f *fakeEmbedder) Dimension() int    { return 1 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error {
	f.closed = true
	return f.closeErr
}

// fakeVectorStore is a minimal vectorstore.Store that records Close calls.
type fakeVectorStore struct {
	closed   bool
	closeErr error
}

func (v *fakeVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	return nil
}
func (v *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorstore.Result, error) {
	return nil, nil
}
func (v *fakeVectorStore) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]vectorstore.Result, error) {
	return nil, nil
}
func (v *fakeVectorStore) Delete(ctx context.Context, collection, id string) error { return nil }
func (v *fakeVectorStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return nil
}
func (v *fakeVectorStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}
func (v *fakeVectorStore) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (v *fakeVectorStore) Name() string                                                 { return "fake" }
func (v *fakeVectorStore) Close() error {
	v.closed = true
	return v.closeErr
}

func newTestRegistry(t *testing.T) (*ServiceRegistry, *fakeEmbedder, *fakeVectorStore) {
	t.Helper()
	mgr, err := bm25.NewManager(t.TempDir())
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}

	return &ServiceRegistry{
		started:    true,
		Resilience: resilience.NewRegistry(resilience.DefaultBreakerConfig(), resilience.DefaultRetryConfig(), 0),
		BM25:       mgr,
		Embedder:   embedder,
		Vectors:    vectors,
	}, embedder, vectors
}

func TestServiceRegistry_ShutdownClosesEveryOwnedResource(t *testing.T) {
	s, embedder, vectors := newTestRegistry(t)

	require.NoError(t, s.Shutdown(context.Background()))
	require.True(t, embedder.closed)
	require.True(t, vectors.closed)
}

func TestServiceRegistry_ShutdownIsIdempotent(t *testing.T) {
	s, embedder, _ := newTestRegistry(t)

	require.NoError(t, s.Shutdown(context.Background()))
	embedder.closed = false // prove the second call is a no-op, not a silent re-run
	require.NoError(t, s.Shutdown(context.Background()))
	require.False(t, embedder.closed)
}

func TestServiceRegistry_ShutdownAggregatesFirstErrorButClosesTheRest(t *testing.T) {
	s, embedder, vectors := newTestRegistry(t)
	vectors.closeErr = errors.New("vector store close failed")

	err := s.Shutdown(context.Background())
	require.ErrorContains(t, err, "vector store close failed")
	require.True(t, embedder.closed, "embedder must still be closed after an earlier resource's Close failed")
}

func TestServiceRegistry_StatusReportsCircuitsAndBM25Stats(t *testing.T) {
	s, _, _ := newTestRegistry(t)
	_, err := s.BM25.GetOrBuild(context.Background(), "kb1", emptyChunkSource{})
	require.NoError(t, err)

	status := s.Status()
	require.Contains(t, status.BM25, "kb1")
}

type emptyChunkSource struct{}

func (emptyChunkSource) ListChunks(ctx context.Context, kbID string) ([]bm25.ChunkRecord, error) {
	return nil, nil
}
