package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbserve/retrieval-core/internal/bm25"
	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/kbserve/retrieval-core/internal/repository"
	"github.com/kbserve/retrieval-core/internal/vectorstore"
)

// fakeRepo is an in-memory repository.Repository covering only the methods
// ReconcileKB/ReconcileAll exercise.
type fakeRepo struct {
	repository.Repository
	kbs    []model.KnowledgeBase
	chunks map[string][]model.Chunk
}

func (f *fakeRepo) ListActiveKBs(ctx context.Context) ([]model.KnowledgeBase, error) {
	return f.kbs, nil
}

func (f *fakeRepo) ListChunks(ctx context.Context, kbID string, p repository.Pagination) ([]model.Chunk, repository.Page, error) {
	all := f.chunks[kbID]
	start := 0
	if p.After != "" {
		for i, c := range all {
			if c.ID > p.After {
				start = i
				break
			}
			start = i + 1
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]
	if end < len(all) {
		return page, repository.Page{NextCursor: page[len(page)-1].ID, HasMore: true}, nil
	}
	return page, repository.Page{}, nil
}

// fakeEmbedder returns a deterministic one-dimensional vector per text so
// assertions can check which chunks actually got embedded.
type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{float32(len(text))}, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

// fakeVectorStoreAdapter records every Upsert call's collection and id.
type fakeVectorStoreAdapter struct {
	upserts []string // "collection/id"
}

func (v *fakeVectorStoreAdapter) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	v.upserts = append(v.upserts, collection+"/"+id)
	return nil
}

func (v *fakeVectorStoreAdapter) Search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (v *fakeVectorStoreAdapter) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]vectorstore.Result, error) {
	return nil, nil
}

func (v *fakeVectorStoreAdapter) Delete(ctx context.Context, collection, id string) error { return nil }

func (v *fakeVectorStoreAdapter) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return nil
}

func (v *fakeVectorStoreAdapter) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}

func (v *fakeVectorStoreAdapter) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (v *fakeVectorStoreAdapter) Close() error                                                  { return nil }
func (v *fakeVectorStoreAdapter) Name() string                                                  { return "fake" }

func newManager(t *testing.T) *bm25.Manager {
	t.Helper()
	m, err := bm25.NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestReconcileKB_RebuildsBM25AndReembedsChunks(t *testing.T) {
	repo := &fakeRepo{
		chunks: map[string][]model.Chunk{
			"kb1": {
				{ID: "c1", KBID: "kb1", Content: "alpha content", VectorID: "v1"},
				{ID: "c2", KBID: "kb1", Content: "beta content", VectorID: "v2"},
			},
		},
	}
	mgr := newManager(t)
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStoreAdapter{}

	r := &Reconciler{Repo: repo, BM25: mgr, Vectors: vectors, Embedder: embedder}

	res, err := r.ReconcileKB(context.Background(), "kb1")
	require.NoError(t, err)
	require.True(t, res.BM25Rebuilt)
	require.Equal(t, 2, res.ChunksSeen)
	require.Equal(t, 2, res.ChunksReembed)
	require.Equal(t, 0, res.VectorFailures)
	require.ElementsMatch(t, []string{"kb_kb1/v1", "kb_kb1/v2"}, vectors.upserts)

	hits, err := mgr.Search("kb1", "alpha", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestReconcileKB_SkipsVectorLegWithoutEmbedder(t *testing.T) {
	repo := &fakeRepo{chunks: map[string][]model.Chunk{"kb1": {{ID: "c1", KBID: "kb1", Content: "x"}}}}
	mgr := newManager(t)

	r := &Reconciler{Repo: repo, BM25: mgr}

	res, err := r.ReconcileKB(context.Background(), "kb1")
	require.NoError(t, err)
	require.True(t, res.BM25Rebuilt)
	require.Zero(t, res.ChunksSeen)
}

func TestReconcileAll_ContinuesPastOneKBFailure(t *testing.T) {
	repo := &fakeRepo{
		kbs: []model.KnowledgeBase{{ID: "kb1"}, {ID: "kb2"}},
		chunks: map[string][]model.Chunk{
			"kb1": {{ID: "c1", KBID: "kb1", Content: "x", VectorID: "v1"}},
			"kb2": {{ID: "c1", KBID: "kb2", Content: "y", VectorID: "v1"}},
		},
	}
	mgr := newManager(t)
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStoreAdapter{}

	r := &Reconciler{Repo: repo, BM25: mgr, Vectors: vectors, Embedder: embedder}

	results, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.ElementsMatch(t, []string{"kb_kb1/v1", "kb_kb2/v1"}, vectors.upserts)
}
