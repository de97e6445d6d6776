package repository

import (
	"context"
	"os"
	"testing"

	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/stretchr/testify/require"
)

// getTestRepo connects to a real Postgres instance for integration tests.
// These are skipped by default since no database is available in unit runs.
func getTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping repository integration test")
	}
	repo, err := NewPostgresRepository(context.Background(), dsn, 4)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestPostgresRepository_InsertAndDeleteChunksRoundTrip(t *testing.T) {
	repo := getTestRepo(t)
	ctx := context.Background()

	_, err := repo.pool.Exec(ctx, `INSERT INTO knowledge_bases (id, name, embedding_model, chunk_size, chunk_overlap, active)
		VALUES ('kb-test', 'test kb', 'text-embedding-3-small', 512, 64, true)
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
	_, err = repo.pool.Exec(ctx, `INSERT INTO documents (id, kb_id, filename, status)
		VALUES ('doc-test', 'kb-test', 'test.txt', 'processing')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)

	chunks := []model.Chunk{
		{ID: "chunk-1", DocID: "doc-test", KBID: "kb-test", Index: 0, Content: "first chunk"},
		{ID: "chunk-2", DocID: "doc-test", KBID: "kb-test", Index: 1, Content: "second chunk"},
	}
	vectorIDs, err := repo.InsertChunks(ctx, chunks)
	require.NoError(t, err)
	require.Len(t, vectorIDs, 2)
	require.NotEqual(t, vectorIDs[0], vectorIDs[1])

	fetched, err := repo.GetChunks(ctx, "kb-test", []string{"chunk-1", "chunk-2"})
	require.NoError(t, err)
	require.Len(t, fetched, 2)

	deletedVectorIDs, err := repo.DeleteChunksByDoc(ctx, "doc-test")
	require.NoError(t, err)
	require.ElementsMatch(t, vectorIDs, deletedVectorIDs)

	remaining, err := repo.GetChunks(ctx, "kb-test", []string{"chunk-1", "chunk-2"})
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestPostgresRepository_GetKBNotFound(t *testing.T) {
	repo := getTestRepo(t)
	_, err := repo.GetKB(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, model.ErrKBNotFound)
}

func TestPostgresRepository_UpdateDocumentStatusOnMissingDocReturnsNotFound(t *testing.T) {
	repo := getTestRepo(t)
	err := repo.UpdateDocumentStatus(context.Background(), "does-not-exist", model.DocumentProcessing, nil, nil)
	require.ErrorIs(t, err, model.ErrDocumentNotFound)
}
