package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kbserve/retrieval-core/internal/model"
)

// PgVectorConfig configures the Postgres+pgvector store.
type PgVectorConfig struct {
	DSN       string
	MaxConns  int
	Dimension int
}

// PgVectorStore implements Store on a single Postgres table shared across
// every knowledge base, namespaced by a collection column; this keeps one
// ivfflat index serving all tenants instead of one index per KB.
type PgVectorStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPgVectorStore connects to Postgres and ensures the schema exists.
func NewPgVectorStore(ctx context.Context, cfg PgVectorConfig) (*PgVectorStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect: %w", err)
	}

	store := &PgVectorStore{pool: pool, dimension: cfg.Dimension}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PgVectorStore) Name() string { return "pgvector" }

func (s *PgVectorStore) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS retrieval_chunks (
	id TEXT NOT NULL,
	collection TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%d) NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS retrieval_chunks_collection_idx ON retrieval_chunks (collection);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'retrieval_chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX retrieval_chunks_embedding_idx ON retrieval_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`, s.dimension)

	_, err := s.pool.Exec(ctx, stmt)
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// ivfflat needs rows to train on; ignore and rely on a sequential
		// scan until there's enough data, matching the table's still-valid
		// correctness without the index.
		return nil
	}
	return err
}

func (s *PgVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("vectorstore: %w: expected %d, got %d", model.ErrDimensionMismatch, s.dimension, len(vector))
	}
	content, _ := metadata["content"].(string)
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO retrieval_chunks (id, collection, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (collection, id) DO UPDATE SET
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding
`, id, collection, content, metaJSON, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return s.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (s *PgVectorStore) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	args := []any{pgvector.NewVector(vector), collection, topK}
	where := "collection = $2"
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: marshal filter: %w", err)
		}
		where += " AND metadata @> $4"
		args = append(args, filterJSON)
	}

	query := fmt.Sprintf(`
SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
FROM retrieval_chunks
WHERE %s
ORDER BY embedding <=> $1
LIMIT $3`, where)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &r.Score); err != nil {
			return nil, fmt.Errorf("vectorstore: scan result: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("vectorstore: unmarshal metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgVectorStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM retrieval_chunks WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("vectorstore: delete: %w", err)
	}
	return nil
}

func (s *PgVectorStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal filter: %w", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM retrieval_chunks WHERE collection = $1 AND metadata @> $2`, collection, filterJSON)
	if err != nil {
		return fmt.Errorf("vectorstore: delete by filter: %w", err)
	}
	return nil
}

// CreateCollection creates nothing: the shared table's schema already
// covers every collection, namespaced by the collection column. It only
// checks that dimension matches the table's.
func (s *PgVectorStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	if dimension != s.dimension {
		return fmt.Errorf("vectorstore: %w: expected %d, got %d", model.ErrDimensionMismatch, s.dimension, dimension)
	}
	return nil
}

func (s *PgVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM retrieval_chunks WHERE collection = $1`, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: delete collection: %w", err)
	}
	return nil
}

func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}
