package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbserve/retrieval-core/internal/model"
)

// PostgresRepository persists knowledge bases, documents, and chunks in
// Postgres. It owns only chunk/document metadata; vector similarity search
// lives in the configured vectorstore.Store, addressed by the vector_id
// this repository assigns on insert.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to Postgres and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, dsn string, maxConns int) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the underlying connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	const statements = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL,
	chunk_size      INT NOT NULL,
	chunk_overlap   INT NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	kb_id       TEXT NOT NULL REFERENCES knowledge_bases (id),
	folder_id   TEXT NOT NULL DEFAULT '',
	filename    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	chunk_count INT NOT NULL DEFAULT 0,
	token_count INT NOT NULL DEFAULT 0,
	version     INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS chunks (
	id            TEXT PRIMARY KEY,
	doc_id        TEXT NOT NULL REFERENCES documents (id),
	kb_id         TEXT NOT NULL REFERENCES knowledge_bases (id),
	chunk_index   INT NOT NULL,
	content       TEXT NOT NULL,
	token_count   INT NOT NULL DEFAULT 0,
	page          INT NOT NULL DEFAULT 0,
	section_title TEXT NOT NULL DEFAULT '',
	vector_id     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS chunks_kb_order_idx ON chunks (kb_id, doc_id, chunk_index);
CREATE INDEX IF NOT EXISTS chunks_doc_idx ON chunks (doc_id);
`
	_, err := r.pool.Exec(ctx, statements)
	if err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActiveKBs(ctx context.Context) ([]model.KnowledgeBase, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, name, description, embedding_model, chunk_size, chunk_overlap, active
FROM knowledge_bases WHERE active = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repository: list active kbs: %w", err)
	}
	defer rows.Close()

	var kbs []model.KnowledgeBase
	for rows.Next() {
		var kb model.KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.EmbeddingModel, &kb.ChunkSize, &kb.ChunkOverlap, &kb.Active); err != nil {
			return nil, fmt.Errorf("repository: scan kb: %w", err)
		}
		kbs = append(kbs, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate kbs: %w", err)
	}
	return kbs, nil
}

func (r *PostgresRepository) GetKB(ctx context.Context, kbID string) (model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	err := r.pool.QueryRow(ctx, `
SELECT id, name, description, embedding_model, chunk_size, chunk_overlap, active
FROM knowledge_bases WHERE id = $1`, kbID).
		Scan(&kb.ID, &kb.Name, &kb.Description, &kb.EmbeddingModel, &kb.ChunkSize, &kb.ChunkOverlap, &kb.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.KnowledgeBase{}, model.ErrKBNotFound
	}
	if err != nil {
		return model.KnowledgeBase{}, fmt.Errorf("repository: get kb %s: %w", kbID, err)
	}
	return kb, nil
}

func (r *PostgresRepository) IsActive(ctx context.Context, kbID string) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT active FROM knowledge_bases WHERE id = $1`, kbID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, model.ErrKBNotFound
	}
	if err != nil {
		return false, fmt.Errorf("repository: is active %s: %w", kbID, err)
	}
	return active, nil
}

func (r *PostgresRepository) ListChunks(ctx context.Context, kbID string, p Pagination) ([]model.Chunk, Page, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, doc_id, kb_id, chunk_index, content, token_count, page, section_title, vector_id
FROM chunks
WHERE kb_id = $1 AND id > $2
ORDER BY id
LIMIT $3`, kbID, p.After, limit+1)
	if err != nil {
		return nil, Page{}, fmt.Errorf("repository: list chunks %s: %w", kbID, err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.KBID, &c.Index, &c.Content, &c.TokenCount, &c.Page, &c.SectionTitle, &c.VectorID); err != nil {
			return nil, Page{}, fmt.Errorf("repository: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, fmt.Errorf("repository: iterate chunks: %w", err)
	}

	if len(chunks) > limit {
		chunks = chunks[:limit]
		return chunks, Page{NextCursor: chunks[limit-1].ID, HasMore: true}, nil
	}
	return chunks, Page{}, nil
}

func (r *PostgresRepository) GetChunks(ctx context.Context, kbID string, chunkIDs []string) ([]model.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, doc_id, kb_id, chunk_index, content, token_count, page, section_title, vector_id
FROM chunks WHERE kb_id = $1 AND id = ANY($2)`, kbID, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: get chunks %s: %w", kbID, err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.KBID, &c.Index, &c.Content, &c.TokenCount, &c.Page, &c.SectionTitle, &c.VectorID); err != nil {
			return nil, fmt.Errorf("repository: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepository) GetDocument(ctx context.Context, docID string) (model.Document, error) {
	var d model.Document
	err := r.pool.QueryRow(ctx, `
SELECT id, kb_id, folder_id, filename, status, chunk_count, token_count, version
FROM documents WHERE id = $1`, docID).
		Scan(&d.ID, &d.KBID, &d.FolderID, &d.Filename, &d.Status, &d.ChunkCount, &d.TokenCount, &d.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, model.ErrDocumentNotFound
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("repository: get document %s: %w", docID, err)
	}
	return d, nil
}

func (r *PostgresRepository) UpdateDocumentStatus(ctx context.Context, docID string, status model.DocumentStatus, chunkCount, tokenCount *int) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE documents
SET status = $2,
    chunk_count = COALESCE($3, chunk_count),
    token_count = COALESCE($4, token_count)
WHERE id = $1`, docID, status, chunkCount, tokenCount)
	if err != nil {
		return fmt.Errorf("repository: update document status %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertChunks(ctx context.Context, chunks []model.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: begin insert chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	vectorIDs := make([]string, len(chunks))
	for i, c := range chunks {
		vectorID := uuid.NewString()
		vectorIDs[i] = vectorID
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks (id, doc_id, kb_id, chunk_index, content, token_count, page, section_title, vector_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.DocID, c.KBID, c.Index, c.Content, c.TokenCount, c.Page, c.SectionTitle, vectorID); err != nil {
			return nil, fmt.Errorf("repository: insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: commit insert chunks: %w", err)
	}
	return vectorIDs, nil
}

func (r *PostgresRepository) DeleteChunksByDoc(ctx context.Context, docID string) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: begin delete chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT vector_id FROM chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return nil, fmt.Errorf("repository: select chunks for delete %s: %w", docID, err)
	}
	var vectorIDs []string
	for rows.Next() {
		var vid string
		if err := rows.Scan(&vid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("repository: scan vector id: %w", err)
		}
		vectorIDs = append(vectorIDs, vid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate chunks for delete: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID); err != nil {
		return nil, fmt.Errorf("repository: delete chunks %s: %w", docID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository: commit delete chunks: %w", err)
	}
	return vectorIDs, nil
}
