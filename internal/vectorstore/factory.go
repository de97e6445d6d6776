package vectorstore

import (
	"context"
	"fmt"
)

// BackendType identifies a concrete Store implementation.
type BackendType string

const (
	BackendChromem  BackendType = "chromem"
	BackendQdrant   BackendType = "qdrant"
	BackendPgVector BackendType = "pgvector"
)

// Config selects and configures one Store backend.
type Config struct {
	Type     BackendType
	Chromem  ChromemConfig
	Qdrant   QdrantConfig
	PgVector PgVectorConfig
}

// New constructs the Store named by cfg.Type.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", BackendChromem:
		return NewChromemStore(cfg.Chromem)
	case BackendQdrant:
		return NewQdrantStore(cfg.Qdrant)
	case BackendPgVector:
		return NewPgVectorStore(ctx, cfg.PgVector)
	default:
		return nil, fmt.Errorf("vectorstore: unknown backend type %q", cfg.Type)
	}
}
