// Package vectorstore wires the external VectorStore contract to concrete
// backends: an embedded chromem-go store for zero-config deployments and
// a Qdrant client for production-scale multi-tenant collections.
package vectorstore

import (
	"context"
	"strings"
)

// CollectionName returns the collection/index name a knowledge base is
// stored under: kb_<kb_id_sanitized>, with '-' replaced by '_' since most
// backends reject hyphens in collection identifiers.
func CollectionName(kbID string) string {
	return "kb_" + strings.ReplaceAll(kbID, "-", "_")
}

// Result is one hit from a similarity search.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// Store is the vector similarity search contract every backend satisfies.
// Collections are namespaced per knowledge base so that a single store can
// serve many tenants.
type Store interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	CreateCollection(ctx context.Context, collection string, dimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Name() string
	Close() error
}
