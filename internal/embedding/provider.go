// Package embedding wires the external Embedding contract to concrete
// providers, behind an LRU cache and the resilience layer.
package embedding

import "context"

// Provider generates vector embeddings for text. Implementations must be
// safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}
