// Package llmprovider wires the external LLM contract (generate,
// streamed generate) to concrete chat-completion backends, behind the
// resilience layer's circuit breaker, retry, and provider failover.
package llmprovider

import "context"

// Request is a single-turn or system+user generation request. The
// rewriter and reranker both reach providers with this shape, through
// GeneratorAdapter.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int64
}

// StreamChunk is one incremental piece of a streamed generation.
type StreamChunk struct {
	Text string
	Done bool
}

// Provider is a chat-completion backend.
type Provider interface {
	Key() string
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request, onChunk func(StreamChunk) error) error
}
