package llmprovider

import "context"

// GeneratorAdapter narrows a FailoverProvider to the minimal
// (systemPrompt, userPrompt) -> text call surface that the query
// rewriter and reranker depend on, so neither needs to know about
// provider keys or failover.
type GeneratorAdapter struct {
	Failover     *FailoverProvider
	PreferredKey string
	Temperature  float64
	MaxTokens    int64
}

// Generate implements the rewrite.Generator and rerank.Generator
// interfaces.
func (a GeneratorAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	_, text, err := a.Failover.Generate(ctx, a.PreferredKey, Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  a.Temperature,
		MaxTokens:    a.MaxTokens,
	})
	return text, err
}
