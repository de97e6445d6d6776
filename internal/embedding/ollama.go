package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ollamaEmbedMu serializes every Ollama embedding call across providers:
// Ollama's llama runner aborts when it receives concurrent embedding
// requests on the same model.
var ollamaEmbedMu sync.Mutex

// OllamaConfig configures the Ollama embeddings provider. There is no
// third-party Go client for Ollama's HTTP API in the example corpus, so
// this talks to it directly over net/http.
type OllamaConfig struct {
	Host      string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OllamaProvider implements Provider against a local or remote Ollama
// instance's /api/embeddings endpoint.
type OllamaProvider struct {
	client    *http.Client
	host      string
	model     string
	dimension int
}

// NewOllamaProvider builds a provider bound to cfg, defaulting host,
// model, and dimension when unset.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	host := cfg.Host
	if host == "" {
		host = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 768
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OllamaProvider{
		client:    &http.Client{Timeout: timeout},
		host:      host,
		model:     model,
		dimension: dimension,
	}
}

func (p *OllamaProvider) Dimension() int    { return p.dimension }
func (p *OllamaProvider) ModelName() string { return p.model }
func (p *OllamaProvider) Close() error      { return nil }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: ollama returned status %d: %s", resp.StatusCode, respBody)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode ollama response: %w", err)
	}
	return out.Embedding, nil
}

// EmbedBatch calls Embed sequentially: Ollama's embedding endpoint accepts
// one prompt per request and concurrent calls are serialized anyway.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch item %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
