// Package tokencount provides accurate per-model token counting, used
// by the attribution/compression stage to enforce a caller-supplied
// token budget and by ingestion to record each chunk's token count.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingCache is shared process-wide: building an encoding is
// expensive enough (loading its merge-rank table) that every Counter
// for the same model should reuse it.
var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Counter counts tokens the way a specific model's tokenizer would.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewCounter builds a Counter for model, falling back to cl100k_base
// when the model has no registered encoding (unknown or non-OpenAI
// model names, e.g. an Anthropic model used only for its rough token
// accounting).
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokencount: get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

// Count returns the number of tokens text would encode to.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return len(text) / 4
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Model returns the model name this counter was built for.
func (c *Counter) Model() string { return c.model }
