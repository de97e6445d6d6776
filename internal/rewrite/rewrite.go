// Package rewrite implements the Query Rewriter: it turns a follow-up
// query plus recent conversation history into a self-contained query
// and a small set of paraphrastic variants, using the default LLM
// provider through the resilience layer.
package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbserve/retrieval-core/internal/model"
)

const maxRewrittenLen = 512

// Config controls rewrite behavior. A zero MaxHistoryTurns or
// MaxVariations is replaced by DefaultConfig's value; EnableQueryExpansion
// is used as given.
type Config struct {
	MaxHistoryTurns      int
	EnableQueryExpansion bool
	MaxVariations        int
}

// DefaultConfig mirrors the spec's defaults: K=5, expansion on, 3 variants.
func DefaultConfig() Config {
	return Config{MaxHistoryTurns: 5, EnableQueryExpansion: true, MaxVariations: 3}
}

func (c Config) withDefaults() Config {
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 5
	}
	if c.MaxVariations <= 0 {
		c.MaxVariations = 3
	}
	return c
}

// Generator is the minimal LLM call surface the rewriter needs.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Rewriter transforms a query and its conversation history into a
// RewriteResult. Rewrite is pure modulo the underlying resilient LLM
// call: it holds no mutable state of its own.
type Rewriter struct {
	llm Generator
}

// New builds a Rewriter bound to llm. llm may be nil; Rewrite then
// behaves as if every call failed (returns the original query
// unrewritten with confidence 0), which is the same degradation path
// an LLM error takes.
func New(llm Generator) *Rewriter {
	return &Rewriter{llm: llm}
}

type rewriteResponse struct {
	Rewritten  string   `json:"rewritten"`
	Variants   []string `json:"variants"`
	Confidence float64  `json:"confidence"`
}

// Rewrite produces a RewriteResult for query given up to cfg.MaxHistoryTurns
// of the most recent history. With empty history it returns the query
// unchanged with full confidence, without calling the LLM.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []model.ConversationTurn, cfg Config) model.RewriteResult {
	if len(history) == 0 {
		return model.RewriteResult{Original: query, Rewritten: query, Variants: nil, Confidence: 1.0}
	}

	cfg = cfg.withDefaults()
	recent := history
	if len(recent) > cfg.MaxHistoryTurns {
		recent = recent[len(recent)-cfg.MaxHistoryTurns:]
	}

	if r.llm == nil {
		return degraded(query)
	}

	prompt := buildPrompt(query, recent, cfg)
	raw, err := r.llm.Generate(ctx, rewriteSystemPrompt, prompt)
	if err != nil {
		return degraded(query)
	}

	parsed, ok := parseResponse(raw)
	if !ok {
		return degraded(query)
	}

	rewritten := parsed.Rewritten
	if rewritten == "" {
		rewritten = query
	}
	if len(rewritten) > maxRewrittenLen {
		rewritten = rewritten[:maxRewrittenLen]
	}

	variants := parsed.Variants
	if !cfg.EnableQueryExpansion {
		variants = nil
	}
	variants = dedupVariants(rewritten, variants, cfg.MaxVariations)

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return model.RewriteResult{
		Original:   query,
		Rewritten:  rewritten,
		Variants:   variants,
		Confidence: confidence,
	}
}

func degraded(query string) model.RewriteResult {
	return model.RewriteResult{Original: query, Rewritten: query, Variants: nil, Confidence: 0.0}
}

const rewriteSystemPrompt = `You rewrite follow-up search queries so they are self-contained.
Resolve pronouns and implicit references using named entities from the
conversation history. Respond with a single JSON object of the form
{"rewritten": string, "variants": [string, ...], "confidence": number}
and nothing else. "confidence" reflects how confident you are that
"rewritten" captures the user's intent, between 0 and 1.`

func buildPrompt(query string, history []model.ConversationTurn, cfg Config) string {
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, sanitize(turn.Content))
	}
	fmt.Fprintf(&b, "\nNew query: %q\n", sanitize(query))
	fmt.Fprintf(&b, "Produce a primary rewrite and up to %d paraphrased variants.\n", cfg.MaxVariations)
	return b.String()
}

// sanitize strips the same prompt-injection delimiters the reranker
// guards against, since rewrite prompts embed untrusted conversation
// content too.
func sanitize(s string) string {
	replacer := strings.NewReplacer(
		"SYSTEM:", "",
		"ASSISTANT:", "",
		"\"\"\"", "",
		"```", "",
	)
	return strings.TrimSpace(replacer.Replace(s))
}

// parseResponse extracts a rewriteResponse from raw, tolerating a
// response wrapped in a code fence or surrounded by prose.
func parseResponse(raw string) (rewriteResponse, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return rewriteResponse{}, false
	}

	var resp rewriteResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return rewriteResponse{}, false
	}
	return resp, true
}

// dedupVariants removes variants equal to rewritten or near-duplicates
// of it (normalized edit-distance similarity >= 0.95), then truncates
// to max.
func dedupVariants(rewritten string, variants []string, max int) []string {
	if len(variants) == 0 {
		return nil
	}
	rewrittenLower := strings.ToLower(strings.TrimSpace(rewritten))

	out := make([]string, 0, max)
	seen := map[string]bool{rewrittenLower: true}
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		vLower := strings.ToLower(v)
		if seen[vLower] {
			continue
		}
		if similarity(rewrittenLower, vLower) >= 0.95 {
			continue
		}
		seen[vLower] = true
		out = append(out, v)
		if len(out) >= max {
			break
		}
	}
	return out
}

// similarity returns a normalized 1 - (levenshtein distance / max len)
// score in [0,1], where 1 means identical.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// levenshteinDistance calculates the Levenshtein distance between two
// strings.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}

	return matrix[len(s1)][len(s2)]
}
