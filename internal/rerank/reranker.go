// Package rerank re-scores hybrid search hits by LLM-judged relevance, the
// final stage before results are attributed and returned to the caller.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kbserve/retrieval-core/internal/model"
)

// Generator is the minimal LLM call surface reranking needs; llmprovider's
// failover-wrapped providers satisfy it directly.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Reranker re-scores and reorders hits, returning at most topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []model.SearchHit, topK int) ([]model.SearchHit, error)
}

// maxRerankScore/minRerankScore/scoreStep define the position-based score
// assigned to each result in LLM rank order: 1st gets maxRerankScore, each
// subsequent position drops by scoreStep, floored at minRerankScore.
const (
	maxRerankScore = 1.0
	minRerankScore = 0.1
	scoreStep      = 0.05
)

// LLMReranker asks an LLM to rank a candidate set by relevance and maps
// the returned order back onto position-based scores.
type LLMReranker struct {
	llm        Generator
	maxResults int
}

// NewLLMReranker builds a reranker that sends at most maxResults
// candidates to the LLM per call (0 defaults to 20).
func NewLLMReranker(llm Generator, maxResults int) *LLMReranker {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &LLMReranker{llm: llm, maxResults: maxResults}
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, hits []model.SearchHit, topK int) ([]model.SearchHit, error) {
	if len(hits) == 0 {
		return hits, nil
	}

	candidates := hits
	if len(candidates) > r.maxResults {
		candidates = candidates[:r.maxResults]
	}

	prompt := buildPrompt(query, candidates)
	response, err := r.llm.Generate(ctx, rerankSystemPrompt, prompt)
	if err != nil {
		return truncate(hits, topK), fmt.Errorf("rerank: llm call failed: %w", err)
	}

	orderedIDs, err := parseRankedIDs(response)
	if err != nil || len(orderedIDs) == 0 {
		return truncate(hits, topK), nil
	}

	byID := make(map[string]model.SearchHit, len(candidates))
	for _, h := range candidates {
		byID[h.ChunkID] = h
	}

	seen := make(map[string]bool, len(orderedIDs))
	reranked := make([]model.SearchHit, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		hit, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		score := maxRerankScore - float64(i)*scoreStep
		if score < minRerankScore {
			score = minRerankScore
		}
		hit.RerankScore = &score
		reranked = append(reranked, hit)
	}

	for _, h := range candidates {
		if !seen[h.ChunkID] {
			reranked = append(reranked, h)
		}
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].FinalScore() > reranked[j].FinalScore()
	})

	return truncate(reranked, topK), nil
}

func truncate(hits []model.SearchHit, topK int) []model.SearchHit {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

const rerankSystemPrompt = "You are a search result reranking system. Score and rank results by " +
	"relevance to the query. Return a JSON array of result IDs ordered most-to-least relevant."

func buildPrompt(query string, hits []model.SearchHit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", sanitize(query))
	sb.WriteString("Search Results:\n\n")
	for i, h := range hits {
		content := h.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Fprintf(&sb, "Result %d (ID: %s):\n%s\n\n", i+1, h.ChunkID, sanitize(content))
	}
	sb.WriteString("Return a JSON array of result IDs sorted by relevance, most relevant first.\n")
	sb.WriteString(`Format: ["id1", "id2", ...]. Omit IDs that are not relevant.` + "\n")
	return sb.String()
}

func parseRankedIDs(response string) ([]string, error) {
	response = strings.TrimSpace(response)
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("rerank: no JSON array in response")
	}

	jsonStr := response[start : end+1]
	var ids []string
	if err := json.Unmarshal([]byte(jsonStr), &ids); err != nil {
		jsonStr = strings.ReplaceAll(jsonStr, "'", `"`)
		if err := json.Unmarshal([]byte(jsonStr), &ids); err != nil {
			return extractIDsManually(response), nil
		}
	}
	return ids, nil
}

// extractIDsManually is the last-resort fallback when the LLM's response
// isn't valid JSON: pull anything that looks like a quoted ID.
func extractIDsManually(response string) []string {
	var ids []string
	for _, line := range strings.Split(response, "\n") {
		if !strings.Contains(line, "\"") {
			continue
		}
		parts := strings.Split(line, "\"")
		for i := 1; i < len(parts); i += 2 {
			if parts[i] != "" {
				ids = append(ids, parts[i])
			}
		}
	}
	return ids
}

var injectionPatterns = []string{
	"SYSTEM:", "System:", "system:",
	"ASSISTANT:", "Assistant:", "assistant:",
	"USER:", "User:", "user:",
	"Ignore previous instructions", "ignore previous instructions",
	"Ignore all previous", "ignore all previous",
	"Disregard previous", "disregard previous",
	"---", "===", "***", "```",
}

// sanitize strips patterns commonly used to break out of the reranking
// prompt's structure before query/content text is embedded in it.
func sanitize(input string) string {
	for _, p := range injectionPatterns {
		input = strings.ReplaceAll(input, p, "")
	}
	return strings.TrimSpace(input)
}

// NoOpReranker truncates to topK without re-scoring, used when reranking
// is disabled in configuration.
type NoOpReranker struct{}

func NewNoOpReranker() *NoOpReranker { return &NoOpReranker{} }

func (r *NoOpReranker) Rerank(ctx context.Context, query string, hits []model.SearchHit, topK int) ([]model.SearchHit, error) {
	return truncate(hits, topK), nil
}
