package attribution

import (
	"context"

	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/tokencount"
)

// Excerpt is the compressed representation of one hit.
type Excerpt struct {
	ChunkID          string
	Text             string
	OriginalTokens   int
	CompressedTokens int
}

// CompressionResult is the output of Compress.
type CompressionResult struct {
	Excerpts         []Excerpt
	OriginalTokens   int
	CompressedTokens int
	Degraded         bool
}

// Compress greedily takes hits in the order given (callers pass them
// already sorted by final score) and, for each, extracts the sentences
// most relevant to query up to a per-hit token cap of
// maxTokens/len(hits), stopping before any hit that would push the
// running total over maxTokens. It falls back to plain truncation by
// token count when the embedding service is open-circuited.
func (a *Attributor) Compress(ctx context.Context, hits []model.SearchHit, query string, maxTokens int, counter *tokencount.Counter) (CompressionResult, error) {
	if len(hits) == 0 || maxTokens <= 0 {
		return CompressionResult{}, nil
	}

	if a.Resilience.IsOpen(embedServiceKey) || a.Embedder == nil {
		return a.truncateFallback(hits, maxTokens, counter), nil
	}

	texts := make([]string, 0, len(hits)*4+1)
	texts = append(texts, query)
	sentencesByHit := make([][]string, len(hits))
	offsets := make([]int, len(hits))
	for i, h := range hits {
		sentences := splitSentences(h.Content)
		if len(sentences) == 0 {
			sentences = []string{h.Content}
		}
		sentencesByHit[i] = sentences
		offsets[i] = len(texts)
		texts = append(texts, sentences...)
	}

	vectors, err := resilience.Execute(ctx, a.Resilience, embedServiceKey, func(ctx context.Context) ([][]float32, error) {
		return a.Embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return a.truncateFallback(hits, maxTokens, counter), nil
	}
	queryVec := vectors[0]

	perHitCap := maxTokens / len(hits)
	if perHitCap <= 0 {
		perHitCap = maxTokens
	}

	var excerpts []Excerpt
	var originalTotal, compressedTotal int
	for i, h := range hits {
		originalTokens := counter.Count(h.Content)
		originalTotal += originalTokens

		var kept []string
		hitTokens := 0
		for j, sentence := range sentencesByHit[i] {
			vec := vectors[offsets[i]+j]
			if cosineSimilarity(queryVec, vec) < compressionThreshold {
				continue
			}
			st := counter.Count(sentence)
			if hitTokens+st > perHitCap {
				break
			}
			kept = append(kept, sentence)
			hitTokens += st
		}

		if compressedTotal+hitTokens > maxTokens {
			break
		}

		text := joinSentences(kept)
		excerpts = append(excerpts, Excerpt{
			ChunkID:          h.ChunkID,
			Text:             text,
			OriginalTokens:   originalTokens,
			CompressedTokens: hitTokens,
		})
		compressedTotal += hitTokens
	}

	return CompressionResult{
		Excerpts:         excerpts,
		OriginalTokens:   originalTotal,
		CompressedTokens: compressedTotal,
	}, nil
}

// truncateFallback ignores relevance entirely and takes hits in order,
// truncating each to whatever is left of the budget after the hits before
// it (so an early long hit can use up the whole budget), by raw token
// count, used when the embedding service is unavailable.
func (a *Attributor) truncateFallback(hits []model.SearchHit, maxTokens int, counter *tokencount.Counter) CompressionResult {
	var excerpts []Excerpt
	var originalTotal, compressedTotal int
	remaining := maxTokens

	for _, h := range hits {
		originalTokens := counter.Count(h.Content)
		originalTotal += originalTokens
		if remaining <= 0 {
			continue
		}

		text, used := truncateToTokens(h.Content, remaining, counter)
		excerpts = append(excerpts, Excerpt{
			ChunkID:          h.ChunkID,
			Text:             text,
			OriginalTokens:   originalTokens,
			CompressedTokens: used,
		})
		compressedTotal += used
		remaining -= used
	}

	return CompressionResult{
		Excerpts:         excerpts,
		OriginalTokens:   originalTotal,
		CompressedTokens: compressedTotal,
		Degraded:         true,
	}
}

// truncateToTokens returns the longest prefix of text whose token count
// does not exceed budget, by binary-searching over rune count (tiktoken
// counts are not linear in rune count, so this approximates from above
// and re-measures).
func truncateToTokens(text string, budget int, counter *tokencount.Counter) (string, int) {
	runes := []rune(text)
	if counter.Count(text) <= budget {
		return text, counter.Count(text)
	}

	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	truncated := string(runes[:lo])
	return truncated, counter.Count(truncated)
}

func joinSentences(sentences []string) string {
	out := ""
	for i, s := range sentences {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
