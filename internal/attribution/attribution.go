// Package attribution aligns a generated answer with the retrieval hits
// that support it (citation alignment by embedding cosine similarity)
// and compresses hits to a token budget by extractive sentence
// selection, per spec §4.4. Both degrade gracefully when the embedding
// service is open-circuited.
package attribution

import (
	"context"
	"math"

	"github.com/kbserve/retrieval-core/internal/embedding"
	"github.com/kbserve/retrieval-core/internal/model"
	"github.com/kbserve/retrieval-core/internal/resilience"
)

const (
	relevanceThreshold   = 0.4
	compressionThreshold = 0.35
	embedServiceKey      = "embedding"
)

// Attributor computes SourceReferences and compressed excerpts for a
// retrieval response.
type Attributor struct {
	Embedder   embedding.Provider
	Resilience *resilience.Registry
}

// New builds an Attributor over embedder, using resilience to detect
// when the embedding service is open-circuited and degrade.
func New(embedder embedding.Provider, resilience *resilience.Registry) *Attributor {
	return &Attributor{Embedder: embedder, Resilience: resilience}
}

// AttributeResult is the citation-alignment output for one answer.
type AttributeResult struct {
	References []model.SourceReference
	Confidence float64
	Degraded   bool
}

// Attribute assigns each hit a relevance score against answer and picks
// a quoted citation, returning an overall confidence as the mean
// relevance of hits at or above the 0.4 threshold.
func (a *Attributor) Attribute(ctx context.Context, query, answer string, hits []model.SearchHit) (AttributeResult, error) {
	if len(hits) == 0 {
		return AttributeResult{}, nil
	}

	answerWords := wordSet(answer)
	citations := make([]string, len(hits))
	for i, h := range hits {
		citations[i] = bestCitation(h.Content, answerWords)
	}

	if a.Resilience.IsOpen(embedServiceKey) || a.Embedder == nil {
		return a.degradedAttribute(hits, citations), nil
	}

	texts := make([]string, 0, len(hits)+1)
	texts = append(texts, answer)
	for _, h := range hits {
		texts = append(texts, h.Content)
	}

	vectors, err := resilience.Execute(ctx, a.Resilience, embedServiceKey, func(ctx context.Context) ([][]float32, error) {
		return a.Embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return a.degradedAttribute(hits, citations), nil
	}

	answerVec := vectors[0]
	refs := make([]model.SourceReference, len(hits))
	var relevanceSum float64
	var aboveThreshold int
	for i, h := range hits {
		relevance := cosineSimilarity(answerVec, vectors[i+1])
		refs[i] = model.SourceReference{
			ChunkID:   h.ChunkID,
			DocID:     h.DocID,
			Relevance: relevance,
			Citation:  citations[i],
		}
		if relevance >= relevanceThreshold {
			relevanceSum += relevance
			aboveThreshold++
		}
	}

	var confidence float64
	if aboveThreshold > 0 {
		confidence = relevanceSum / float64(aboveThreshold)
	}

	return AttributeResult{References: refs, Confidence: confidence}, nil
}

func (a *Attributor) degradedAttribute(hits []model.SearchHit, citations []string) AttributeResult {
	refs := make([]model.SourceReference, len(hits))
	for i, h := range hits {
		refs[i] = model.SourceReference{
			ChunkID:   h.ChunkID,
			DocID:     h.DocID,
			Relevance: h.FinalScore(),
			Citation:  citations[i],
		}
	}
	return AttributeResult{References: refs, Confidence: 0, Degraded: true}
}

// bestCitation returns the sentence of content whose words overlap the
// most with answerWords, as a short quoted excerpt.
func bestCitation(content string, answerWords map[string]struct{}) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return ""
	}

	best := sentences[0]
	bestScore := -1
	for _, s := range sentences {
		score := wordOverlap(wordSet(s), answerWords)
		if score > bestScore {
			bestScore = score
			best = s
		}
	}
	return best
}

// cosineSimilarity returns the cosine of the angle between a and b, 0
// if either is a zero vector or their lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
