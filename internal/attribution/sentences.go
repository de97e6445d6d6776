package attribution

import (
	"regexp"
	"strings"
)

// sentenceBoundary splits on a run of sentence-ending punctuation
// followed by whitespace, keeping the punctuation with the preceding
// sentence. This is a heuristic, not a full sentence tokenizer: it is
// good enough for the extractive excerpting this package does, where
// false splits cost a slightly shorter sentence rather than a wrong
// answer.
var sentenceBoundary = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)

// splitSentences breaks text into trimmed, non-empty sentences.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		sentences = append(sentences, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if last < len(text) {
		if rest := strings.TrimSpace(text[last:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}

	out := sentences[:0]
	for _, s := range sentences {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// wordSet lowercases and splits text into a set of word tokens, for
// overlap scoring that doesn't need embeddings.
func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, `.,!?;:"'()`)] = struct{}{}
	}
	return set
}

// wordOverlap counts words present in both sets.
func wordOverlap(a, b map[string]struct{}) int {
	n := 0
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for w := range small {
		if _, ok := big[w]; ok {
			n++
		}
	}
	return n
}
