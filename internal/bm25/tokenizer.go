package bm25

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// TokenizerVersion is bumped whenever tokenization rules change in a way
// that would make a previously persisted index's postings incorrect. The
// manager forces a rebuild when a loaded index's tokenizer version doesn't
// match this constant.
const TokenizerVersion = 1

// Language is the detected per-document tokenization language.
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// cjkRatioThreshold is the fraction of Han-script runes above which a
// document is tokenized as Chinese rather than English.
const cjkRatioThreshold = 0.3

// DetectLanguage classifies text as zh when the Chinese-character ratio
// exceeds cjkRatioThreshold, else en.
func DetectLanguage(text string) Language {
	var han, total int
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) {
			han++
		}
	}
	if total == 0 {
		return LangEnglish
	}
	if float64(han)/float64(total) > cjkRatioThreshold {
		return LangChinese
	}
	return LangEnglish
}

// Tokenize splits text into index terms using the language-appropriate
// strategy: for zh, each CJK character plus consecutive-character bigrams;
// for en, unicode word segmentation, lowercasing, and stopword removal.
func Tokenize(text string) []string {
	switch DetectLanguage(text) {
	case LangChinese:
		return tokenizeChinese(text)
	default:
		return tokenizeEnglish(text)
	}
}

// tokenizeChinese emits each CJK character as a unigram token plus every
// consecutive-character bigram, interspersed with whitespace-split runs of
// non-CJK text tokenized the English way (mixed-language documents are
// common in practice: code identifiers, product names).
func tokenizeChinese(text string) []string {
	text = norm.NFKC.String(text)
	var tokens []string
	var run []rune

	flushRun := func() {
		if len(run) == 0 {
			return
		}
		tokens = append(tokens, tokenizeEnglish(string(run))...)
		run = run[:0]
	}

	var han []rune
	flushHan := func() {
		for _, r := range han {
			tokens = append(tokens, string(r))
		}
		for i := 0; i+1 < len(han); i++ {
			tokens = append(tokens, string(han[i])+string(han[i+1]))
		}
		han = han[:0]
	}

	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			flushRun()
			han = append(han, r)
			continue
		}
		flushHan()
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			flushRun()
			continue
		}
		run = append(run, r)
	}
	flushHan()
	flushRun()

	return tokens
}

// tokenizeEnglish performs unicode word segmentation, lowercasing, and
// stopword removal.
func tokenizeEnglish(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if f == "" || englishStopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var englishStopwords = buildStopwordSet([]string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "have", "he", "her", "his", "how", "in", "is", "it", "its",
	"of", "on", "or", "she", "that", "the", "their", "there", "they",
	"this", "to", "was", "were", "what", "when", "where", "which",
	"who", "will", "with", "you", "your",
})

func buildStopwordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
