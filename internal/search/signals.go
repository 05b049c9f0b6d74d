// Package search implements hybrid retrieval over conversation history:
// semantic KNN and keyword full-text passes blended with temporal decay
// and actor-importance boosts.
package search

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// stopWords covers the function words of the two languages conversations
// are written in. Keyword extraction drops them.
var stopWords = map[string]struct{}{
	// English
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"its": {}, "me": {}, "my": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"she": {}, "so": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "will": {},
	"with": {}, "you": {}, "your": {},
	// Ukrainian
	"а": {}, "але": {}, "б": {}, "без": {}, "би": {}, "в": {}, "ви": {},
	"від": {}, "він": {}, "вона": {}, "вони": {}, "все": {}, "де": {},
	"для": {}, "до": {}, "є": {}, "з": {}, "за": {}, "і": {}, "й": {},
	"його": {}, "її": {}, "коли": {}, "ми": {}, "на": {}, "не": {},
	"ну": {}, "по": {}, "про": {}, "та": {}, "так": {}, "те": {},
	"ти": {}, "то": {}, "тут": {}, "у": {}, "хто": {}, "це": {},
	"чи": {}, "що": {}, "я": {}, "як": {}, "яка": {}, "який": {},
}

// ExtractKeywords lowercases the query, strips punctuation and stop
// words, and returns the distinct remaining terms in order.
func ExtractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		keywords = append(keywords, f)
	}
	return keywords
}

// MatchedKeywords returns the subset of keywords present in the text.
func MatchedKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			matched = append(matched, k)
		}
	}
	return matched
}

// BaseScore blends the semantic and keyword signals by their configured
// weights. Both inputs are in [0,1]; a signal a turn was not found by
// contributes zero.
func BaseScore(semantic, keyword, semanticWeight, keywordWeight float64) float64 {
	total := semanticWeight + keywordWeight
	if total == 0 {
		return 0
	}
	return (semantic*semanticWeight + keyword*keywordWeight) / total
}

// KeywordRankScore converts a zero-based BM25 rank position into a
// bounded score: 1/(1+rank).
func KeywordRankScore(rank int) float64 {
	return 1.0 / float64(1+rank)
}

// TemporalFactor decays exponentially with age: exp(-ageDays/halfLife).
// A zero-age turn scores 1.0.
func TemporalFactor(age time.Duration, halfLifeDays float64) float64 {
	if age < 0 {
		age = 0
	}
	ageDays := age.Hours() / 24
	return math.Exp(-ageDays / halfLifeDays)
}

// CosineSimilarity computes the cosine of the angle between two
// vectors. Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
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
