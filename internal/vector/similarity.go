package vector

import (
	"math"
	"strings"
	"unicode"
)

// Method selects how two vectors are compared. Distance-based methods are
// folded into [0,1] scores via 1/(1+d) so every method is comparable.
type Method string

const (
	MethodCosine    Method = "cosine"
	MethodEuclidean Method = "euclidean"
	MethodManhattan Method = "manhattan"
	MethodHybrid    Method = "hybrid"
)

// ParseMethod maps a config string to a Method, defaulting to cosine
func ParseMethod(s string) Method {
	switch Method(s) {
	case MethodEuclidean, MethodManhattan, MethodHybrid:
		return Method(s)
	default:
		return MethodCosine
	}
}

// Cosine returns the cosine similarity of a and b. Zero vectors score 0.
func Cosine(a, b []float32) float64 {
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

// Euclidean returns 1/(1+d) where d is the L2 distance
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum))
}

// Manhattan returns 1/(1+d) where d is the L1 distance
func Manhattan(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return 1 / (1 + sum)
}

// Tokenize lowercases and splits text into alphanumeric tokens
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// KeywordOverlap is the share of query tokens present in the document text.
// Returns 0 when the query has no tokens.
func KeywordOverlap(queryTokens []string, docText string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := make(map[string]bool)
	for _, tok := range Tokenize(docText) {
		docTokens[tok] = true
	}
	matched := 0
	for _, tok := range queryTokens {
		if docTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
