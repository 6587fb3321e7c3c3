package rag

import (
	"math"
	"time"

	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
	"github.com/lucialabs/lucia/internal/vector"
)

// ScoreWeights distributes the final confidence over ten signals. The
// weights are normalised to sum to 1 before use.
type ScoreWeights struct {
	LLMConfidence     float64 `json:"llm_confidence"`
	MeanSimilarity    float64 `json:"mean_similarity"`
	IntentConsistency float64 `json:"intent_consistency"`
	ExampleCount      float64 `json:"example_count"`
	SemanticDiversity float64 `json:"semantic_diversity"`
	TemporalFactor    float64 `json:"temporal_factor"`
	EmbeddingQuality  float64 `json:"embedding_quality"`
	SimilarityEntropy float64 `json:"similarity_entropy"`
	ContextualFactor  float64 `json:"contextual_factor"`
	PromptRobustness  float64 `json:"prompt_robustness"`
}

// DefaultScoreWeights returns the standard signal mix
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		LLMConfidence:     0.25,
		MeanSimilarity:    0.20,
		IntentConsistency: 0.15,
		ExampleCount:      0.10,
		SemanticDiversity: 0.10,
		TemporalFactor:    0.05,
		EmbeddingQuality:  0.05,
		SimilarityEntropy: 0.05,
		ContextualFactor:  0.03,
		PromptRobustness:  0.02,
	}
}

// Normalize scales the weights to sum to 1. All-zero weights reset to the
// defaults.
func (w ScoreWeights) Normalize() ScoreWeights {
	sum := w.LLMConfidence + w.MeanSimilarity + w.IntentConsistency + w.ExampleCount +
		w.SemanticDiversity + w.TemporalFactor + w.EmbeddingQuality + w.SimilarityEntropy +
		w.ContextualFactor + w.PromptRobustness
	if sum <= 0 {
		return DefaultScoreWeights()
	}
	w.LLMConfidence /= sum
	w.MeanSimilarity /= sum
	w.IntentConsistency /= sum
	w.ExampleCount /= sum
	w.SemanticDiversity /= sum
	w.TemporalFactor /= sum
	w.EmbeddingQuality /= sum
	w.SimilarityEntropy /= sum
	w.ContextualFactor /= sum
	w.PromptRobustness /= sum
	return w
}

// scoreInput gathers the evidence behind one classification
type scoreInput struct {
	llmConfidence float64
	intent        string
	results       []ports.SearchResult
	maxExamples   int
	elapsed       time.Duration
	timeBudget    time.Duration
	hints         *models.SessionHints
	strategy      Strategy
}

// finalConfidence mixes the ten signals and scales the result by a
// composite quality factor derived from retrieval strength. Every signal
// lands in [0,1], so the weighted sum does too.
func finalConfidence(w ScoreWeights, in scoreInput) (float64, map[string]float64) {
	sims := make([]float64, len(in.results))
	for i, r := range in.results {
		sims[i] = clamp01(r.Score)
	}

	signals := map[string]float64{
		"llm_confidence":     clamp01(in.llmConfidence),
		"mean_similarity":    mean(sims),
		"intent_consistency": intentConsistency(in.intent, in.results),
		"example_count":      exampleCountFactor(len(in.results), in.maxExamples),
		"semantic_diversity": semanticDiversity(in.results),
		"temporal_factor":    temporalFactor(in.elapsed, in.timeBudget),
		"embedding_quality":  clamp01(1 - stddev(sims)),
		"similarity_entropy": clamp01(1 - normalizedEntropy(sims)),
		"contextual_factor":  contextualFactor(in.hints),
		"prompt_robustness":  promptRobustness(in.strategy, len(in.results)),
	}

	weighted := w.LLMConfidence*signals["llm_confidence"] +
		w.MeanSimilarity*signals["mean_similarity"] +
		w.IntentConsistency*signals["intent_consistency"] +
		w.ExampleCount*signals["example_count"] +
		w.SemanticDiversity*signals["semantic_diversity"] +
		w.TemporalFactor*signals["temporal_factor"] +
		w.EmbeddingQuality*signals["embedding_quality"] +
		w.SimilarityEntropy*signals["similarity_entropy"] +
		w.ContextualFactor*signals["contextual_factor"] +
		w.PromptRobustness*signals["prompt_robustness"]

	// Retrieval-backed classifications keep their full score; with thin or
	// absent evidence the quality factor pulls the result down.
	quality := 0.85 + 0.15*mean(sims)
	if len(in.results) == 0 {
		quality = 0.80
	}
	signals["quality_factor"] = quality

	return clamp01(weighted * quality), signals
}

// intentConsistency is the share of retrieved examples agreeing with the
// predicted intent.
func intentConsistency(intent string, results []ports.SearchResult) float64 {
	if len(results) == 0 || intent == "" {
		return 0
	}
	agree := 0
	for _, r := range results {
		if r.Document.IntentID == intent {
			agree++
		}
	}
	return float64(agree) / float64(len(results))
}

// exampleCountFactor saturates at the requested example budget
func exampleCountFactor(count, maxExamples int) float64 {
	if maxExamples <= 0 {
		maxExamples = 5
	}
	return clamp01(float64(count) / float64(maxExamples))
}

// semanticDiversity rewards retrieved sets whose vectors point in
// different directions: 1 minus the mean pairwise cosine similarity.
func semanticDiversity(results []ports.SearchResult) float64 {
	if len(results) < 2 {
		return 0.5
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			sum += vector.Cosine(results[i].Document.Vector, results[j].Document.Vector)
			pairs++
		}
	}
	return clamp01(1 - sum/float64(pairs))
}

// temporalFactor rewards bounded processing time: full credit within the
// budget, decaying linearly to zero at three times the budget.
func temporalFactor(elapsed, budget time.Duration) float64 {
	if budget <= 0 {
		return 1
	}
	if elapsed <= budget {
		return 1
	}
	overrun := float64(elapsed-budget) / float64(2*budget)
	return clamp01(1 - overrun)
}

// contextualFactor grades how much session context backed the prompt
func contextualFactor(hints *models.SessionHints) float64 {
	if hints == nil {
		return 0
	}
	score := 0.0
	if hints.LastIntent != "" {
		score += 0.4
	}
	if len(hints.CachedEntities) > 0 {
		score += 0.3
	}
	if hints.Summary != "" {
		score += 0.2
	}
	if len(hints.IntentFrequency) > 0 {
		score += 0.1
	}
	return clamp01(score)
}

// promptRobustness grades the prompt shape itself: few-shot with several
// examples is the most reliable, bare zero-shot the least.
func promptRobustness(strategy Strategy, exampleCount int) float64 {
	switch strategy {
	case StrategyFewShot, StrategyExpertDomain:
		if exampleCount >= 3 {
			return 1
		}
		return 0.7
	case StrategyChainOfThought:
		return 0.8
	default:
		return 0.3
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// normalizedEntropy is the Shannon entropy of the similarity distribution
// scaled into [0,1]. A flat distribution (no example stands out) scores 1.
func normalizedEntropy(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var total float64
	for _, x := range xs {
		total += x
	}
	if total == 0 {
		return 1
	}
	var h float64
	for _, x := range xs {
		p := x / total
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(xs)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
