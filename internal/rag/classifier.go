package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
	"github.com/lucialabs/lucia/internal/vector"
)

// Classifier resolves utterances into intents with retrieval-augmented
// prompting: embed, retrieve exemplars, build a strategy prompt, ask the
// LLM, then blend ten evidence signals into the final confidence. Low
// confidence triggers the graded fallback chain.
type Classifier struct {
	index    ports.EmbeddingIndex
	intents  ports.IntentRegistry
	embedder ports.EmbeddingService
	llm      ports.LLMService
	cfg      config.RAGConfig
	weights  ScoreWeights
	strategy Strategy
}

// Option configures a Classifier
type Option func(*Classifier)

// WithScoreWeights overrides the default signal mix; weights are
// normalised to sum to 1.
func WithScoreWeights(w ScoreWeights) Option {
	return func(c *Classifier) { c.weights = w.Normalize() }
}

// NewClassifier wires the classifier over its collaborators
func NewClassifier(index ports.EmbeddingIndex, intents ports.IntentRegistry,
	embedder ports.EmbeddingService, llm ports.LLMService, cfg config.RAGConfig, opts ...Option) *Classifier {
	c := &Classifier{
		index:    index,
		intents:  intents,
		embedder: embedder,
		llm:      llm,
		cfg:      cfg,
		weights:  DefaultScoreWeights(),
		strategy: ParseStrategy(cfg.PromptStrategy),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs the full RAG pipeline for one utterance
func (c *Classifier) Classify(ctx context.Context, req *models.ClassificationRequest) (*models.ClassificationResult, error) {
	if req == nil || models.NewUtterance(req.Text).IsEmpty() {
		return nil, domain.NewValidationError("text", "utterance cannot be empty")
	}
	start := time.Now()

	maxExamples := req.MaxExamples
	if maxExamples <= 0 {
		maxExamples = c.cfg.MaxExamples
	}

	result, err := c.classifyOnce(ctx, req, maxExamples, c.cfg.SimilarityThreshold, start)
	if err != nil {
		return nil, err
	}

	threshold := c.thresholdFor(req, result.IntentID)
	if result.MeetsThreshold(threshold) {
		result.ProcessingTimeMs = models.Elapsed(start)
		return result, nil
	}

	if !c.fallbackEnabled(req) {
		result.ProcessingTimeMs = models.Elapsed(start)
		result.FallbackReason = "below_threshold"
		return result, nil
	}
	return c.fallback(ctx, req, result, threshold, maxExamples, start)
}

// classifyOnce runs one retrieval + prompt + LLM pass without fallback
func (c *Classifier) classifyOnce(ctx context.Context, req *models.ClassificationRequest,
	maxExamples int, minSimilarity float64, start time.Time) (*models.ClassificationResult, error) {

	embedded, err := c.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embed utterance: %w", err)
	}

	results, err := c.index.Search(embedded.Embedding, ports.SearchOptions{
		TopK:               maxExamples,
		Threshold:          minSimilarity,
		DiversityThreshold: c.cfg.DiversityThreshold,
		MaxClusterSize:     c.cfg.MaxClusterSize,
		Keywords:           vector.Tokenize(req.Text),
		KeywordBoost:       c.cfg.KeywordBoost,
	})
	if err != nil {
		return nil, fmt.Errorf("search exemplars: %w", err)
	}

	strategy := chooseStrategy(c.strategy, results, c.intents)
	prompt := buildPrompt(strategy, promptInput{
		utterance: req.Text,
		results:   results,
		hints:     req.Hints,
		intents:   c.intents.All(),
		domain:    sharedDomain(results, c.intents),
	})

	resp, err := c.llm.Chat(ctx, []ports.LLMMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("classification LLM call: %w", err)
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		// An unparseable reply is not fatal: the fallback chain still has
		// keyword and contextual levels to try.
		verdict = &llmVerdict{Intent: "unknown", Confidence: 0}
	}

	confidence, signals := finalConfidence(c.weights, scoreInput{
		llmConfidence: verdict.Confidence,
		intent:        verdict.Intent,
		results:       results,
		maxExamples:   maxExamples,
		elapsed:       time.Since(start),
		timeBudget:    time.Duration(c.cfg.TimeBudgetMs) * time.Millisecond,
		hints:         req.Hints,
		strategy:      strategy,
	})
	if len(results) == 0 {
		signals["empty_index"] = 1
	}

	return &models.ClassificationResult{
		IntentID:         verdict.Intent,
		Confidence:       confidence,
		Entities:         verdict.Entities,
		RankedCandidates: rankCandidates(verdict.Intent, confidence, results),
		RagExamplesUsed:  toRetrieved(results),
		PromptUsed:       prompt,
		LLMResponse:      resp.Content,
		Source:           models.ClassificationSourceRAG,
		Metrics:          signals,
	}, nil
}

// thresholdFor resolves the confidence bar: request override first, then
// the intent's own threshold, then the catalog default.
func (c *Classifier) thresholdFor(req *models.ClassificationRequest, intentID string) float64 {
	if req.ConfidenceThreshold > 0 {
		return req.ConfidenceThreshold
	}
	if def, ok := c.intents.Get(intentID); ok && def.ConfidenceThreshold > 0 {
		return def.ConfidenceThreshold
	}
	if d := c.intents.Defaults().ConfidenceThreshold; d > 0 {
		return d
	}
	return c.cfg.ConfidenceThreshold
}

func (c *Classifier) fallbackEnabled(req *models.ClassificationRequest) bool {
	if req.EnableFallback != nil {
		return *req.EnableFallback
	}
	return c.cfg.EnableFallback
}

// rankCandidates aggregates per-intent retrieval scores with the LLM's own
// pick on top, sorted by descending score.
func rankCandidates(intent string, confidence float64, results []ports.SearchResult) []models.RankedCandidate {
	perIntent := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range results {
		perIntent[r.Document.IntentID] += r.Score
		counts[r.Document.IntentID]++
	}
	ranked := make([]models.RankedCandidate, 0, len(perIntent)+1)
	for id, sum := range perIntent {
		score := sum / float64(counts[id])
		if id == intent && confidence > score {
			score = confidence
		}
		ranked = append(ranked, models.RankedCandidate{IntentID: id, Score: score})
	}
	if _, seen := perIntent[intent]; !seen && intent != "" {
		ranked = append(ranked, models.RankedCandidate{IntentID: intent, Score: confidence})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].IntentID < ranked[j].IntentID
	})
	return ranked
}

func toRetrieved(results []ports.SearchResult) []models.RetrievedExample {
	out := make([]models.RetrievedExample, len(results))
	for i, r := range results {
		out[i] = models.RetrievedExample{
			DocumentID: r.Document.ID,
			IntentID:   r.Document.IntentID,
			Text:       r.Document.Text,
			Similarity: r.Score,
		}
	}
	return out
}
