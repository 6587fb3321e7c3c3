package rag

import (
	"context"
	"strings"
	"time"

	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/vector"
)

// Fallback levels, tried in order; the first success wins. Each level
// carries its own confidence ceiling so a fallback never outranks a
// direct classification.
const (
	fallbackRelaxed    = "relaxed_similarity"
	fallbackGeneral    = "general_domain"
	fallbackKeyword    = "keyword_map"
	fallbackContextual = "contextual"
	fallbackGeneric    = "generic"

	relaxedPenalty = 0.80
	generalCap     = 0.40
	keywordCap     = 0.50
	contextualCap  = 0.45
	genericFloor   = 0.10
)

// generalIntents maps built-in small-talk keywords to their conventional
// intent ids. Only intents actually declared in the catalog are used.
var generalIntents = []struct {
	intent   string
	keywords []string
}{
	{"ayuda", []string{"ayuda", "ayúdame", "help", "cómo", "como", "qué puedes", "que puedes"}},
	{"saludo", []string{"hola", "buenos días", "buenas tardes", "buenas noches", "hello", "hey"}},
	{"agradecimiento", []string{"gracias", "muchas gracias", "thanks", "thank you", "genial"}},
	{"despedida", []string{"adiós", "adios", "hasta luego", "chao", "bye", "goodbye", "me voy"}},
}

// fallback walks the graded chain L1..L5 and returns the first level that
// produces a usable result. The original low-confidence result is the
// floor: L5 always succeeds.
func (c *Classifier) fallback(ctx context.Context, req *models.ClassificationRequest,
	original *models.ClassificationResult, threshold float64, maxExamples int, start time.Time) (*models.ClassificationResult, error) {

	if result := c.relaxedSimilarity(ctx, req, threshold, maxExamples, start); result != nil {
		return finishFallback(result, fallbackRelaxed, start), nil
	}
	if result := c.generalDomain(req); result != nil {
		return finishFallback(result, fallbackGeneral, start), nil
	}
	if result := c.keywordMap(req); result != nil {
		return finishFallback(result, fallbackKeyword, start), nil
	}
	if result := c.contextual(req); result != nil {
		return finishFallback(result, fallbackContextual, start), nil
	}
	return finishFallback(c.generic(original), fallbackGeneric, start), nil
}

func finishFallback(result *models.ClassificationResult, reason string, start time.Time) *models.ClassificationResult {
	result.Source = models.ClassificationSourceFallback
	result.FallbackUsed = true
	result.FallbackReason = reason
	result.ProcessingTimeMs = models.Elapsed(start)
	return result
}

// relaxedSimilarity (L1) reruns the pipeline with the similarity floor
// lowered by the configured reduction factor and a 20% confidence penalty.
func (c *Classifier) relaxedSimilarity(ctx context.Context, req *models.ClassificationRequest,
	threshold float64, maxExamples int, start time.Time) *models.ClassificationResult {

	relaxed := c.cfg.SimilarityThreshold * (1 - c.cfg.FallbackReduction)
	result, err := c.classifyOnce(ctx, req, maxExamples, relaxed, start)
	if err != nil {
		return nil
	}
	result.Confidence *= relaxedPenalty
	if !result.MeetsThreshold(threshold) || result.IntentID == "unknown" {
		return nil
	}
	return result
}

// generalDomain (L2) catches small talk by keyword, capped at 0.40
func (c *Classifier) generalDomain(req *models.ClassificationRequest) *models.ClassificationResult {
	text := strings.ToLower(req.Text)
	for _, g := range generalIntents {
		if _, declared := c.intents.Get(g.intent); !declared {
			continue
		}
		for _, kw := range g.keywords {
			if strings.Contains(text, kw) {
				return &models.ClassificationResult{
					IntentID:   g.intent,
					Confidence: generalCap,
				}
			}
		}
	}
	return nil
}

// keywordMap (L3) scores every catalog intent by token overlap between the
// utterance and the intent's examples, capped at 0.50.
func (c *Classifier) keywordMap(req *models.ClassificationRequest) *models.ClassificationResult {
	tokens := vector.Tokenize(req.Text)
	if len(tokens) == 0 {
		return nil
	}
	bestIntent := ""
	bestScore := 0.0
	for _, def := range c.intents.All() {
		corpus := def.Description + " " + strings.Join(def.Examples, " ")
		score := vector.KeywordOverlap(tokens, corpus)
		if score > bestScore {
			bestScore = score
			bestIntent = def.ID
		}
	}
	// Below a fifth of the tokens matching, keyword evidence is noise.
	if bestIntent == "" || bestScore < 0.2 {
		return nil
	}
	confidence := bestScore
	if confidence > keywordCap {
		confidence = keywordCap
	}
	return &models.ClassificationResult{IntentID: bestIntent, Confidence: confidence}
}

// contextual (L4) infers the intent from session history: the last
// resolved intent first, otherwise the most frequent one. Capped at 0.45.
func (c *Classifier) contextual(req *models.ClassificationRequest) *models.ClassificationResult {
	hints := req.Hints
	if !hints.HasContext() {
		return nil
	}
	intent := hints.LastIntent
	if intent == "" {
		best := 0
		for id, n := range hints.IntentFrequency {
			if n > best || (n == best && id < intent) {
				best = n
				intent = id
			}
		}
	}
	if intent == "" {
		return nil
	}
	if _, ok := c.intents.Get(intent); !ok {
		return nil
	}
	confidence := 0.30
	if hints.LastIntent != "" {
		confidence = contextualCap
	}
	return &models.ClassificationResult{IntentID: intent, Confidence: confidence}
}

// generic (L5) returns the catalog's configured fallback intent at low
// confidence. Without one, the original low-confidence result survives
// with its intent forced to unknown.
func (c *Classifier) generic(original *models.ClassificationResult) *models.ClassificationResult {
	intent := c.intents.Defaults().FallbackIntent
	if intent == "" {
		intent = "unknown"
	}
	result := &models.ClassificationResult{
		IntentID:        intent,
		Confidence:      genericFloor,
		RagExamplesUsed: original.RagExamplesUsed,
		PromptUsed:      original.PromptUsed,
		LLMResponse:     original.LLMResponse,
		Metrics:         original.Metrics,
	}
	return result
}
