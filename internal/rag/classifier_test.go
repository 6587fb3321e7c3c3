package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
	"github.com/lucialabs/lucia/internal/vector"
)

// fakeRegistry is a fixed intent catalog for classifier tests
type fakeRegistry struct {
	intents  []*models.IntentDefinition
	defaults models.CatalogDefaults
}

func (f *fakeRegistry) Get(id string) (*models.IntentDefinition, bool) {
	for _, def := range f.intents {
		if def.ID == id {
			return def, true
		}
	}
	return nil, false
}
func (f *fakeRegistry) All() []*models.IntentDefinition { return f.intents }
func (f *fakeRegistry) Defaults() models.CatalogDefaults {
	return f.defaults
}
func (f *fakeRegistry) Version() string { return "test" }

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ports.EmbeddingResult{Embedding: f.vec, Dimensions: len(f.vec)}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	out := make([]*ports.EmbeddingResult, len(texts))
	for i := range texts {
		out[i] = &ports.EmbeddingResult{Embedding: f.vec, Dimensions: len(f.vec)}
	}
	return out, nil
}
func (f *fakeEmbedder) GetDimensions() int { return len(f.vec) }

type fakeLLM struct {
	replies []string
	calls   int
	err     error
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	return f.ChatWithOptions(ctx, messages, nil)
}

func (f *fakeLLM) ChatWithOptions(ctx context.Context, messages []ports.LLMMessage, opts *ports.LLMOptions) (*ports.LLMResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[len(f.replies)-1]
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return &ports.LLMResponse{Content: reply}, nil
}

func testCatalog() *fakeRegistry {
	return &fakeRegistry{
		intents: []*models.IntentDefinition{
			{
				ID:                  "consultar_tiempo",
				Description:         "Consultar el tiempo en una ubicación",
				Examples:            []string{"¿qué tiempo hace en Madrid?", "dime el tiempo de mañana"},
				RequiredSlots:       []string{"ubicacion"},
				ToolAction:          "weather.query",
				ConfidenceThreshold: 0.7,
			},
			{
				ID:          "ayuda",
				Description: "Pedir ayuda",
				Examples:    []string{"ayúdame", "¿qué puedes hacer?"},
			},
		},
		defaults: models.CatalogDefaults{ConfidenceThreshold: 0.7, FallbackIntent: "ayuda"},
	}
}

func testIndex(t *testing.T) *vector.Store {
	t.Helper()
	s := vector.New(3)
	docs := []*models.EmbeddingDocument{
		models.NewEmbeddingDocument("doc_1", "¿qué tiempo hace en Madrid?", "consultar_tiempo", []float32{1, 0, 0}),
		models.NewEmbeddingDocument("doc_2", "dime el tiempo de mañana", "consultar_tiempo", []float32{0.9, 0.1, 0}),
		models.NewEmbeddingDocument("doc_3", "ayúdame con algo", "ayuda", []float32{0, 1, 0}),
	}
	if err := s.AddBatch(docs); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	return s
}

func testConfig() config.RAGConfig {
	cfg := config.DefaultConfig().RAG
	cfg.SimilarityThreshold = 0.1
	return cfg
}

func TestClassifyEmptyUtterance(t *testing.T) {
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{1, 0, 0}},
		&fakeLLM{replies: []string{"{}"}}, testConfig())

	_, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "   "})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestClassifyWeatherMadrid(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"intent": "consultar_tiempo", "confidence": 0.95, "entities": {"ubicacion": "Madrid"}, "rationale": "pregunta por el tiempo"}`,
	}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{1, 0, 0}}, llm, testConfig())

	result, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "¿qué tiempo hace en Madrid?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntentID != "consultar_tiempo" {
		t.Errorf("intent = %q", result.IntentID)
	}
	if result.Confidence < 0.7 {
		t.Errorf("confidence = %f, want >= 0.7", result.Confidence)
	}
	if result.Entities["ubicacion"] != "Madrid" {
		t.Errorf("entities = %v", result.Entities)
	}
	if result.FallbackUsed {
		t.Error("fallback should not trigger on a confident result")
	}
	if result.Source != models.ClassificationSourceRAG {
		t.Errorf("source = %q", result.Source)
	}
	if len(result.RagExamplesUsed) == 0 {
		t.Error("expected retrieved examples in the result")
	}
}

func TestClassifyRankedCandidatesSorted(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"intent": "consultar_tiempo", "confidence": 0.9, "entities": {}}`,
	}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{1, 0, 0}}, llm, testConfig())

	result, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "tiempo en Madrid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(result.RankedCandidates); i++ {
		if result.RankedCandidates[i].Score > result.RankedCandidates[i-1].Score {
			t.Fatalf("candidates not sorted: %v", result.RankedCandidates)
		}
	}
	if result.RankedCandidates[0].IntentID != "consultar_tiempo" {
		t.Errorf("top candidate = %q", result.RankedCandidates[0].IntentID)
	}
}

func TestFallbackGeneralDomain(t *testing.T) {
	// The LLM stays uncertain on both the direct and the relaxed pass, so
	// the chain falls through to the small-talk keyword level.
	llm := &fakeLLM{replies: []string{
		`{"intent": "unknown", "confidence": 0.1}`,
		`{"intent": "unknown", "confidence": 0.1}`,
	}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{0, 0, 1}}, llm, testConfig())

	result, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "hola, buenos días"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// saludo is not declared in the catalog, so L2 falls through to the
	// keyword level or below; either way fallback metadata must be set.
	if !result.FallbackUsed {
		t.Fatal("expected fallback")
	}
	if result.Source != models.ClassificationSourceFallback {
		t.Errorf("source = %q", result.Source)
	}
}

func TestFallbackKeywordMap(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"intent": "unknown", "confidence": 0.05}`,
		`{"intent": "unknown", "confidence": 0.05}`,
	}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{0, 0, 1}}, llm, testConfig())

	result, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "dime el tiempo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntentID != "consultar_tiempo" {
		t.Errorf("intent = %q, want consultar_tiempo via keywords", result.IntentID)
	}
	if result.Confidence > keywordCap {
		t.Errorf("confidence %f exceeds the keyword cap", result.Confidence)
	}
	if result.FallbackReason != fallbackKeyword {
		t.Errorf("fallback reason = %q", result.FallbackReason)
	}
}

func TestFallbackContextual(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"intent": "unknown", "confidence": 0.05}`,
		`{"intent": "unknown", "confidence": 0.05}`,
	}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{0, 0, 1}}, llm, testConfig())

	result, err := c.Classify(context.Background(), &models.ClassificationRequest{
		Text:  "zzz qqq www",
		Hints: &models.SessionHints{LastIntent: "consultar_tiempo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntentID != "consultar_tiempo" {
		t.Errorf("intent = %q, want the session's last intent", result.IntentID)
	}
	if result.Confidence > contextualCap {
		t.Errorf("confidence %f exceeds the contextual cap", result.Confidence)
	}
}

func TestFallbackGeneric(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		`{"intent": "unknown", "confidence": 0.05}`,
		`{"intent": "unknown", "confidence": 0.05}`,
	}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{0, 0, 1}}, llm, testConfig())

	result, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "zzz qqq www"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntentID != "ayuda" {
		t.Errorf("intent = %q, want the configured fallback intent", result.IntentID)
	}
	if result.Confidence != genericFloor {
		t.Errorf("confidence = %f, want the generic floor", result.Confidence)
	}
	if result.FallbackReason != fallbackGeneric {
		t.Errorf("fallback reason = %q", result.FallbackReason)
	}
}

func TestFallbackDisabled(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"intent": "ayuda", "confidence": 0.2}`}}
	c := NewClassifier(testIndex(t), testCatalog(), &fakeEmbedder{vec: []float32{0, 0, 1}}, llm, testConfig())

	off := false
	result, err := c.Classify(context.Background(), &models.ClassificationRequest{
		Text:           "no sé qué quiero",
		EnableFallback: &off,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FallbackUsed {
		t.Error("fallback ran despite being disabled")
	}
	if result.FallbackReason != "below_threshold" {
		t.Errorf("fallback reason = %q", result.FallbackReason)
	}
}

func TestClassifyEmptyIndex(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"intent": "ayuda", "confidence": 0.9}`}}
	c := NewClassifier(vector.New(3), testCatalog(), &fakeEmbedder{vec: []float32{1, 0, 0}}, llm, testConfig())

	// Threshold override keeps a zero-shot answer above the bar.
	result, err := c.Classify(context.Background(), &models.ClassificationRequest{
		Text:                "ayúdame",
		ConfidenceThreshold: 0.1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Metrics["empty_index"] != 1 {
		t.Error("expected the empty_index marker in metrics")
	}
	if len(result.RagExamplesUsed) != 0 {
		t.Error("no examples should be reported from an empty index")
	}
}

func TestClassifyEmbedderFailure(t *testing.T) {
	c := NewClassifier(testIndex(t), testCatalog(),
		&fakeEmbedder{err: domain.NewPermanentProviderError("embedding", "embed", domain.ErrEmbeddingsFailed)},
		&fakeLLM{replies: []string{"{}"}}, testConfig())

	_, err := c.Classify(context.Background(), &models.ClassificationRequest{Text: "hola"})
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}
}
