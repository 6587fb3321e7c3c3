package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
	"github.com/lucialabs/lucia/internal/vector"
)

type recordingEmbedder struct {
	vec     []float32
	batches [][]string
}

func (r *recordingEmbedder) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	return &ports.EmbeddingResult{Embedding: r.vec, Dimensions: len(r.vec)}, nil
}

func (r *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	r.batches = append(r.batches, texts)
	results := make([]*ports.EmbeddingResult, len(texts))
	for i := range texts {
		results[i] = &ports.EmbeddingResult{Embedding: r.vec, Dimensions: len(r.vec)}
	}
	return results, nil
}

func (r *recordingEmbedder) GetDimensions() int { return len(r.vec) }

type fakeCache struct {
	docs     []*models.EmbeddingDocument
	upserted []*models.EmbeddingDocument
}

func (f *fakeCache) All(ctx context.Context) ([]*models.EmbeddingDocument, error) {
	return f.docs, nil
}

func (f *fakeCache) UpsertBatch(ctx context.Context, docs []*models.EmbeddingDocument) error {
	f.upserted = append(f.upserted, docs...)
	return nil
}

type seqIDs struct{ n int }

func (s *seqIDs) next(prefix string) string {
	s.n++
	return fmt.Sprintf("%s_%d", prefix, s.n)
}

func (s *seqIDs) SessionID() string  { return s.next("ses") }
func (s *seqIDs) TurnID() string     { return s.next("trn") }
func (s *seqIDs) SubtaskID() string  { return s.next("tsk") }
func (s *seqIDs) TrackerID() string  { return s.next("trk") }
func (s *seqIDs) VoteID() string     { return s.next("vot") }
func (s *seqIDs) DocumentID() string { return s.next("doc") }
func (s *seqIDs) TraceID() string    { return s.next("trc") }

func TestLoader_ReusesCachedVectors(t *testing.T) {
	registry := &fakeRegistry{intents: []*models.IntentDefinition{
		{ID: "saludo", Examples: []string{"hola", "buenas tardes"}},
	}}
	cache := &fakeCache{docs: []*models.EmbeddingDocument{
		models.NewEmbeddingDocument("doc_cached", "hola", "saludo", []float32{1, 0, 0}),
	}}
	embedder := &recordingEmbedder{vec: []float32{0, 1, 0}}
	index := vector.New(3)

	loader := NewLoader(registry, embedder, index, cache, &seqIDs{}, nil)
	stats, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if stats.Reused != 1 || stats.Embedded != 1 {
		t.Errorf("expected 1 reused / 1 embedded, got %d / %d", stats.Reused, stats.Embedded)
	}
	if index.Size() != 2 {
		t.Errorf("expected 2 indexed exemplars, got %d", index.Size())
	}
	if len(embedder.batches) != 1 || len(embedder.batches[0]) != 1 || embedder.batches[0][0] != "buenas tardes" {
		t.Errorf("only the uncached text should reach the embedder: %v", embedder.batches)
	}
	if len(cache.upserted) != 1 || cache.upserted[0].Text != "buenas tardes" {
		t.Errorf("newly embedded exemplars should be persisted: %+v", cache.upserted)
	}
}

func TestLoader_DropsExemplarsOfRemovedIntents(t *testing.T) {
	registry := &fakeRegistry{intents: []*models.IntentDefinition{
		{ID: "saludo", Examples: []string{"hola"}},
	}}
	cache := &fakeCache{docs: []*models.EmbeddingDocument{
		models.NewEmbeddingDocument("doc_1", "hola", "saludo", []float32{1, 0, 0}),
		models.NewEmbeddingDocument("doc_2", "pon jazz", "reproducir_musica", []float32{0, 1, 0}),
	}}
	index := vector.New(3)

	loader := NewLoader(registry, &recordingEmbedder{vec: []float32{0, 0, 1}}, index, cache, &seqIDs{}, nil)
	stats, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if stats.Reused != 1 || stats.Embedded != 0 {
		t.Errorf("expected 1 reused / 0 embedded, got %d / %d", stats.Reused, stats.Embedded)
	}
	if index.Size() != 1 {
		t.Errorf("removed intents must not stay indexed, size=%d", index.Size())
	}
}

func TestLoader_NoCacheEmbedsEverything(t *testing.T) {
	registry := &fakeRegistry{intents: []*models.IntentDefinition{
		{ID: "saludo", Examples: []string{"hola", "buenas"}},
	}}
	embedder := &recordingEmbedder{vec: []float32{0.5, 0.5, 0}}
	index := vector.New(3)

	loader := NewLoader(registry, embedder, index, nil, &seqIDs{}, nil)
	stats, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stats.Embedded != 2 || stats.Reused != 0 {
		t.Errorf("expected everything embedded, got %+v", stats)
	}
}
