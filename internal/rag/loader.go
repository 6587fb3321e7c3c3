package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// ExemplarCache is the persistence view the loader needs. The Postgres
// exemplar repository satisfies it; a nil cache means embed-on-every-boot.
type ExemplarCache interface {
	All(ctx context.Context) ([]*models.EmbeddingDocument, error)
	UpsertBatch(ctx context.Context, docs []*models.EmbeddingDocument) error
}

// Loader warm-loads catalog exemplars into the vector index. Examples whose
// text already has a persisted vector reuse it; only new or changed text
// goes to the embedding endpoint.
type Loader struct {
	intents  ports.IntentRegistry
	embedder ports.EmbeddingService
	index    ports.EmbeddingIndex
	cache    ExemplarCache
	ids      ports.IDGenerator
	logger   *slog.Logger
}

// LoadStats summarises one warm-load pass
type LoadStats struct {
	Reused   int
	Embedded int
	Elapsed  time.Duration
}

func NewLoader(intents ports.IntentRegistry, embedder ports.EmbeddingService, index ports.EmbeddingIndex, cache ExemplarCache, ids ports.IDGenerator, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		intents:  intents,
		embedder: embedder,
		index:    index,
		cache:    cache,
		ids:      ids,
		logger:   logger,
	}
}

// Load indexes every catalog example, reusing cached vectors where the
// text is unchanged. The index is cleared first so a reload never keeps
// exemplars of removed intents.
func (l *Loader) Load(ctx context.Context) (LoadStats, error) {
	start := time.Now()
	stats := LoadStats{}

	cached := make(map[string]*models.EmbeddingDocument)
	if l.cache != nil {
		docs, err := l.cache.All(ctx)
		if err != nil {
			return stats, fmt.Errorf("load cached exemplars: %w", err)
		}
		for _, doc := range docs {
			cached[exemplarKey(doc.IntentID, doc.Text)] = doc
		}
	}

	l.index.Clear()

	var (
		pendingTexts []string
		pendingDocs  []*models.EmbeddingDocument
	)
	for _, intent := range l.intents.All() {
		for _, example := range intent.Examples {
			if doc, ok := cached[exemplarKey(intent.ID, example)]; ok && len(doc.Vector) > 0 {
				if err := l.index.Add(doc); err != nil {
					return stats, fmt.Errorf("index cached exemplar %s: %w", doc.ID, err)
				}
				stats.Reused++
				continue
			}
			pendingTexts = append(pendingTexts, example)
			pendingDocs = append(pendingDocs, models.NewEmbeddingDocument(
				l.ids.DocumentID(), example, intent.ID, nil))
		}
	}

	if len(pendingTexts) > 0 {
		results, err := l.embedder.EmbedBatch(ctx, pendingTexts)
		if err != nil {
			return stats, fmt.Errorf("embed %d exemplars: %w", len(pendingTexts), err)
		}
		if len(results) != len(pendingDocs) {
			return stats, fmt.Errorf("embedding batch returned %d results for %d texts",
				len(results), len(pendingDocs))
		}
		for i, doc := range pendingDocs {
			doc.Vector = results[i].Embedding
			if err := l.index.Add(doc); err != nil {
				return stats, fmt.Errorf("index exemplar %s: %w", doc.ID, err)
			}
		}
		stats.Embedded = len(pendingDocs)

		if l.cache != nil {
			if err := l.cache.UpsertBatch(ctx, pendingDocs); err != nil {
				// The index is already populated; a cache write failure only
				// costs re-embedding on the next boot.
				l.logger.Warn("failed to persist embedded exemplars", "error", err)
			}
		}
	}

	stats.Elapsed = time.Since(start)
	l.logger.Info("exemplar index loaded",
		"reused", stats.Reused, "embedded", stats.Embedded,
		"total", l.index.Size(), "elapsed_ms", stats.Elapsed.Milliseconds())
	return stats, nil
}

func exemplarKey(intentID, text string) string {
	return intentID + "\x00" + text
}
