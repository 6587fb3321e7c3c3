package ports

import (
	"context"
	"time"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// SessionRepository defines operations for session persistence
type SessionRepository interface {
	Save(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, criteria SessionCriteria) ([]*models.Session, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.Session, error)
	Count(ctx context.Context) (int, error)
}

// ExemplarRepository persists catalog example embeddings so the index can
// warm-load without re-embedding the whole catalog on every start.
type ExemplarRepository interface {
	UpsertBatch(ctx context.Context, docs []*models.EmbeddingDocument) error
	GetByIntent(ctx context.Context, intentID string) ([]*models.EmbeddingDocument, error)
	All(ctx context.Context) ([]*models.EmbeddingDocument, error)
	DeleteByIntent(ctx context.Context, intentID string) error
	Count(ctx context.Context) (int, error)
}
