package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// ExemplarRepository caches catalog-example embeddings. The content hash
// keys re-embedding decisions: an example whose text is unchanged keeps
// its stored vector across restarts and registry reloads.
type ExemplarRepository struct {
	BaseRepository
}

func NewExemplarRepository(pool *pgxpool.Pool) *ExemplarRepository {
	return &ExemplarRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

// ContentHash fingerprints an exemplar's text for warm-load matching
func ContentHash(intentID, text string) string {
	sum := sha256.Sum256([]byte(intentID + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}

// UpsertBatch writes all documents in one transaction so a partial failure
// never leaves a half-written batch behind.
func (r *ExemplarRepository) UpsertBatch(ctx context.Context, docs []*models.EmbeddingDocument) error {
	if len(docs) == 0 {
		return nil
	}
	return WithTransaction(ctx, r.Pool(), func(txCtx context.Context) error {
		for _, doc := range docs {
			if err := r.upsert(txCtx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ExemplarRepository) upsert(ctx context.Context, doc *models.EmbeddingDocument) error {
	var metadata []byte
	if len(doc.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(doc.Metadata)
		if err != nil {
			return err
		}
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO lucia_exemplars (
			id, intent_id, content, content_hash, embedding, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (content_hash) DO UPDATE SET
			intent_id = EXCLUDED.intent_id,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`

	_, err := r.conn(ctx).Exec(ctx, query,
		doc.ID,
		doc.IntentID,
		doc.Text,
		ContentHash(doc.IntentID, doc.Text),
		pgvector.NewVector(doc.Vector),
		metadata,
		createdAt,
	)
	return err
}

func (r *ExemplarRepository) GetByIntent(ctx context.Context, intentID string) ([]*models.EmbeddingDocument, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, intent_id, content, embedding, metadata, created_at
		FROM lucia_exemplars
		WHERE intent_id = $1
		ORDER BY created_at, id`

	rows, err := r.conn(ctx).Query(ctx, query, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExemplars(rows)
}

func (r *ExemplarRepository) All(ctx context.Context) ([]*models.EmbeddingDocument, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, intent_id, content, embedding, metadata, created_at
		FROM lucia_exemplars
		ORDER BY created_at, id`

	rows, err := r.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExemplars(rows)
}

func (r *ExemplarRepository) DeleteByIntent(ctx context.Context, intentID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lucia_exemplars WHERE intent_id = $1`, intentID)
	return err
}

func (r *ExemplarRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lucia_exemplars`).Scan(&count)
	return count, err
}

func scanExemplars(rows pgx.Rows) ([]*models.EmbeddingDocument, error) {
	var docs []*models.EmbeddingDocument
	for rows.Next() {
		var (
			doc       models.EmbeddingDocument
			embedding pgvector.Vector
			metadata  []byte
		)
		if err := rows.Scan(&doc.ID, &doc.IntentID, &doc.Text, &embedding, &metadata, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Vector = embedding.Slice()
		if err := unmarshalJSONField(metadata, &doc.Metadata); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
