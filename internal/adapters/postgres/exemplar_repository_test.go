package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
)

func TestExemplarRepository_GetByIntent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &ExemplarRepository{BaseRepository: BaseRepository{pool: nil}}

	created := time.Now()
	mock.ExpectQuery("SELECT id, intent_id, content, embedding, metadata, created_at").
		WithArgs("consultar_tiempo").
		WillReturnRows(pgxmock.NewRows([]string{"id", "intent_id", "content", "embedding", "metadata", "created_at"}).
			AddRow("doc_1", "consultar_tiempo", "¿qué tiempo hace en Madrid?",
				pgvector.NewVector([]float32{0.1, 0.2, 0.3}), []byte(nil), created))

	ctx := mockCtx(mock)
	docs, err := repo.GetByIntent(ctx, "consultar_tiempo")
	if err != nil {
		t.Fatalf("GetByIntent failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if docs[0].IntentID != "consultar_tiempo" {
		t.Errorf("wrong intent: %s", docs[0].IntentID)
	}
	if docs[0].Dimension() != 3 {
		t.Errorf("expected 3-dimensional vector, got %d", docs[0].Dimension())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestExemplarRepository_Count(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &ExemplarRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	ctx := mockCtx(mock)
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 42 {
		t.Errorf("expected 42, got %d", count)
	}
}

func TestContentHash_StableAndDistinct(t *testing.T) {
	a := ContentHash("consultar_tiempo", "¿qué tiempo hace?")
	b := ContentHash("consultar_tiempo", "¿qué tiempo hace?")
	if a != b {
		t.Error("hash must be stable for identical content")
	}
	if ContentHash("otra_cosa", "¿qué tiempo hace?") == a {
		t.Error("hash must separate intents with identical text")
	}
	if ContentHash("consultar_tiempo", "¿va a llover?") == a {
		t.Error("hash must separate different texts")
	}
}

func TestExemplarRepository_UpsertBatch_Empty(t *testing.T) {
	repo := &ExemplarRepository{BaseRepository: BaseRepository{pool: nil}}
	if err := repo.UpsertBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch must be a no-op: %v", err)
	}
}

func TestExemplarRepository_DeleteByIntent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &ExemplarRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectExec("DELETE FROM lucia_exemplars").
		WithArgs("consultar_tiempo").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	ctx := mockCtx(mock)
	if err := repo.DeleteByIntent(ctx, "consultar_tiempo"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
