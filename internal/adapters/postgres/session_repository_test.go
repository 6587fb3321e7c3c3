package postgres

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

func TestSessionRepository_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &SessionRepository{BaseRepository: BaseRepository{pool: nil}}

	session := models.NewSession("ses_abc", "user-1", 30*time.Minute)
	session.RecordIntent("consultar_tiempo")

	mock.ExpectExec("INSERT INTO lucia_sessions").
		WithArgs(
			session.ID, session.UserID, "active", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := mockCtx(mock)
	if err := repo.Save(ctx, session); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSessionRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &SessionRepository{BaseRepository: BaseRepository{pool: nil}}

	stored := models.NewSession("ses_abc", "user-1", 30*time.Minute)
	stored.SetSlot("ubicacion", "Madrid")
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("SELECT data FROM lucia_sessions").
		WithArgs("ses_abc").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	ctx := mockCtx(mock)
	session, err := repo.Get(ctx, "ses_abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if session.ID != "ses_abc" {
		t.Errorf("expected id ses_abc, got %s", session.ID)
	}
	if session.Slots["ubicacion"] != "Madrid" {
		t.Errorf("slot values not preserved: %v", session.Slots)
	}
	if session.TurnCount != len(session.History) {
		t.Errorf("turn_count %d != |history| %d", session.TurnCount, len(session.History))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSessionRepository_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &SessionRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectQuery("SELECT data FROM lucia_sessions").
		WithArgs("ses_missing").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	ctx := mockCtx(mock)
	_, err = repo.Get(ctx, "ses_missing")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepository_Search_ByUserAndState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &SessionRepository{BaseRepository: BaseRepository{pool: nil}}

	stored := models.NewSession("ses_1", "user-1", time.Hour)
	data, _ := json.Marshal(stored)

	mock.ExpectQuery("SELECT data FROM lucia_sessions").
		WithArgs("user-1", "active").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	ctx := mockCtx(mock)
	sessions, err := repo.Search(ctx, ports.SessionCriteria{
		UserID: "user-1",
		State:  models.SessionStateActive,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "ses_1" {
		t.Errorf("unexpected search result: %+v", sessions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSessionRepository_ListExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &SessionRepository{BaseRepository: BaseRepository{pool: nil}}

	stale := models.NewSession("ses_old", "user-1", time.Minute)
	stale.LastActivity = time.Now().Add(-time.Hour)
	data, _ := json.Marshal(stale)

	now := time.Now()
	mock.ExpectQuery("SELECT data FROM lucia_sessions").
		WithArgs(now, 256).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	ctx := mockCtx(mock)
	sessions, err := repo.ListExpired(ctx, now, 256)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "ses_old" {
		t.Errorf("unexpected expired set: %+v", sessions)
	}
	if !sessions[0].IsExpired(now) {
		t.Error("listed session should report expired")
	}
}

func TestSessionRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	repo := &SessionRepository{BaseRepository: BaseRepository{pool: nil}}

	mock.ExpectExec("DELETE FROM lucia_sessions").
		WithArgs("ses_abc").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ctx := mockCtx(mock)
	if err := repo.Delete(ctx, "ses_abc"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
