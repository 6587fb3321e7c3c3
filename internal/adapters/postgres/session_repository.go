package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// SessionRepository persists sessions for server deployments. The whole
// session travels as one JSONB document; user, state, and expiry are
// lifted into columns so search and the TTL sweeper stay index-friendly.
type SessionRepository struct {
	BaseRepository
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}

	query := `
		INSERT INTO lucia_sessions (
			id, user_id, state, data, last_activity, expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			data = EXCLUDED.data,
			last_activity = EXCLUDED.last_activity,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`

	_, err = r.conn(ctx).Exec(ctx, query,
		session.ID,
		session.UserID,
		string(session.State),
		data,
		session.LastActivity,
		session.ExpiresAt(),
		session.CreatedAt,
		session.UpdatedAt,
	)
	return err
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT data FROM lucia_sessions WHERE id = $1`

	var data []byte
	if err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&data); err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return decodeSession(data)
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lucia_sessions WHERE id = $1`, id)
	return err
}

func (r *SessionRepository) Search(ctx context.Context, criteria ports.SessionCriteria) ([]*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT data FROM lucia_sessions WHERE 1=1`
	args := make([]any, 0, 3)
	if criteria.UserID != "" {
		args = append(args, criteria.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if criteria.State != "" {
		args = append(args, string(criteria.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if !criteria.ActiveSince.IsZero() {
		args = append(args, criteria.ActiveSince)
		query += fmt.Sprintf(" AND last_activity >= $%d", len(args))
	}
	query += ` ORDER BY last_activity DESC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		session, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT data FROM lucia_sessions
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := r.conn(ctx).Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		session, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lucia_sessions`).Scan(&count)
	return count, err
}

func decodeSession(data []byte) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session row: %w", err)
	}
	return &session, nil
}
