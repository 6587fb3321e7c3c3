// Package memstore provides in-memory repositories used when no database
// is configured. Sessions live only as long as the process.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// SessionRepository is a map-backed session store. Sessions are stored as
// deep copies so callers never share mutable state with the store.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *SessionRepository) Save(ctx context.Context, session *models.Session) error {
	copied, err := cloneSession(session)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = copied
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session)
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *SessionRepository) Search(ctx context.Context, criteria ports.SessionCriteria) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Session
	for _, session := range r.sessions {
		if criteria.UserID != "" && session.UserID != criteria.UserID {
			continue
		}
		if criteria.State != "" && session.State != criteria.State {
			continue
		}
		if !criteria.ActiveSince.IsZero() && session.LastActivity.Before(criteria.ActiveSince) {
			continue
		}
		copied, err := cloneSession(session)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (r *SessionRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Session
	for _, session := range r.sessions {
		if session.TTL <= 0 || session.ExpiresAt().After(before) {
			continue
		}
		copied, err := cloneSession(session)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}

// cloneSession deep-copies through JSON; session graphs are small and the
// round trip keeps the copy honest as the model grows.
func cloneSession(session *models.Session) (*models.Session, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	var out models.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
