package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Manager owns session lifecycle: creation, per-session write exclusion,
// the LRU read-through cache, TTL enforcement, context snapshots, and
// history compression. All mutation goes through the per-session lock, so
// concurrent turns on the same session serialise.
type Manager struct {
	repo   ports.SessionRepository
	ids    ports.IDGenerator
	cfg    config.SessionConfig
	logger *slog.Logger

	cache *lruCache
	ring  *snapshotRing
	locks sync.Map // session id -> *sync.Mutex
}

func NewManager(repo ports.SessionRepository, ids ports.IDGenerator, cfg config.SessionConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		ids:    ids,
		cfg:    cfg,
		logger: logger,
		cache:  newLRUCache(cfg.MaxSessions),
		ring:   newSnapshotRing(cfg.SnapshotRingSize),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create starts a fresh session for a user
func (m *Manager) Create(ctx context.Context, userID string) (*models.Session, error) {
	session := models.NewSession(m.ids.SessionID(), userID, m.ttl())
	if err := m.persist(ctx, session, true); err != nil {
		return nil, err
	}
	m.logger.Info("session created", "session_id", session.ID, "user_id", userID)
	return session, nil
}

// GetOrCreate returns the named session, or a fresh one when the id is
// empty, unknown, or refers to an expired session.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	if sessionID == "" {
		return m.Create(ctx, userID)
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	session, err := m.load(ctx, sessionID)
	lock.Unlock()
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrSessionExpired) {
		return nil, err
	}

	session = models.NewSession(sessionID, userID, m.ttl())
	if err := m.persist(ctx, session, true); err != nil {
		return nil, err
	}
	m.logger.Info("session recreated", "session_id", sessionID, "user_id", userID)
	return session, nil
}

// Get returns the session or ErrSessionNotFound / ErrSessionExpired
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.load(ctx, sessionID)
}

// Save persists a session: activity is refreshed, history compressed when
// over threshold, and a context snapshot pushed onto the ring.
func (m *Manager) Save(ctx context.Context, session *models.Session) error {
	lock := m.lockFor(session.ID)
	lock.Lock()
	defer lock.Unlock()
	session.Touch()
	return m.persist(ctx, session, true)
}

// End marks the session completed
func (m *Manager) End(ctx context.Context, sessionID string) error {
	return m.Transition(ctx, sessionID, models.SessionStateCompleted, "ended by caller")
}

// Cancel marks the session cancelled
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	return m.Transition(ctx, sessionID, models.SessionStateCancelled, "cancelled by caller")
}

// Pause parks the session; only the TTL sweeper can move it afterwards
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	return m.Transition(ctx, sessionID, models.SessionStatePaused, "paused by caller")
}

// Delete removes the session, its snapshots, and its lock
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		return domain.NewSessionError(sessionID, err)
	}
	m.cache.remove(sessionID)
	m.ring.drop(sessionID)
	m.locks.Delete(sessionID)
	return nil
}

// Search delegates filtered listing to the repository
func (m *Manager) Search(ctx context.Context, criteria ports.SessionCriteria) ([]*models.Session, error) {
	return m.repo.Search(ctx, criteria)
}

// Active lists sessions currently in the active state
func (m *Manager) Active(ctx context.Context) ([]*models.Session, error) {
	return m.repo.Search(ctx, ports.SessionCriteria{State: models.SessionStateActive})
}

// Restore rewinds the session context to a prior snapshot. Index 0 is the
// most recent save; history is left untouched, only context, slots, and
// the current intent rewind.
func (m *Manager) Restore(ctx context.Context, sessionID string, versionIndex int) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	snap, err := m.ring.at(sessionID, versionIndex)
	if err != nil {
		return domain.NewSessionError(sessionID, err)
	}

	session.CurrentIntent = snap.CurrentIntent
	session.Slots = snap.Slots
	session.SlotAttempts = snap.SlotAttempts
	session.Context = snap.Context
	session.Touch()

	// No new snapshot on restore, so the ring keeps its rewind points.
	if err := m.persist(ctx, session, false); err != nil {
		return err
	}
	m.logger.Info("session context restored",
		"session_id", sessionID, "version_index", versionIndex, "taken_at", snap.TakenAt)
	return nil
}

// Transition validates and applies a state change, logging the event
func (m *Manager) Transition(ctx context.Context, sessionID string, to models.SessionState, reason string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	from := session.State
	if err := session.Transition(to); err != nil {
		return domain.NewSessionError(sessionID, err)
	}
	if err := m.persist(ctx, session, false); err != nil {
		return err
	}
	m.logger.Info("session state changed",
		"session_id", sessionID, "from", string(from), "to", string(to), "reason", reason)
	return nil
}

// WithSession runs fn under the session's lock and persists the result.
// This is the write path the turn pipeline uses.
func (m *Manager) WithSession(ctx context.Context, sessionID string, fn func(*models.Session) error) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := fn(session); err != nil {
		return err
	}
	session.Touch()
	return m.persist(ctx, session, true)
}

// SnapshotCount reports how many rewind points a session has
func (m *Manager) SnapshotCount(sessionID string) int {
	return m.ring.count(sessionID)
}

// load resolves a session through the cache, enforcing TTL on read.
// Callers hold the session lock.
func (m *Manager) load(ctx context.Context, sessionID string) (*models.Session, error) {
	session, ok := m.cache.get(sessionID)
	if !ok {
		var err error
		session, err = m.repo.Get(ctx, sessionID)
		if err != nil {
			return nil, domain.NewSessionError(sessionID, err)
		}
		m.cache.put(session)
	}

	if session.IsExpired(time.Now()) {
		m.evict(ctx, session)
		return nil, domain.NewSessionError(sessionID, domain.ErrSessionExpired)
	}
	return session, nil
}

// persist writes through to the repository and refreshes the cache,
// compressing history and capturing a snapshot when asked.
func (m *Manager) persist(ctx context.Context, session *models.Session, capture bool) error {
	if compressHistory(session, m.cfg.CompressionThreshold) {
		m.logger.Debug("session history compressed",
			"session_id", session.ID, "level", session.Context.CompressionLevel)
	}
	if capture {
		if err := m.ring.capture(session); err != nil {
			return domain.NewSessionError(session.ID, err)
		}
	}
	if err := m.repo.Save(ctx, session); err != nil {
		return domain.NewSessionError(session.ID, err)
	}
	m.cache.put(session)
	return nil
}

// evict removes an expired session from every layer
func (m *Manager) evict(ctx context.Context, session *models.Session) {
	if session.State != models.SessionStateExpired {
		// Best effort: terminal states reject the transition, which is fine.
		_ = session.Transition(models.SessionStateExpired)
	}
	if err := m.repo.Delete(ctx, session.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		m.logger.Warn("failed to delete expired session", "session_id", session.ID, "error", err)
	}
	m.cache.remove(session.ID)
	m.ring.drop(session.ID)
	m.locks.Delete(session.ID)
}

func (m *Manager) ttl() time.Duration {
	return time.Duration(m.cfg.TTLSeconds) * time.Second
}
