package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// contextSnapshot is what a save preserves for later restore: the
// conversational context, not the full history.
type contextSnapshot struct {
	TakenAt       time.Time              `msgpack:"taken_at"`
	CurrentIntent string                 `msgpack:"current_intent"`
	Slots         map[string]string      `msgpack:"slots"`
	SlotAttempts  map[string]int         `msgpack:"slot_attempts"`
	Context       *models.SessionContext `msgpack:"context"`
	TurnCount     int                    `msgpack:"turn_count"`
}

// snapshotRing keeps the last N context snapshots per session as msgpack
// blobs. Index 0 is the most recent snapshot.
type snapshotRing struct {
	mu   sync.Mutex
	size int
	ring map[string][][]byte
}

func newSnapshotRing(size int) *snapshotRing {
	if size < 1 {
		size = 1
	}
	return &snapshotRing{size: size, ring: make(map[string][][]byte)}
}

// capture encodes the session's context and pushes it onto the ring,
// dropping the oldest entry when full.
func (r *snapshotRing) capture(session *models.Session) error {
	snap := contextSnapshot{
		TakenAt:       time.Now(),
		CurrentIntent: session.CurrentIntent,
		Slots:         cloneStringMap(session.Slots),
		SlotAttempts:  cloneIntMap(session.SlotAttempts),
		Context:       cloneContext(session.Context),
		TurnCount:     session.TurnCount,
	}
	blob, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encoding context snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := append([][]byte{blob}, r.ring[session.ID]...)
	if len(entries) > r.size {
		entries = entries[:r.size]
	}
	r.ring[session.ID] = entries
	return nil
}

// at decodes the snapshot at the given index, 0 being the most recent
func (r *snapshotRing) at(sessionID string, index int) (*contextSnapshot, error) {
	r.mu.Lock()
	entries := r.ring[sessionID]
	r.mu.Unlock()

	if index < 0 || index >= len(entries) {
		return nil, domain.ErrSnapshotNotFound
	}
	var snap contextSnapshot
	if err := msgpack.Unmarshal(entries[index], &snap); err != nil {
		return nil, fmt.Errorf("decoding context snapshot: %w", err)
	}
	return &snap, nil
}

func (r *snapshotRing) count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ring[sessionID])
}

func (r *snapshotRing) drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ring, sessionID)
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneContext(c *models.SessionContext) *models.SessionContext {
	if c == nil {
		return nil
	}
	out := *c
	out.IntentFrequency = cloneIntMap(c.IntentFrequency)
	out.EntityCache = cloneStringMap(c.EntityCache)
	if c.Preferences != nil {
		prefs := *c.Preferences
		out.Preferences = &prefs
	}
	return &out
}
