package models

import (
	"time"
)

// SessionPreferences carries per-user presentation choices
type SessionPreferences struct {
	Language          string `json:"language,omitempty"`
	ResponseStyle     string `json:"response_style,omitempty"`
	MaxResponseTokens int    `json:"max_response_tokens,omitempty"`
}

// SessionContext is the accumulated conversational context of a session.
// The entity cache keeps recently confirmed slot values for reuse across
// turns; the summary holds text folded out of history by compression.
type SessionContext struct {
	Preferences      *SessionPreferences `json:"preferences,omitempty"`
	IntentFrequency  map[string]int      `json:"intent_frequency,omitempty"`
	EntityCache      map[string]string   `json:"entity_cache,omitempty"`
	Summary          string              `json:"summary,omitempty"`
	CompressionLevel int                 `json:"compression_level"`
}

// Session represents one user's conversation with Lucía
type Session struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	State         SessionState      `json:"state"`
	History       []*Turn           `json:"history"`
	CurrentIntent string            `json:"current_intent,omitempty"`
	Slots         map[string]string `json:"slots,omitempty"`
	SlotAttempts  map[string]int    `json:"slot_attempts,omitempty"`
	Context       *SessionContext   `json:"context,omitempty"`

	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	LastActivity time.Time     `json:"last_activity"`
	TurnCount    int           `json:"turn_count"`
	TTL          time.Duration `json:"ttl"`
}

func NewSession(id, userID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		State:        SessionStateActive,
		History:      make([]*Turn, 0),
		Slots:        make(map[string]string),
		SlotAttempts: make(map[string]int),
		Context: &SessionContext{
			IntentFrequency: make(map[string]int),
			EntityCache:     make(map[string]string),
		},
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
		TTL:          ttl,
	}
}

// Transition moves the session to a new state with validation
func (s *Session) Transition(to SessionState) error {
	if err := ValidateTransition(s.State, to); err != nil {
		return err
	}
	s.State = to
	s.UpdatedAt = time.Now()
	return nil
}

// AddTurn appends a turn to history, keeping turn_count equal to len(history)
func (s *Session) AddTurn(turn *Turn) {
	s.History = append(s.History, turn)
	s.TurnCount = len(s.History)
	s.Touch()
}

// Touch refreshes the activity timestamps
func (s *Session) Touch() {
	now := time.Now()
	s.LastActivity = now
	s.UpdatedAt = now
}

// IsExpired reports whether the TTL has elapsed since the last activity
func (s *Session) IsExpired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > s.TTL
}

// ExpiresAt returns the instant at which the session becomes stale
func (s *Session) ExpiresAt() time.Time {
	return s.LastActivity.Add(s.TTL)
}

// RecordIntent sets the current intent and bumps its frequency counter
func (s *Session) RecordIntent(intent string) {
	s.CurrentIntent = intent
	if s.Context == nil {
		s.Context = &SessionContext{}
	}
	if s.Context.IntentFrequency == nil {
		s.Context.IntentFrequency = make(map[string]int)
	}
	s.Context.IntentFrequency[intent]++
}

// SetSlot stores a validated slot value and caches it for later turns
func (s *Session) SetSlot(name, value string) {
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	s.Slots[name] = value
	s.RememberEntity(name, value)
}

// ClearSlots resets slot state after an intent completes or is abandoned
func (s *Session) ClearSlots() {
	s.Slots = make(map[string]string)
	s.SlotAttempts = make(map[string]int)
}

// BumpSlotAttempt increments and returns the ask counter for a slot
func (s *Session) BumpSlotAttempt(name string) int {
	if s.SlotAttempts == nil {
		s.SlotAttempts = make(map[string]int)
	}
	s.SlotAttempts[name]++
	return s.SlotAttempts[name]
}

// RememberEntity stores a confirmed value in the entity cache
func (s *Session) RememberEntity(name, value string) {
	if s.Context == nil {
		s.Context = &SessionContext{}
	}
	if s.Context.EntityCache == nil {
		s.Context.EntityCache = make(map[string]string)
	}
	s.Context.EntityCache[name] = value
}

// LastTurn returns the most recent turn, or nil for a fresh session
func (s *Session) LastTurn() *Turn {
	if len(s.History) == 0 {
		return nil
	}
	return s.History[len(s.History)-1]
}
