package models

import (
	"fmt"
)

// SessionState is the lifecycle state of a conversation session
type SessionState string

const (
	SessionStateActive       SessionState = "active"
	SessionStateWaitingSlots SessionState = "waiting_slots"
	SessionStateExecuting    SessionState = "executing"
	SessionStateCompleted    SessionState = "completed"
	SessionStateError        SessionState = "error"
	SessionStatePaused       SessionState = "paused"
	SessionStateCancelled    SessionState = "cancelled"
	SessionStateExpired      SessionState = "expired"
)

// SessionTransition represents a state transition
type SessionTransition struct {
	From SessionState
	To   SessionState
}

// validTransitions defines the allowed state transitions for sessions.
// error, cancelled, and expired are terminal; paused can only expire.
var validTransitions = map[SessionTransition]bool{
	// From active
	{SessionStateActive, SessionStateWaitingSlots}: true,
	{SessionStateActive, SessionStateExecuting}:    true,
	{SessionStateActive, SessionStateCompleted}:    true,
	{SessionStateActive, SessionStateError}:        true,
	{SessionStateActive, SessionStatePaused}:       true,
	{SessionStateActive, SessionStateCancelled}:    true,
	{SessionStateActive, SessionStateExpired}:      true,

	// From waiting_slots
	{SessionStateWaitingSlots, SessionStateActive}:    true,
	{SessionStateWaitingSlots, SessionStateExecuting}: true,
	{SessionStateWaitingSlots, SessionStateError}:     true,
	{SessionStateWaitingSlots, SessionStatePaused}:    true,
	{SessionStateWaitingSlots, SessionStateCancelled}: true,
	{SessionStateWaitingSlots, SessionStateExpired}:   true,

	// From executing
	{SessionStateExecuting, SessionStateCompleted}: true,
	{SessionStateExecuting, SessionStateError}:     true,
	{SessionStateExecuting, SessionStateCancelled}: true,
	{SessionStateExecuting, SessionStateExpired}:   true,

	// From completed: a new turn re-activates the session
	{SessionStateCompleted, SessionStateActive}:  true,
	{SessionStateCompleted, SessionStateError}:   true,
	{SessionStateCompleted, SessionStateExpired}: true,

	// From paused: only the TTL sweeper moves it
	{SessionStatePaused, SessionStateExpired}: true,

	// error, cancelled, expired are terminal - no transitions allowed
}

// ValidateTransition checks if a state transition is valid and returns an error if not
func ValidateTransition(from, to SessionState) error {
	// No-op transition is always valid
	if from == to {
		return nil
	}

	transition := SessionTransition{From: from, To: to}
	if !validTransitions[transition] {
		return NewInvalidTransitionError(from, to)
	}

	return nil
}

// IsValidTransition checks if a transition between two states is valid
func IsValidTransition(from, to SessionState) bool {
	return ValidateTransition(from, to) == nil
}

// GetValidTransitions returns all valid transitions from a given state
func GetValidTransitions(from SessionState) []SessionState {
	validStates := make([]SessionState, 0)

	for transition := range validTransitions {
		if transition.From == from {
			validStates = append(validStates, transition.To)
		}
	}

	return validStates
}

// IsTerminal reports whether no outgoing transitions exist from the state
func IsTerminal(state SessionState) bool {
	return len(GetValidTransitions(state)) == 0
}

// CanAcceptTurn reports whether a session in the given state may receive a new user turn
func CanAcceptTurn(state SessionState) bool {
	switch state {
	case SessionStateActive, SessionStateWaitingSlots, SessionStateCompleted:
		return true
	default:
		return false
	}
}

// CanCancel reports whether an explicit cancel is allowed from the state
func CanCancel(state SessionState) bool {
	return IsValidTransition(state, SessionStateCancelled)
}

// InvalidTransitionError represents an error for invalid state transitions
type InvalidTransitionError struct {
	From    SessionState
	To      SessionState
	Message string
}

func (e *InvalidTransitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid session state transition from '%s' to '%s'", e.From, e.To)
}

// NewInvalidTransitionError creates a new InvalidTransitionError with a descriptive message
func NewInvalidTransitionError(from, to SessionState) *InvalidTransitionError {
	message := generateTransitionErrorMessage(from, to)
	return &InvalidTransitionError{
		From:    from,
		To:      to,
		Message: message,
	}
}

// generateTransitionErrorMessage creates a helpful error message for invalid transitions
func generateTransitionErrorMessage(from, to SessionState) string {
	switch from {
	case SessionStateExpired:
		return "cannot transition from expired state: session TTL has elapsed"
	case SessionStateCancelled:
		return "cannot transition from cancelled state: session was cancelled by the caller"
	case SessionStateError:
		return "cannot transition from error state: session ended with an unrecoverable failure"
	case SessionStatePaused:
		if to == SessionStatePaused {
			return "session is already paused"
		}
		return fmt.Sprintf("cannot transition from paused to '%s': paused sessions can only expire", to)
	default:
		validStates := GetValidTransitions(from)
		if len(validStates) > 0 {
			return fmt.Sprintf("invalid transition from '%s' to '%s': valid transitions are %v", from, to, validStates)
		}
		return fmt.Sprintf("invalid transition from '%s' to '%s': no valid transitions from this state", from, to)
	}
}

// SessionStateEvent represents a state change event for auditing
type SessionStateEvent struct {
	SessionID string
	FromState SessionState
	ToState   SessionState
	Reason    string
	Timestamp int64 // Unix timestamp
}

// NewStateEvent creates a new state change event
func NewStateEvent(sessionID string, from, to SessionState, reason string) *SessionStateEvent {
	return &SessionStateEvent{
		SessionID: sessionID,
		FromState: from,
		ToState:   to,
		Reason:    reason,
		Timestamp: 0, // Will be set by the caller with time.Now().Unix()
	}
}
