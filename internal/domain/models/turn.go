package models

import (
	"time"
)

// Turn is one user/system exchange inside a session. Once appended to
// history a turn is immutable except for the response fields filled at
// completion of the same exchange.
type Turn struct {
	ID               string    `json:"id"`
	UserMessage      string    `json:"user_message"`
	SystemResponse   string    `json:"system_response,omitempty"`
	DetectedIntent   string    `json:"detected_intent,omitempty"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func NewTurn(id, userMessage string) *Turn {
	return &Turn{
		ID:          id,
		UserMessage: userMessage,
		Timestamp:   time.Now(),
	}
}

// Complete fills the response side of the turn
func (t *Turn) Complete(response, intent string, confidence float64, elapsed time.Duration) {
	t.SystemResponse = response
	t.DetectedIntent = intent
	t.Confidence = confidence
	t.ProcessingTimeMs = elapsed.Milliseconds()
}

// Fail records a user-visible failure on the turn
func (t *Turn) Fail(err error, elapsed time.Duration) {
	if err != nil {
		t.Error = err.Error()
	}
	t.ProcessingTimeMs = elapsed.Milliseconds()
}
