package models

import (
	"time"
)

// ProgressSnapshot is a point-in-time view of one tracked execution.
// Counter invariant: Pending + InProgress + Completed + Failed = Total.
type ProgressSnapshot struct {
	TrackerID   string    `json:"tracker_id"`
	Total       int       `json:"total"`
	Pending     int       `json:"pending"`
	InProgress  int       `json:"in_progress"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	IsCompleted bool      `json:"is_completed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Percent reports completed subtasks as a share of the total
func (s ProgressSnapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// Done reports whether no subtask remains pending or running
func (s ProgressSnapshot) Done() bool {
	return s.Pending+s.InProgress == 0
}

// Consistent verifies the counter invariant
func (s ProgressSnapshot) Consistent() bool {
	return s.Pending+s.InProgress+s.Completed+s.Failed == s.Total &&
		s.IsCompleted == (s.Completed == s.Total)
}

// ProgressEvent notifies observers of one subtask status change
type ProgressEvent struct {
	TrackerID string        `json:"tracker_id"`
	SubtaskID string        `json:"subtask_id"`
	Action    string        `json:"action"`
	Status    SubtaskStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
