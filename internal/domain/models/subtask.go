package models

import (
	"time"
)

// SubtaskStatus is the execution state of one subtask
type SubtaskStatus string

const (
	SubtaskStatusPending   SubtaskStatus = "pending"
	SubtaskStatusExecuting SubtaskStatus = "executing"
	SubtaskStatusCompleted SubtaskStatus = "completed"
	SubtaskStatusFailed    SubtaskStatus = "failed"
	SubtaskStatusSkipped   SubtaskStatus = "skipped"
	SubtaskStatusCancelled SubtaskStatus = "cancelled"
)

// Subtask is one unit of work produced by decomposition. Dependencies
// reference sibling subtask ids and must form a DAG. The orchestrator owns
// all mutation after planning.
type Subtask struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	Entities     map[string]any `json:"entities,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Status       SubtaskStatus  `json:"status"`
	Retries      int            `json:"retries"`
	MaxRetries   int            `json:"max_retries"`
	Result       *ToolResponse  `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

func NewSubtask(id, action string, entities map[string]any) *Subtask {
	return &Subtask{
		ID:       id,
		Action:   action,
		Entities: entities,
		Status:   SubtaskStatusPending,
	}
}

// Start marks the subtask as executing
func (st *Subtask) Start() {
	now := time.Now()
	st.Status = SubtaskStatusExecuting
	st.StartedAt = &now
}

// Complete records a successful result
func (st *Subtask) Complete(result *ToolResponse) {
	now := time.Now()
	st.Status = SubtaskStatusCompleted
	st.Result = result
	st.CompletedAt = &now
}

// Fail records a terminal failure
func (st *Subtask) Fail(err error) {
	now := time.Now()
	st.Status = SubtaskStatusFailed
	if err != nil {
		st.Error = err.Error()
	}
	st.CompletedAt = &now
}

// Skip marks a subtask abandoned because a dependency failed
func (st *Subtask) Skip(reason string) {
	now := time.Now()
	st.Status = SubtaskStatusSkipped
	st.Error = reason
	st.CompletedAt = &now
}

// Cancel marks a subtask abandoned because the caller cancelled
func (st *Subtask) Cancel() {
	now := time.Now()
	st.Status = SubtaskStatusCancelled
	st.CompletedAt = &now
}

// IsTerminal reports whether the subtask has finished, either way
func (st *Subtask) IsTerminal() bool {
	switch st.Status {
	case SubtaskStatusCompleted, SubtaskStatusFailed, SubtaskStatusSkipped, SubtaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanRetry reports whether another attempt is allowed
func (st *Subtask) CanRetry() bool {
	return st.Retries < st.MaxRetries
}

// DependsOn reports whether the subtask lists id as a dependency
func (st *Subtask) DependsOn(id string) bool {
	for _, dep := range st.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
