package orchestrate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Listener receives one event per subtask status change
type Listener func(models.ProgressEvent)

// Tracker maintains live progress counters per execution. The counter
// invariant pending+in_progress+completed+failed == total holds after
// every update; skipped and cancelled subtasks count as failed.
type Tracker struct {
	ids       ports.IDGenerator
	logger    *slog.Logger
	listeners []Listener

	mu         sync.RWMutex
	executions map[string]*execution
}

type execution struct {
	trackerID   string
	executionID string
	statuses    map[string]models.SubtaskStatus
	actions     map[string]string
	startedAt   time.Time
	updatedAt   time.Time
}

func NewTracker(ids ports.IDGenerator, logger *slog.Logger, listeners ...Listener) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		ids:        ids,
		logger:     logger,
		listeners:  listeners,
		executions: make(map[string]*execution),
	}
}

// Start registers an execution and returns its tracker id. All subtasks
// begin pending.
func (t *Tracker) Start(executionID string, subtasks []*models.Subtask) string {
	exec := &execution{
		trackerID:   t.ids.TrackerID(),
		executionID: executionID,
		statuses:    make(map[string]models.SubtaskStatus, len(subtasks)),
		actions:     make(map[string]string, len(subtasks)),
		startedAt:   time.Now(),
		updatedAt:   time.Now(),
	}
	for _, st := range subtasks {
		exec.statuses[st.ID] = models.SubtaskStatusPending
		exec.actions[st.ID] = st.Action
	}

	t.mu.Lock()
	t.executions[exec.trackerID] = exec
	t.mu.Unlock()

	t.logger.Info("execution tracking started",
		"tracker_id", exec.trackerID, "execution_id", executionID, "subtasks", len(subtasks))
	return exec.trackerID
}

// Update records a subtask status change and notifies listeners
func (t *Tracker) Update(trackerID, subtaskID string, status models.SubtaskStatus, errText string) error {
	t.mu.Lock()
	exec, ok := t.executions[trackerID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("tracker %s: %w", trackerID, domain.ErrNotFound)
	}
	if _, ok := exec.statuses[subtaskID]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("tracker %s subtask %s: %w", trackerID, subtaskID, domain.ErrNotFound)
	}
	exec.statuses[subtaskID] = status
	exec.updatedAt = time.Now()
	event := models.ProgressEvent{
		TrackerID: trackerID,
		SubtaskID: subtaskID,
		Action:    exec.actions[subtaskID],
		Status:    status,
		Error:     errText,
		Timestamp: exec.updatedAt,
	}
	snapshot := exec.snapshot()
	t.mu.Unlock()

	t.notify(event)
	if snapshot.IsCompleted {
		t.logger.Info("execution completed",
			"tracker_id", trackerID, "total", snapshot.Total)
	}
	return nil
}

// Status returns the current snapshot for a tracker
func (t *Tracker) Status(trackerID string) (models.ProgressSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exec, ok := t.executions[trackerID]
	if !ok {
		return models.ProgressSnapshot{}, fmt.Errorf("tracker %s: %w", trackerID, domain.ErrNotFound)
	}
	return exec.snapshot(), nil
}

// Cancel marks every non-terminal subtask cancelled
func (t *Tracker) Cancel(trackerID string) error {
	t.mu.Lock()
	exec, ok := t.executions[trackerID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("tracker %s: %w", trackerID, domain.ErrNotFound)
	}
	var events []models.ProgressEvent
	now := time.Now()
	for id, status := range exec.statuses {
		if status == models.SubtaskStatusPending || status == models.SubtaskStatusExecuting {
			exec.statuses[id] = models.SubtaskStatusCancelled
			events = append(events, models.ProgressEvent{
				TrackerID: trackerID,
				SubtaskID: id,
				Action:    exec.actions[id],
				Status:    models.SubtaskStatusCancelled,
				Timestamp: now,
			})
		}
	}
	exec.updatedAt = now
	t.mu.Unlock()

	for _, event := range events {
		t.notify(event)
	}
	return nil
}

// Cleanup drops finished executions older than the retention window and
// returns how many were removed.
func (t *Tracker) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, exec := range t.executions {
		if exec.snapshot().Done() && exec.updatedAt.Before(cutoff) {
			delete(t.executions, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) notify(event models.ProgressEvent) {
	for _, listener := range t.listeners {
		listener(event)
	}
}

// snapshot derives the counters from per-subtask statuses, so the
// invariant holds by construction. Callers hold the tracker lock.
func (e *execution) snapshot() models.ProgressSnapshot {
	snap := models.ProgressSnapshot{
		TrackerID: e.trackerID,
		Total:     len(e.statuses),
		UpdatedAt: e.updatedAt,
	}
	for _, status := range e.statuses {
		switch status {
		case models.SubtaskStatusPending:
			snap.Pending++
		case models.SubtaskStatusExecuting:
			snap.InProgress++
		case models.SubtaskStatusCompleted:
			snap.Completed++
		default:
			// failed, skipped, cancelled
			snap.Failed++
		}
	}
	snap.IsCompleted = snap.Completed == snap.Total
	return snap
}
