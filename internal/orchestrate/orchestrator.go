// Package orchestrate turns decomposed subtasks into an execution plan
// and drives it through the tool router: level-parallel dispatch, retry
// policies, rollback with compensation, and live progress tracking.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucialabs/lucia/internal/adapters/retry"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Orchestrator implements ports.Orchestrator
type Orchestrator struct {
	cfg     config.OrchestratorConfig
	tools   ports.ToolRegistry
	router  ports.ToolDispatcher
	tracker *Tracker
	ids     ports.IDGenerator
	logger  *slog.Logger
}

func NewOrchestrator(cfg config.OrchestratorConfig, tools ports.ToolRegistry, router ports.ToolDispatcher, tracker *Tracker, ids ports.IDGenerator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		tools:   tools,
		router:  router,
		tracker: tracker,
		ids:     ids,
		logger:  logger,
	}
}

// runState is the mutable state shared by one Execute call
type runState struct {
	mu        sync.Mutex
	completed []*models.Subtask
	responses []*models.ToolResponse
	failed    bool
}

func (s *runState) recordSuccess(st *models.Subtask, resp *models.ToolResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, st)
	s.responses = append(s.responses, resp)
}

func (s *runState) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
}

func (s *runState) hasFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Execute runs the plan level by level. Subtasks inside a level dispatch
// concurrently, bounded by the parallel cap and the plan's width. The
// returned result always carries the final progress snapshot, even on
// cancellation or failure.
func (o *Orchestrator) Execute(ctx context.Context, plan *models.ExecutionPlan, ic models.InvocationContext) (*ports.ExecutionResult, error) {
	if plan == nil || plan.TotalSubtasks() == 0 {
		return nil, domain.ErrEmptyPlan
	}

	if o.cfg.PlanTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.planTimeout())
		defer cancel()
	}

	executionID := ic.TraceID
	if executionID == "" {
		executionID = o.ids.TraceID()
	}
	trackerID := o.tracker.Start(executionID, plan.AllSubtasks())
	state := &runState{}

	limit := o.cfg.ParallelTaskCap
	if w := widestLevel(plan); w < limit {
		limit = w
	}
	if limit < 1 {
		limit = 1
	}

	aborted := false
	for _, level := range plan.Levels {
		if ctx.Err() != nil || aborted {
			break
		}

		// Dependencies are ordering constraints, not data edges: a failed
		// dependency does not stop its dependents unless the plan rolls
		// back, where the skip cascade happens inside rollback.
		var g errgroup.Group
		g.SetLimit(limit)
		for _, st := range level {
			subtask := st
			g.Go(func() error {
				o.runSubtask(ctx, subtask, ic, trackerID, state)
				return nil
			})
		}
		_ = g.Wait()

		if state.hasFailure() && o.cfg.RollbackOnFailure {
			o.rollback(ctx, plan, ic, trackerID, state)
			aborted = true
		}
	}

	if err := ctx.Err(); err != nil {
		o.cancelRemaining(plan, trackerID)
	}

	snapshot, _ := o.tracker.Status(trackerID)
	result := &ports.ExecutionResult{
		TrackerID: trackerID,
		Plan:      plan,
		Snapshot:  snapshot,
		Responses: state.responses,
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return result, domain.NewTimeoutError("plan execution", o.planTimeout())
	case ctx.Err() != nil:
		return result, domain.NewCancellationError("plan execution", ctx.Err())
	default:
		return result, nil
	}
}

// runSubtask dispatches one subtask with its action's retry policy.
// Non-idempotent actions are never re-dispatched.
func (o *Orchestrator) runSubtask(ctx context.Context, st *models.Subtask, ic models.InvocationContext, trackerID string, state *runState) {
	action, ok := o.tools.Action(st.Action)
	if !ok {
		st.Fail(fmt.Errorf("%q: %w", st.Action, domain.ErrUnknownAction))
		o.trackUpdate(trackerID, st.ID, models.SubtaskStatusFailed, st.Error)
		state.recordFailure()
		return
	}

	st.Start()
	o.trackUpdate(trackerID, st.ID, models.SubtaskStatusExecuting, "")

	policy := retry.FromPolicy(action.Retry)
	if policy.MaxRetries > st.MaxRetries && st.MaxRetries > 0 {
		policy.MaxRetries = st.MaxRetries
	}
	if !action.Idempotent {
		policy.MaxRetries = 0
	}

	attempts := 0
	var resp *models.ToolResponse
	err := retry.WithBackoff(ctx, policy, func() error {
		attempts++
		r, derr := o.router.Dispatch(ctx, st.Action, st.Entities, ic)
		if derr != nil {
			return derr
		}
		resp = r
		return nil
	})
	st.Retries = attempts - 1

	if err != nil {
		if ctx.Err() != nil {
			st.Cancel()
			o.trackUpdate(trackerID, st.ID, models.SubtaskStatusCancelled, "")
			return
		}
		st.Fail(err)
		o.trackUpdate(trackerID, st.ID, models.SubtaskStatusFailed, st.Error)
		state.recordFailure()
		o.logger.Warn("subtask failed",
			"subtask_id", st.ID, "action", st.Action, "retries", st.Retries, "error", err)
		return
	}

	st.Complete(resp)
	o.trackUpdate(trackerID, st.ID, models.SubtaskStatusCompleted, "")
	state.recordSuccess(st, resp)
}

// rollback aborts the rest of the plan after a failure: pending subtasks
// downstream of the failure are skipped, unrelated pending subtasks are
// cancelled, and completed subtasks compensate in reverse completion
// order, best effort and never retried.
func (o *Orchestrator) rollback(ctx context.Context, plan *models.ExecutionPlan, ic models.InvocationContext, trackerID string, state *runState) {
	statusOf := make(map[string]models.SubtaskStatus)
	for _, st := range plan.AllSubtasks() {
		statusOf[st.ID] = st.Status
	}

	// Level order makes the skip cascade transitively.
	for _, st := range plan.AllSubtasks() {
		if st.Status != models.SubtaskStatusPending {
			continue
		}
		downstream := false
		for _, dep := range st.Dependencies {
			s := statusOf[dep]
			if s == models.SubtaskStatusFailed || s == models.SubtaskStatusSkipped {
				downstream = true
				break
			}
		}
		if downstream {
			st.Skip("upstream subtask failed")
			o.trackUpdate(trackerID, st.ID, models.SubtaskStatusSkipped, st.Error)
		} else {
			st.Cancel()
			o.trackUpdate(trackerID, st.ID, models.SubtaskStatusCancelled, "")
		}
		statusOf[st.ID] = st.Status
	}

	state.mu.Lock()
	completed := append([]*models.Subtask(nil), state.completed...)
	state.mu.Unlock()

	for i := len(completed) - 1; i >= 0; i-- {
		st := completed[i]
		action, ok := o.tools.Action(st.Action)
		if !ok || action.Compensate == "" {
			continue
		}
		if _, err := o.router.Dispatch(ctx, action.Compensate, st.Entities, ic); err != nil {
			o.logger.Warn("compensation failed",
				"subtask_id", st.ID, "action", action.Compensate, "error", err)
			continue
		}
		o.logger.Info("subtask compensated",
			"subtask_id", st.ID, "action", action.Compensate)
	}
}

// cancelRemaining marks whatever is still pending as cancelled
func (o *Orchestrator) cancelRemaining(plan *models.ExecutionPlan, trackerID string) {
	for _, st := range plan.AllSubtasks() {
		if st.Status == models.SubtaskStatusPending {
			st.Cancel()
			o.trackUpdate(trackerID, st.ID, models.SubtaskStatusCancelled, "")
		}
	}
}

func (o *Orchestrator) trackUpdate(trackerID, subtaskID string, status models.SubtaskStatus, errText string) {
	if err := o.tracker.Update(trackerID, subtaskID, status, errText); err != nil {
		o.logger.Warn("progress update failed", "tracker_id", trackerID, "error", err)
	}
}

func (o *Orchestrator) planTimeout() time.Duration {
	return time.Duration(o.cfg.PlanTimeoutMs) * time.Millisecond
}
