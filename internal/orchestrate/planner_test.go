package orchestrate

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucialabs/lucia/internal/adapters/id"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

type fakeTools struct {
	actions map[string]*models.ToolAction
}

func (f *fakeTools) Action(name string) (*models.ToolAction, bool) {
	action, ok := f.actions[name]
	return action, ok
}

func (f *fakeTools) Actions() []*models.ToolAction {
	out := make([]*models.ToolAction, 0, len(f.actions))
	for _, action := range f.actions {
		out = append(out, action)
	}
	return out
}

func (f *fakeTools) ValidateInput(string, map[string]any) error  { return nil }
func (f *fakeTools) ValidateOutput(string, map[string]any) error { return nil }
func (f *fakeTools) Version() string                             { return "test" }

func testActions() *fakeTools {
	return &fakeTools{actions: map[string]*models.ToolAction{
		"weather.query": {
			Name: "weather.query", Transport: models.ToolTransportHTTP,
			Endpoint: "http://localhost:9101", Enabled: true,
			Idempotent: true, Retry: models.ToolRetryPolicy{Max: 2, MinMs: 1, MaxMs: 2},
		},
		"alarm.schedule": {
			Name: "alarm.schedule", Transport: models.ToolTransportHTTP,
			Endpoint: "http://localhost:9101", Enabled: true,
			Compensate: "alarm.cancel", Retry: models.ToolRetryPolicy{Max: 2, MinMs: 1, MaxMs: 2},
		},
		"alarm.cancel": {
			Name: "alarm.cancel", Transport: models.ToolTransportHTTP,
			Endpoint: "http://localhost:9101", Enabled: true, Idempotent: true,
		},
		"music.play": {
			Name: "music.play", Transport: models.ToolTransportHTTP,
			Endpoint: "http://localhost:9101", Enabled: true, Idempotent: true,
		},
		"light.set": {
			Name: "light.set", Transport: models.ToolTransportHTTP,
			Endpoint: "http://localhost:9101", Enabled: true, Idempotent: true,
		},
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(router ports.ToolDispatcher, cfg config.OrchestratorConfig, listeners ...Listener) *Orchestrator {
	ids := id.New()
	tracker := NewTracker(ids, quietLogger(), listeners...)
	return NewOrchestrator(cfg, testActions(), router, tracker, ids, quietLogger())
}

func testOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{ParallelTaskCap: 4, PlanTimeoutMs: 5000}
}

func task(id, action string, deps ...string) *models.Subtask {
	st := models.NewSubtask(id, action, map[string]any{})
	st.Dependencies = deps
	return st
}

func TestBuildPlanChain(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	plan, err := o.BuildPlan([]*models.Subtask{
		task("t1", "weather.query"),
		task("t2", "alarm.schedule", "t1"),
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"t1"}, {"t2"}}, plan.LevelIDs())
	assert.Equal(t, 1, widestLevel(plan))
}

func TestBuildPlanIndependentSubtasksShareALevel(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	plan, err := o.BuildPlan([]*models.Subtask{
		task("t1", "weather.query"),
		task("t2", "music.play"),
		task("t3", "light.set"),
	})
	require.NoError(t, err)
	require.Len(t, plan.Levels, 1)
	assert.Len(t, plan.Levels[0], 3)
	assert.Equal(t, 3, widestLevel(plan))
}

func TestBuildPlanDiamond(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	plan, err := o.BuildPlan([]*models.Subtask{
		task("a", "weather.query"),
		task("b", "music.play", "a"),
		task("c", "light.set", "a"),
		task("d", "alarm.schedule", "b", "c"),
	})
	require.NoError(t, err)
	require.Len(t, plan.Levels, 3)
	assert.Equal(t, []string{"a"}, plan.LevelIDs()[0])
	assert.ElementsMatch(t, []string{"b", "c"}, plan.LevelIDs()[1])
	assert.Equal(t, []string{"d"}, plan.LevelIDs()[2])
	assert.Equal(t, 2, widestLevel(plan))
}

func TestBuildPlanRejectsCycle(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	_, err := o.BuildPlan([]*models.Subtask{
		task("t1", "weather.query", "t2"),
		task("t2", "alarm.schedule", "t1"),
	})
	require.ErrorIs(t, err, domain.ErrDependencyCycle)
	var depErr *domain.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.ElementsMatch(t, []string{"t1", "t2"}, depErr.Cycle)
}

func TestBuildPlanRejectsDanglingDependency(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	_, err := o.BuildPlan([]*models.Subtask{
		task("t1", "weather.query", "t9"),
	})
	require.ErrorIs(t, err, domain.ErrDanglingDependency)
}

func TestBuildPlanRejectsUnknownAction(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	_, err := o.BuildPlan([]*models.Subtask{
		task("t1", "spaceship.launch"),
	})
	require.ErrorIs(t, err, domain.ErrUnknownAction)
}

func TestBuildPlanRejectsEmptyInput(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	_, err := o.BuildPlan(nil)
	require.ErrorIs(t, err, domain.ErrEmptyPlan)
}

// eventLog collects progress events from concurrent listeners
type eventLog struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (l *eventLog) listener() Listener {
	return func(event models.ProgressEvent) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, event)
	}
}

func (l *eventLog) statusesFor(subtaskID string) []models.SubtaskStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.SubtaskStatus
	for _, event := range l.events {
		if event.SubtaskID == subtaskID {
			out = append(out, event.Status)
		}
	}
	return out
}
