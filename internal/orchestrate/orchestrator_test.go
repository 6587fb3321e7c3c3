package orchestrate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// fakeRouter scripts dispatch outcomes per action and records call order
type fakeRouter struct {
	mu          sync.Mutex
	calls       []string
	counts      map[string]int
	fail        map[string]error
	failFirst   map[string]int
	delay       map[string]time.Duration
	inFlight    int
	maxInFlight int
}

func (r *fakeRouter) Dispatch(ctx context.Context, action string, input map[string]any, ic models.InvocationContext) (*models.ToolResponse, error) {
	r.mu.Lock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[action]++
	attempt := r.counts[action]
	r.calls = append(r.calls, action)
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	delay := r.delay[action]
	failErr := r.fail[action]
	failFirst := r.failFirst[action]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if attempt <= failFirst {
		return nil, domain.NewTransientProviderError("test-plugin", action, errors.New("transient glitch"))
	}
	return models.NewTextResponse("ok: " + action), nil
}

func (r *fakeRouter) countOf(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[action]
}

func (r *fakeRouter) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func testInvocation() models.InvocationContext {
	return models.InvocationContext{SessionID: "ses_test", Locale: "es-ES", TraceID: "trace-test"}
}

func TestExecuteTwoLevelPlan(t *testing.T) {
	router := &fakeRouter{}
	o := newTestOrchestrator(router, testOrchestratorConfig())

	// "consulta el tiempo de Madrid y programa una alarma si va a llover"
	weather := task("t1", "weather.query")
	weather.Entities = map[string]any{"ubicacion": "Madrid"}
	alarm := task("t2", "alarm.schedule", "t1")

	plan, err := o.BuildPlan([]*models.Subtask{weather, alarm})
	require.NoError(t, err)
	require.Len(t, plan.Levels, 2)

	result, err := o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	assert.Equal(t, models.SubtaskStatusCompleted, weather.Status)
	assert.Equal(t, models.SubtaskStatusCompleted, alarm.Status)
	require.NotNil(t, weather.Result)
	assert.Equal(t, "ok: weather.query", weather.Result.Content)

	assert.True(t, result.Snapshot.IsCompleted)
	assert.Equal(t, 100.0, result.Snapshot.Percent())
	require.Len(t, result.Responses, 2)
	assert.Equal(t, []string{"weather.query", "alarm.schedule"}, router.called(),
		"level two must wait for level one")
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	router := &fakeRouter{failFirst: map[string]int{"weather.query": 1}}
	o := newTestOrchestrator(router, testOrchestratorConfig())

	weather := task("t1", "weather.query")
	plan, err := o.BuildPlan([]*models.Subtask{weather})
	require.NoError(t, err)

	result, err := o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	assert.Equal(t, models.SubtaskStatusCompleted, weather.Status)
	assert.Equal(t, 1, weather.Retries)
	assert.Equal(t, 2, router.countOf("weather.query"))
	assert.True(t, result.Snapshot.IsCompleted)
}

func TestExecuteNeverRetriesNonIdempotentActions(t *testing.T) {
	// alarm.schedule declares retries but is not idempotent.
	router := &fakeRouter{failFirst: map[string]int{"alarm.schedule": 1}}
	o := newTestOrchestrator(router, testOrchestratorConfig())

	alarm := task("t1", "alarm.schedule")
	plan, err := o.BuildPlan([]*models.Subtask{alarm})
	require.NoError(t, err)

	result, err := o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	assert.Equal(t, models.SubtaskStatusFailed, alarm.Status)
	assert.Equal(t, 0, alarm.Retries)
	assert.Equal(t, 1, router.countOf("alarm.schedule"))
	assert.Equal(t, 1, result.Snapshot.Failed)
}

func TestExecuteFailureStillRunsLaterLevelsWithoutRollback(t *testing.T) {
	router := &fakeRouter{fail: map[string]error{
		"weather.query": domain.NewPermanentProviderError("test-plugin", "weather.query", errors.New("bad request")),
	}}
	o := newTestOrchestrator(router, testOrchestratorConfig())

	weather := task("t1", "weather.query")
	music := task("t2", "music.play", "t1")
	light := task("t3", "light.set")

	plan, err := o.BuildPlan([]*models.Subtask{weather, music, light})
	require.NoError(t, err)

	result, err := o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err, "partial failure is reported through the snapshot, not an error")

	assert.Equal(t, models.SubtaskStatusFailed, weather.Status)
	// Dependencies are ordering constraints only: the dependent still runs.
	assert.Equal(t, models.SubtaskStatusCompleted, music.Status)
	assert.Equal(t, 1, router.countOf("music.play"))
	assert.Equal(t, models.SubtaskStatusCompleted, light.Status)

	assert.True(t, result.Snapshot.Done())
	assert.False(t, result.Snapshot.IsCompleted)
	assert.Equal(t, 1, result.Snapshot.Failed)
	assert.Equal(t, 2, result.Snapshot.Completed)
	require.Len(t, result.Responses, 2)
}

func TestExecuteRollbackCompensatesCompletedWork(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.RollbackOnFailure = true
	router := &fakeRouter{
		fail: map[string]error{
			"weather.query": domain.NewPermanentProviderError("test-plugin", "weather.query", errors.New("bad request")),
		},
		// Make the alarm finish before the failure is observed.
		delay: map[string]time.Duration{"weather.query": 20 * time.Millisecond},
	}
	o := newTestOrchestrator(router, cfg)

	alarm := task("t1", "alarm.schedule")
	weather := task("t2", "weather.query")
	music := task("t3", "music.play", "t2")
	light := task("t4", "light.set", "t1")

	plan, err := o.BuildPlan([]*models.Subtask{alarm, weather, music, light})
	require.NoError(t, err)

	result, err := o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	assert.Equal(t, models.SubtaskStatusCompleted, alarm.Status)
	assert.Equal(t, models.SubtaskStatusFailed, weather.Status)
	assert.Equal(t, models.SubtaskStatusSkipped, music.Status, "downstream of the failure")
	assert.Equal(t, models.SubtaskStatusCancelled, light.Status, "unrelated pending work is cancelled")

	assert.Equal(t, 1, router.countOf("alarm.cancel"), "completed alarm must be compensated")
	assert.Equal(t, 0, router.countOf("light.set"))
	assert.False(t, result.Snapshot.IsCompleted)
	assert.True(t, result.Snapshot.Done())
}

func TestExecuteCancelledContext(t *testing.T) {
	router := &fakeRouter{}
	o := newTestOrchestrator(router, testOrchestratorConfig())

	weather := task("t1", "weather.query")
	plan, err := o.BuildPlan([]*models.Subtask{weather})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Execute(ctx, plan, testInvocation())
	var cancelErr *domain.CancellationError
	require.ErrorAs(t, err, &cancelErr)

	require.NotNil(t, result)
	assert.Equal(t, models.SubtaskStatusCancelled, weather.Status)
	assert.Empty(t, result.Responses)
	assert.Empty(t, router.called())
	assert.True(t, result.Snapshot.Done())
}

func TestExecutePlanTimeout(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.PlanTimeoutMs = 30
	router := &fakeRouter{delay: map[string]time.Duration{"weather.query": 500 * time.Millisecond}}
	o := newTestOrchestrator(router, cfg)

	weather := task("t1", "weather.query")
	alarm := task("t2", "alarm.schedule", "t1")
	plan, err := o.BuildPlan([]*models.Subtask{weather, alarm})
	require.NoError(t, err)

	result, err := o.Execute(context.Background(), plan, testInvocation())
	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	assert.Equal(t, models.SubtaskStatusCancelled, weather.Status)
	assert.Equal(t, models.SubtaskStatusCancelled, alarm.Status)
	assert.True(t, result.Snapshot.Done())
}

func TestExecuteParallelCap(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.ParallelTaskCap = 1
	router := &fakeRouter{delay: map[string]time.Duration{
		"weather.query": 10 * time.Millisecond,
		"music.play":    10 * time.Millisecond,
		"light.set":     10 * time.Millisecond,
	}}
	o := newTestOrchestrator(router, cfg)

	plan, err := o.BuildPlan([]*models.Subtask{
		task("t1", "weather.query"),
		task("t2", "music.play"),
		task("t3", "light.set"),
	})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Equal(t, 1, router.maxInFlight)
}

func TestExecuteLevelRunsConcurrently(t *testing.T) {
	router := &fakeRouter{delay: map[string]time.Duration{
		"weather.query": 50 * time.Millisecond,
		"music.play":    50 * time.Millisecond,
	}}
	o := newTestOrchestrator(router, testOrchestratorConfig())

	plan, err := o.BuildPlan([]*models.Subtask{
		task("t1", "weather.query"),
		task("t2", "music.play"),
	})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Equal(t, 2, router.maxInFlight)
}

func TestExecuteEmptyPlan(t *testing.T) {
	o := newTestOrchestrator(&fakeRouter{}, testOrchestratorConfig())

	_, err := o.Execute(context.Background(), &models.ExecutionPlan{}, testInvocation())
	require.ErrorIs(t, err, domain.ErrEmptyPlan)
}

func TestExecuteEmitsProgressEvents(t *testing.T) {
	log := &eventLog{}
	router := &fakeRouter{}
	o := newTestOrchestrator(router, testOrchestratorConfig(), log.listener())

	weather := task("t1", "weather.query")
	plan, err := o.BuildPlan([]*models.Subtask{weather})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), plan, testInvocation())
	require.NoError(t, err)

	assert.Equal(t,
		[]models.SubtaskStatus{models.SubtaskStatusExecuting, models.SubtaskStatusCompleted},
		log.statusesFor("t1"))
}
