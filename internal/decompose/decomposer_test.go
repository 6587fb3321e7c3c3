package decompose

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucialabs/lucia/internal/adapters/id"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

type fakeIntents struct {
	intents map[string]*models.IntentDefinition
}

func (f *fakeIntents) Get(id string) (*models.IntentDefinition, bool) {
	intent, ok := f.intents[id]
	return intent, ok
}

func (f *fakeIntents) All() []*models.IntentDefinition {
	out := make([]*models.IntentDefinition, 0, len(f.intents))
	for _, intent := range f.intents {
		out = append(out, intent)
	}
	return out
}

func (f *fakeIntents) Defaults() models.CatalogDefaults { return models.CatalogDefaults{} }
func (f *fakeIntents) Version() string                  { return "test" }

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

type fakeProgram struct {
	output string
	err    error
	inputs map[string]any
}

func (f *fakeProgram) Process(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	f.inputs = inputs
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"subtasks_json": f.output}, nil
}

func testRegistries() (*fakeIntents, *fakeTools) {
	intents := &fakeIntents{intents: map[string]*models.IntentDefinition{
		"consultar_tiempo": {
			ID:            "consultar_tiempo",
			Description:   "consultar el tiempo",
			Examples:      []string{"qué tiempo hace"},
			RequiredSlots: []string{"ubicacion"},
			ToolAction:    "weather.query",
		},
		"ayuda": {
			ID:          "ayuda",
			Description: "pedir ayuda",
			Examples:    []string{"ayúdame"},
		},
		"rutina_matinal": {
			ID:          "rutina_matinal",
			Description: "rutina combinada",
			Examples:    []string{"prepárame la mañana"},
			ToolAction:  "weather.query",
		},
	}}
	tools := &fakeTools{actions: map[string]*models.ToolAction{
		"weather.query":  {Name: "weather.query", Transport: models.ToolTransportHTTP, Endpoint: "http://localhost:9101", Enabled: true},
		"alarm.schedule": {Name: "alarm.schedule", Transport: models.ToolTransportHTTP, Endpoint: "http://localhost:9101", Enabled: true},
		"music.play":     {Name: "music.play", Transport: models.ToolTransportHTTP, Endpoint: "http://localhost:9101", Enabled: true},
	}}
	return intents, tools
}

func newTestDecomposer(program Program) *Decomposer {
	intents, tools := testRegistries()
	cfg := config.DecomposeConfig{MaxSubtasks: 4, DefaultMaxRetries: 2, UseLLM: program != nil}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDecomposer(cfg, program, intents, tools, id.New(), logger)
}

func TestFallbackSingleSubtask(t *testing.T) {
	d := newTestDecomposer(nil)
	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "¿qué tiempo hace en Madrid?",
		IntentID:  "consultar_tiempo",
		Slots:     map[string]string{"ubicacion": "Madrid"},
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	st := subtasks[0]
	assert.Equal(t, "weather.query", st.Action)
	assert.Equal(t, "Madrid", st.Entities["ubicacion"])
	assert.Equal(t, models.SubtaskStatusPending, st.Status)
	assert.Equal(t, 2, st.MaxRetries)
	assert.True(t, strings.HasPrefix(st.ID, "tsk_"))
}

func TestInformationalIntentDecomposesToNothing(t *testing.T) {
	d := newTestDecomposer(nil)
	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "ayúdame",
		IntentID:  "ayuda",
	})
	require.NoError(t, err)
	assert.Empty(t, subtasks)
}

func TestUnknownIntent(t *testing.T) {
	d := newTestDecomposer(nil)
	_, err := d.Decompose(context.Background(), &ports.DecomposeInput{IntentID: "inexistente"})
	require.ErrorIs(t, err, domain.ErrIntentNotFound)
}

func TestLLMConditionalPlan(t *testing.T) {
	program := &fakeProgram{output: `Aquí está el plan:
[
  {"id": "t1", "action": "weather.query", "entities": {"ubicacion": "Madrid"}},
  {"id": "t2", "action": "alarm.schedule", "entities": {"condicion": "lluvia"}, "depends_on": ["t1"]}
]`}
	d := newTestDecomposer(program)

	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "consulta el tiempo de Madrid y programa una alarma si va a llover",
		IntentID:  "rutina_matinal",
		Slots:     map[string]string{"ubicacion": "Madrid"},
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 2)

	weather, alarm := subtasks[0], subtasks[1]
	assert.Equal(t, "weather.query", weather.Action)
	assert.Equal(t, "alarm.schedule", alarm.Action)
	require.Len(t, alarm.Dependencies, 1)
	assert.Equal(t, weather.ID, alarm.Dependencies[0], "local labels must remap to real ids")
	assert.True(t, strings.HasPrefix(weather.ID, "tsk_"))

	// The program saw the registry's action vocabulary.
	available, _ := program.inputs["available_actions"].(string)
	assert.Contains(t, available, "weather.query")
	assert.Contains(t, available, "alarm.schedule")
}

func TestUnknownActionDroppedWithDependents(t *testing.T) {
	program := &fakeProgram{output: `[
  {"id": "t1", "action": "spaceship.launch"},
  {"id": "t2", "action": "alarm.schedule", "depends_on": ["t1"]},
  {"id": "t3", "action": "music.play"}
]`}
	d := newTestDecomposer(program)

	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "lanza la nave y pon música",
		IntentID:  "rutina_matinal",
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	assert.Equal(t, "music.play", subtasks[0].Action)
}

func TestDanglingDependency(t *testing.T) {
	program := &fakeProgram{output: `[
  {"id": "t1", "action": "weather.query", "depends_on": ["t9"]}
]`}
	d := newTestDecomposer(program)

	_, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "qué tiempo hace",
		IntentID:  "rutina_matinal",
	})
	require.ErrorIs(t, err, domain.ErrDanglingDependency)
}

func TestDependencyCycle(t *testing.T) {
	program := &fakeProgram{output: `[
  {"id": "t1", "action": "weather.query", "depends_on": ["t2"]},
  {"id": "t2", "action": "alarm.schedule", "depends_on": ["t1"]}
]`}
	d := newTestDecomposer(program)

	_, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "qué tiempo hace",
		IntentID:  "rutina_matinal",
	})
	require.ErrorIs(t, err, domain.ErrDependencyCycle)
	var depErr *domain.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Len(t, depErr.Cycle, 2)
}

func TestTooManySubtasks(t *testing.T) {
	program := &fakeProgram{output: `[
  {"id": "t1", "action": "music.play"},
  {"id": "t2", "action": "music.play"},
  {"id": "t3", "action": "music.play"},
  {"id": "t4", "action": "music.play"},
  {"id": "t5", "action": "music.play"}
]`}
	d := newTestDecomposer(program)

	_, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "pon mucha música",
		IntentID:  "rutina_matinal",
	})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestUnparseableReplyFallsBack(t *testing.T) {
	program := &fakeProgram{output: "no sé dividir esto en pasos"}
	d := newTestDecomposer(program)

	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "¿qué tiempo hace en Madrid?",
		IntentID:  "consultar_tiempo",
		Slots:     map[string]string{"ubicacion": "Madrid"},
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	assert.Equal(t, "weather.query", subtasks[0].Action)
}

func TestLLMErrorFallsBack(t *testing.T) {
	program := &fakeProgram{err: errors.New("provider down")}
	d := newTestDecomposer(program)

	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "¿qué tiempo hace?",
		IntentID:  "consultar_tiempo",
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
}

func TestSequentialConnectorChainsSubtasks(t *testing.T) {
	program := &fakeProgram{output: `[
  {"id": "t1", "action": "weather.query"},
  {"id": "t2", "action": "music.play"}
]`}
	d := newTestDecomposer(program)

	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "dime el tiempo y luego pon música",
		IntentID:  "rutina_matinal",
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Empty(t, subtasks[0].Dependencies)
	require.Len(t, subtasks[1].Dependencies, 1)
	assert.Equal(t, subtasks[0].ID, subtasks[1].Dependencies[0])
}

func TestParallelConnectorLeavesSubtasksIndependent(t *testing.T) {
	program := &fakeProgram{output: `[
  {"id": "t1", "action": "weather.query"},
  {"id": "t2", "action": "music.play"}
]`}
	d := newTestDecomposer(program)

	subtasks, err := d.Decompose(context.Background(), &ports.DecomposeInput{
		Utterance: "dime el tiempo y pon música",
		IntentID:  "rutina_matinal",
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Empty(t, subtasks[0].Dependencies)
	assert.Empty(t, subtasks[1].Dependencies)
}

func TestDetectConnector(t *testing.T) {
	tests := []struct {
		utterance string
		want      connectorKind
	}{
		{"consulta el tiempo y pon música", connectorParallel},
		{"consulta el tiempo y luego pon música", connectorSequential},
		{"programa una alarma si va a llover", connectorConditional},
		{"check the weather then play music", connectorSequential},
		{"qué hora es", connectorNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectConnector(tt.utterance), tt.utterance)
	}
}
