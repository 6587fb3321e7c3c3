package usecases

import (
	"context"

	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

type stubClassifier struct {
	result *models.ClassificationResult
	err    error
	calls  int
}

func (s *stubClassifier) Classify(ctx context.Context, req *models.ClassificationRequest) (*models.ClassificationResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	// Copy so tests can assert on the stub without the pipeline mutating it.
	result := *s.result
	return &result, nil
}

type stubJury struct {
	verdict *ports.JuryVerdict
	err     error
	calls   int
	lastReq *ports.JuryRequest
}

func (s *stubJury) Deliberate(ctx context.Context, req *ports.JuryRequest) (*ports.JuryVerdict, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.verdict, nil
}

type stubDecomposer struct {
	subtasks  []*models.Subtask
	err       error
	lastInput *ports.DecomposeInput
}

func (s *stubDecomposer) Decompose(ctx context.Context, input *ports.DecomposeInput) ([]*models.Subtask, error) {
	s.lastInput = input
	return s.subtasks, s.err
}

// stubOrchestrator plans everything into a single level and replays the
// canned responses.
type stubOrchestrator struct {
	responses []*models.ToolResponse
	execErr   error
	lastIC    models.InvocationContext
}

func (s *stubOrchestrator) BuildPlan(subtasks []*models.Subtask) (*models.ExecutionPlan, error) {
	return &models.ExecutionPlan{Levels: [][]*models.Subtask{subtasks}}, nil
}

func (s *stubOrchestrator) Execute(ctx context.Context, plan *models.ExecutionPlan, ic models.InvocationContext) (*ports.ExecutionResult, error) {
	s.lastIC = ic
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &ports.ExecutionResult{
		TrackerID: "trk_test",
		Plan:      plan,
		Responses: s.responses,
	}, nil
}

type stubIntentRegistry struct {
	intents  map[string]*models.IntentDefinition
	defaults models.CatalogDefaults
}

func (s *stubIntentRegistry) Get(id string) (*models.IntentDefinition, bool) {
	intent, ok := s.intents[id]
	return intent, ok
}

func (s *stubIntentRegistry) All() []*models.IntentDefinition {
	all := make([]*models.IntentDefinition, 0, len(s.intents))
	for _, intent := range s.intents {
		all = append(all, intent)
	}
	return all
}

func (s *stubIntentRegistry) Defaults() models.CatalogDefaults { return s.defaults }

func (s *stubIntentRegistry) Version() string { return "test" }
