// Package usecases binds the engine's components into application flows.
// ProcessTurn is the main one: a single user utterance goes in, and a
// conversation response comes out after classification, deliberation,
// slot filling, decomposition, and orchestrated execution.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucialabs/lucia/internal/adapters/metrics"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

const defaultUnknownMessage = "Lo siento, no he entendido qué necesitas. ¿Puedes reformularlo?"

// TurnInput is one user utterance plus its addressing context
type TurnInput struct {
	SessionID       string
	UserID          string
	Text            string
	Locale          string
	Audio           *models.AudioMetadata
	ContextMetadata map[string]string
}

// ProcessTurn drives the full turn pipeline. Concurrent turns on the same
// session serialise on the session manager's per-session lock; the session
// is persisted exactly once per turn, failed turns included.
type ProcessTurn struct {
	sessions     ports.SessionManager
	classifier   ports.IntentClassifier
	jury         ports.VotingEngine
	filler       ports.SlotFiller
	decomposer   ports.Decomposer
	orchestrator ports.Orchestrator
	intents      ports.IntentRegistry
	ids          ports.IDGenerator
	moe          config.MoEConfig
	logger       *slog.Logger
	tracer       trace.Tracer
}

func NewProcessTurn(
	sessions ports.SessionManager,
	classifier ports.IntentClassifier,
	jury ports.VotingEngine,
	filler ports.SlotFiller,
	decomposer ports.Decomposer,
	orchestrator ports.Orchestrator,
	intents ports.IntentRegistry,
	ids ports.IDGenerator,
	moe config.MoEConfig,
	logger *slog.Logger,
) *ProcessTurn {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessTurn{
		sessions:     sessions,
		classifier:   classifier,
		jury:         jury,
		filler:       filler,
		decomposer:   decomposer,
		orchestrator: orchestrator,
		intents:      intents,
		ids:          ids,
		moe:          moe,
		logger:       logger,
		tracer:       otel.Tracer("lucia/usecases"),
	}
}

// Execute processes one utterance end to end. An empty session id starts a
// fresh session; a stale id is rejected because expired sessions do not
// accept new turns.
func (uc *ProcessTurn) Execute(ctx context.Context, input *TurnInput) (*models.MessageResponse, error) {
	ctx, span := uc.tracer.Start(ctx, "process_turn")
	defer span.End()

	utterance := models.NewUtterance(strings.TrimSpace(input.Text))
	utterance.Audio = input.Audio
	utterance.Metadata = input.ContextMetadata
	if utterance.IsEmpty() {
		return nil, domain.NewValidationError("text", domain.ErrEmptyUtterance.Error())
	}

	sessionID, err := uc.resolveSessionID(ctx, input)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	start := time.Now()
	var (
		response *models.MessageResponse
		turnErr  error
	)
	// The closure always returns nil so the manager persists the session
	// even when the turn itself failed: history keeps the failure record.
	err = uc.sessions.WithSession(ctx, sessionID, func(session *models.Session) error {
		response, turnErr = uc.runTurn(ctx, session, utterance, input, start)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if turnErr != nil {
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return nil, turnErr
	}
	metrics.TurnsTotal.WithLabelValues(string(response.State)).Inc()
	return response, nil
}

// resolveSessionID maps the input to an existing or fresh session. Expired
// sessions surface ErrSessionExpired from Get and reject the turn; unknown
// ids are recreated so external callers can pick their own identifiers.
func (uc *ProcessTurn) resolveSessionID(ctx context.Context, input *TurnInput) (string, error) {
	if input.SessionID == "" {
		session, err := uc.sessions.Create(ctx, input.UserID)
		if err != nil {
			return "", err
		}
		return session.ID, nil
	}
	_, err := uc.sessions.Get(ctx, input.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		_, err = uc.sessions.GetOrCreate(ctx, input.SessionID, input.UserID)
	}
	if err != nil {
		return "", err
	}
	return input.SessionID, nil
}

// runTurn runs the pipeline against a locked session. Every path appends
// exactly one turn to history before returning.
func (uc *ProcessTurn) runTurn(ctx context.Context, session *models.Session, utterance *models.Utterance, input *TurnInput, start time.Time) (*models.MessageResponse, error) {
	turn := models.NewTurn(uc.ids.TurnID(), utterance.Text)

	if !models.CanAcceptTurn(session.State) {
		err := domain.NewSessionError(session.ID,
			fmt.Errorf("state %s does not accept turns: %w", session.State, domain.ErrInvalidStateTransition))
		uc.failTurn(session, turn, err, start)
		return nil, err
	}
	if session.State == models.SessionStateCompleted {
		if err := session.Transition(models.SessionStateActive); err != nil {
			uc.failTurn(session, turn, err, start)
			return nil, err
		}
	}

	intent, consensus, result, err := uc.resolveIntent(ctx, session, utterance, input)
	if err != nil {
		uc.failTurn(session, turn, err, start)
		return nil, err
	}
	if intent == nil {
		// Nothing in the catalog matched, even through fallback.
		message := uc.intents.Defaults().UnknownIntentMessage
		if message == "" {
			message = defaultUnknownMessage
		}
		return uc.completeTurn(session, turn, message, result, consensus, nil, start)
	}

	session.RecordIntent(intent.ID)
	uc.absorbEntities(session, intent, result.Entities)

	outcome, err := uc.filler.Fill(ctx, session, intent, utterance)
	if err != nil {
		// Slot asking exhausted its attempts; abandon the intent so the
		// next turn starts clean.
		uc.abandonIntent(session)
		uc.failTurn(session, turn, err, start)
		return nil, err
	}
	if !outcome.Complete {
		if session.State != models.SessionStateWaitingSlots {
			if err := session.Transition(models.SessionStateWaitingSlots); err != nil {
				uc.failTurn(session, turn, err, start)
				return nil, err
			}
		}
		metrics.SlotQuestionsTotal.Inc()
		response, err := uc.completeTurn(session, turn, outcome.Question, result, consensus, nil, start)
		if err != nil {
			return nil, err
		}
		response.NextQuestion = outcome.Question
		return response, nil
	}

	subtasks, err := uc.decomposer.Decompose(ctx, &ports.DecomposeInput{
		Utterance: utterance.Text,
		IntentID:  intent.ID,
		Entities:  result.Entities,
		Slots:     outcome.Filled,
	})
	if err != nil {
		uc.failTurn(session, turn, err, start)
		return nil, err
	}
	if len(subtasks) == 0 {
		// Informational intent: answer directly, nothing to execute.
		uc.finishIntent(session)
		return uc.completeTurn(session, turn, uc.informationalReply(intent), result, consensus, nil, start)
	}

	execution, err := uc.execute(ctx, session, subtasks, input)
	if err != nil {
		uc.failTurn(session, turn, err, start)
		return nil, err
	}
	uc.finishIntent(session)
	return uc.completeTurn(session, turn, renderResponses(execution.Responses), result, consensus, execution, start)
}

// resolveIntent classifies the utterance, optionally routes it through the
// jury, and maps the winner onto a catalog entry. In waiting_slots the
// previous intent is kept and the utterance is treated as a slot answer.
// A nil intent with a nil error means the catalog has no match at all.
func (uc *ProcessTurn) resolveIntent(ctx context.Context, session *models.Session, utterance *models.Utterance, input *TurnInput) (*models.IntentDefinition, *models.Consensus, *models.ClassificationResult, error) {
	if session.State == models.SessionStateWaitingSlots && session.CurrentIntent != "" {
		if intent, ok := uc.intents.Get(session.CurrentIntent); ok {
			return intent, nil, &models.ClassificationResult{
				IntentID:   intent.ID,
				Confidence: 1,
				Source:     models.ClassificationSourceRAG,
			}, nil
		}
		// The intent vanished in a registry reload; reclassify from scratch.
		uc.abandonIntent(session)
	}

	result, err := uc.classifier.Classify(ctx, &models.ClassificationRequest{
		Text:            utterance.Text,
		SessionID:       session.ID,
		UserID:          session.UserID,
		ContextMetadata: input.ContextMetadata,
		AudioMetadata:   input.Audio,
		Hints:           sessionHints(session),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	metrics.ClassificationsTotal.WithLabelValues(result.IntentID, fmt.Sprintf("%t", result.FallbackUsed)).Inc()

	var consensus *models.Consensus
	if uc.moe.Enabled && uc.jury != nil {
		consensus = uc.deliberate(ctx, session, utterance, result)
	}

	intentID := result.IntentID
	if consensus != nil {
		intentID = consensus.Intent
		result.IntentID = consensus.Intent
		result.Confidence = consensus.Confidence
		result.Source = models.ClassificationSourceMoE
		mergeEntities(result, consensus.MergedEntities)
	}

	intent, ok := uc.intents.Get(intentID)
	if !ok {
		fallback := uc.intents.Defaults().FallbackIntent
		if fallback != "" {
			intent, ok = uc.intents.Get(fallback)
		}
		if !ok {
			uc.logger.Warn("resolved intent not in catalog",
				"session_id", session.ID, "intent", intentID)
			return nil, consensus, result, nil
		}
		result.FallbackUsed = true
	}
	return intent, consensus, result, nil
}

// deliberate runs the jury seeded with the retrieval result. Deliberation
// failures degrade to the retrieval verdict rather than failing the turn.
func (uc *ProcessTurn) deliberate(ctx context.Context, session *models.Session, utterance *models.Utterance, rag *models.ClassificationResult) *models.Consensus {
	req := &ports.JuryRequest{
		Utterance:  utterance.Text,
		SessionID:  session.ID,
		Candidates: candidateIDs(rag),
	}
	if uc.moe.SeedWithRAG {
		req.RagHint = rag
	}
	verdict, err := uc.jury.Deliberate(ctx, req)
	if err != nil {
		uc.logger.Warn("jury deliberation failed, keeping retrieval verdict",
			"session_id", session.ID, "intent", rag.IntentID, "error", err)
		return nil
	}
	return verdict.Consensus
}

// execute plans and runs the decomposed subtasks under the executing state
func (uc *ProcessTurn) execute(ctx context.Context, session *models.Session, subtasks []*models.Subtask, input *TurnInput) (*ports.ExecutionResult, error) {
	plan, err := uc.orchestrator.BuildPlan(subtasks)
	if err != nil {
		return nil, err
	}
	if err := session.Transition(models.SessionStateExecuting); err != nil {
		return nil, err
	}

	result, err := uc.orchestrator.Execute(ctx, plan, models.InvocationContext{
		SessionID: session.ID,
		Locale:    input.Locale,
		TraceID:   uc.ids.TraceID(),
	})
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
		// Leave the executing state before surfacing the failure so the
		// session can take another turn once reactivated.
		_ = session.Transition(models.SessionStateError)
		return nil, err
	}
	metrics.ExecutionsTotal.WithLabelValues("completed").Inc()

	if err := session.Transition(models.SessionStateCompleted); err != nil {
		return nil, err
	}
	return result, nil
}

// completeTurn closes the bookkeeping shared by every successful path
func (uc *ProcessTurn) completeTurn(session *models.Session, turn *models.Turn, responseText string, result *models.ClassificationResult, consensus *models.Consensus, execution *ports.ExecutionResult, start time.Time) (*models.MessageResponse, error) {
	intentID := ""
	confidence := 0.0
	if result != nil {
		intentID = result.IntentID
		confidence = result.Confidence
	}
	turn.Complete(responseText, intentID, confidence, time.Since(start))
	session.AddTurn(turn)

	response := &models.MessageResponse{
		SessionID:    session.ID,
		State:        session.State,
		ResponseText: responseText,
		Consensus:    consensus,
	}
	if execution != nil {
		response.Execution = &models.ExecutionRef{
			TrackerID:  execution.TrackerID,
			PlanLevels: execution.Plan.LevelIDs(),
		}
	}
	return response, nil
}

func (uc *ProcessTurn) failTurn(session *models.Session, turn *models.Turn, err error, start time.Time) {
	turn.Fail(err, time.Since(start))
	session.AddTurn(turn)
	uc.logger.Error("turn failed",
		"session_id", session.ID, "turn_id", turn.ID, "error", err)
}

// finishIntent clears slot state once an intent has run to completion.
// Confirmed values survive in the entity cache for later turns.
func (uc *ProcessTurn) finishIntent(session *models.Session) {
	session.ClearSlots()
	session.CurrentIntent = ""
}

func (uc *ProcessTurn) abandonIntent(session *models.Session) {
	session.ClearSlots()
	session.CurrentIntent = ""
	if session.State == models.SessionStateWaitingSlots {
		_ = session.Transition(models.SessionStateActive)
	}
}

// absorbEntities feeds classifier entities into the session: values for
// declared slots become slot values, the rest lands in the entity cache.
func (uc *ProcessTurn) absorbEntities(session *models.Session, intent *models.IntentDefinition, entities map[string]string) {
	if len(entities) == 0 {
		return
	}
	declared := make(map[string]bool)
	for _, slot := range intent.AllSlots() {
		declared[slot] = true
	}
	for name, value := range entities {
		if value == "" {
			continue
		}
		if declared[name] {
			session.SetSlot(name, value)
		} else {
			session.RememberEntity(name, value)
		}
	}
}

func (uc *ProcessTurn) informationalReply(intent *models.IntentDefinition) string {
	if intent.Description != "" {
		return intent.Description
	}
	return "De acuerdo."
}

func sessionHints(session *models.Session) *models.SessionHints {
	hints := &models.SessionHints{
		LastIntent: session.CurrentIntent,
		TurnCount:  session.TurnCount,
	}
	if session.Context != nil {
		hints.CachedEntities = session.Context.EntityCache
		hints.IntentFrequency = session.Context.IntentFrequency
		hints.Summary = session.Context.Summary
	}
	return hints
}

func candidateIDs(result *models.ClassificationResult) []string {
	if len(result.RankedCandidates) == 0 {
		if result.IntentID == "" {
			return nil
		}
		return []string{result.IntentID}
	}
	ids := make([]string, 0, len(result.RankedCandidates))
	for _, candidate := range result.RankedCandidates {
		ids = append(ids, candidate.IntentID)
	}
	return ids
}

func mergeEntities(result *models.ClassificationResult, merged map[string]string) {
	if len(merged) == 0 {
		return
	}
	if result.Entities == nil {
		result.Entities = make(map[string]string, len(merged))
	}
	for name, value := range merged {
		if _, ok := result.Entities[name]; !ok {
			result.Entities[name] = value
		}
	}
}

func renderResponses(responses []*models.ToolResponse) string {
	parts := make([]string, 0, len(responses))
	for _, resp := range responses {
		if resp != nil && resp.Content != "" {
			parts = append(parts, resp.Content)
		}
	}
	if len(parts) == 0 {
		return "Hecho."
	}
	return strings.Join(parts, "\n")
}
