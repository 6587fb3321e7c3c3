package usecases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucialabs/lucia/internal/adapters/id"
	"github.com/lucialabs/lucia/internal/adapters/memstore"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
	"github.com/lucialabs/lucia/internal/session"
	"github.com/lucialabs/lucia/internal/slots"
)

type pipelineFixture struct {
	uc           *ProcessTurn
	classifier   *stubClassifier
	jury         *stubJury
	decomposer   *stubDecomposer
	orchestrator *stubOrchestrator
	sessions     *session.Manager
	repo         *memstore.SessionRepository
}

func testCatalog() *stubIntentRegistry {
	return &stubIntentRegistry{
		intents: map[string]*models.IntentDefinition{
			"consultar_tiempo": {
				ID:            "consultar_tiempo",
				Description:   "Consulta meteorológica",
				Examples:      []string{"¿qué tiempo hace en Madrid?"},
				RequiredSlots: []string{"ubicacion"},
				ToolAction:    "casa.weather.query",
				SlotQuestions: map[string]string{"ubicacion": "¿Para qué ubicación?"},
				SlotConstraints: map[string]models.SlotConstraint{
					"ubicacion": {Patterns: []string{`en\s+([a-zA-ZáéíóúñÁÉÍÓÚÑ]+)`}},
				},
			},
			"reproducir_musica": {
				ID:          "reproducir_musica",
				Description: "Reproducción de música",
				Examples:    []string{"pon algo de jazz"},
				ToolAction:  "casa.music.play",
			},
			"saludo": {
				ID:          "saludo",
				Description: "Hola, soy Lucía. ¿En qué puedo ayudarte?",
				Examples:    []string{"hola"},
			},
		},
	}
}

func newFixture(t *testing.T, moe config.MoEConfig, jury *stubJury) *pipelineFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := memstore.NewSessionRepository()
	sessions := session.NewManager(repo, id.New(), config.SessionConfig{
		TTLSeconds:           1800,
		MaxTurns:             50,
		CompressionThreshold: 100,
		MaxSessions:          16,
		SnapshotRingSize:     4,
	}, logger)

	classifier := &stubClassifier{}
	decomposer := &stubDecomposer{}
	orchestrator := &stubOrchestrator{}
	filler := slots.NewFiller(config.SlotsConfig{MaxAttempts: 3}, nil, logger)

	var votingEngine ports.VotingEngine
	if jury != nil {
		votingEngine = jury
	}

	uc := NewProcessTurn(sessions, classifier, votingEngine, filler, decomposer,
		orchestrator, testCatalog(), id.New(), moe, logger)

	return &pipelineFixture{
		uc:           uc,
		classifier:   classifier,
		jury:         jury,
		decomposer:   decomposer,
		orchestrator: orchestrator,
		sessions:     sessions,
		repo:         repo,
	}
}

func TestProcessTurn_WeatherQuery(t *testing.T) {
	fx := newFixture(t, config.MoEConfig{}, nil)
	fx.classifier.result = &models.ClassificationResult{
		IntentID:   "consultar_tiempo",
		Confidence: 0.92,
		Entities:   map[string]string{"ubicacion": "Madrid"},
		Source:     models.ClassificationSourceRAG,
	}
	fx.decomposer.subtasks = []*models.Subtask{
		models.NewSubtask("tsk_1", "casa.weather.query", map[string]any{"ubicacion": "Madrid"}),
	}
	fx.orchestrator.responses = []*models.ToolResponse{
		models.NewTextResponse("En Madrid hace 22 grados y está despejado."),
	}

	resp, err := fx.uc.Execute(context.Background(), &TurnInput{
		UserID: "user-1",
		Text:   "¿qué tiempo hace en Madrid?",
		Locale: "es-ES",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateCompleted, resp.State)
	assert.Equal(t, "En Madrid hace 22 grados y está despejado.", resp.ResponseText)
	require.NotNil(t, resp.Execution)
	assert.Equal(t, "trk_test", resp.Execution.TrackerID)
	assert.Equal(t, [][]string{{"tsk_1"}}, resp.Execution.PlanLevels)

	require.NotNil(t, fx.decomposer.lastInput)
	assert.Equal(t, "Madrid", fx.decomposer.lastInput.Slots["ubicacion"])
	assert.Equal(t, "es-ES", fx.orchestrator.lastIC.Locale)
	assert.NotEmpty(t, fx.orchestrator.lastIC.TraceID)

	stored, err := fx.sessions.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TurnCount)
	assert.Empty(t, stored.CurrentIntent, "intent state clears after completion")
	assert.Empty(t, stored.Slots)
	assert.Equal(t, "Madrid", stored.Context.EntityCache["ubicacion"],
		"confirmed values survive in the entity cache")
}

func TestProcessTurn_MissingSlotAsksThenExecutes(t *testing.T) {
	fx := newFixture(t, config.MoEConfig{}, nil)
	fx.classifier.result = &models.ClassificationResult{
		IntentID:   "consultar_tiempo",
		Confidence: 0.88,
		Source:     models.ClassificationSourceRAG,
	}
	fx.decomposer.subtasks = []*models.Subtask{
		models.NewSubtask("tsk_1", "casa.weather.query", nil),
	}
	fx.orchestrator.responses = []*models.ToolResponse{
		models.NewTextResponse("En Madrid está lloviendo."),
	}

	first, err := fx.uc.Execute(context.Background(), &TurnInput{
		UserID: "user-1",
		Text:   "¿qué tiempo hace?",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateWaitingSlots, first.State)
	assert.Equal(t, "¿Para qué ubicación?", first.NextQuestion)
	assert.Nil(t, first.Execution)

	second, err := fx.uc.Execute(context.Background(), &TurnInput{
		SessionID: first.SessionID,
		UserID:    "user-1",
		Text:      "en Madrid",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCompleted, second.State)
	assert.Equal(t, "En Madrid está lloviendo.", second.ResponseText)
	assert.Equal(t, 1, fx.classifier.calls,
		"slot answers continue the pending intent without reclassifying")

	require.NotNil(t, fx.decomposer.lastInput)
	assert.Equal(t, "Madrid", fx.decomposer.lastInput.Slots["ubicacion"])
}

func TestProcessTurn_EmptyUtterance(t *testing.T) {
	fx := newFixture(t, config.MoEConfig{}, nil)

	_, err := fx.uc.Execute(context.Background(), &TurnInput{UserID: "user-1", Text: "   "})
	require.Error(t, err)

	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 0, fx.classifier.calls)
}

func TestProcessTurn_ExpiredSessionRejected(t *testing.T) {
	fx := newFixture(t, config.MoEConfig{}, nil)

	stale := models.NewSession("ses_stale", "user-1", 30*time.Minute)
	stale.LastActivity = time.Now().Add(-2 * time.Hour)
	require.NoError(t, fx.repo.Save(context.Background(), stale))

	_, err := fx.uc.Execute(context.Background(), &TurnInput{
		SessionID: "ses_stale",
		UserID:    "user-1",
		Text:      "hola",
	})
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestProcessTurn_UnknownIntent(t *testing.T) {
	fx := newFixture(t, config.MoEConfig{}, nil)
	fx.classifier.result = &models.ClassificationResult{
		IntentID:   "hacer_cafe",
		Confidence: 0.41,
		Source:     models.ClassificationSourceFallback,
	}

	resp, err := fx.uc.Execute(context.Background(), &TurnInput{
		UserID: "user-1",
		Text:   "hazme un café",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateActive, resp.State)
	assert.Equal(t, defaultUnknownMessage, resp.ResponseText)
	assert.Nil(t, resp.Execution)
}

func TestProcessTurn_InformationalIntent(t *testing.T) {
	fx := newFixture(t, config.MoEConfig{}, nil)
	fx.classifier.result = &models.ClassificationResult{
		IntentID:   "saludo",
		Confidence: 0.97,
		Source:     models.ClassificationSourceRAG,
	}
	fx.decomposer.subtasks = nil

	resp, err := fx.uc.Execute(context.Background(), &TurnInput{
		UserID: "user-1",
		Text:   "hola Lucía",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola, soy Lucía. ¿En qué puedo ayudarte?", resp.ResponseText)
	assert.Nil(t, resp.Execution)
}

func TestProcessTurn_JuryOverridesRetrieval(t *testing.T) {
	jury := &stubJury{verdict: &ports.JuryVerdict{
		Consensus: &models.Consensus{
			Intent:         "reproducir_musica",
			Confidence:     0.9,
			Agreement:      models.AgreementMajority,
			Method:         "weighted",
			MergedEntities: map[string]string{"genero": "jazz"},
			VotesCast:      3,
			VotesValid:     3,
		},
	}}
	fx := newFixture(t, config.MoEConfig{Enabled: true, SeedWithRAG: true}, jury)
	fx.classifier.result = &models.ClassificationResult{
		IntentID:   "consultar_tiempo",
		Confidence: 0.55,
		RankedCandidates: []models.RankedCandidate{
			{IntentID: "consultar_tiempo", Score: 0.55},
			{IntentID: "reproducir_musica", Score: 0.52},
		},
		Source: models.ClassificationSourceRAG,
	}
	fx.decomposer.subtasks = []*models.Subtask{
		models.NewSubtask("tsk_1", "casa.music.play", map[string]any{"genero": "jazz"}),
	}
	fx.orchestrator.responses = []*models.ToolResponse{
		models.NewTextResponse("Reproduciendo jazz."),
	}

	resp, err := fx.uc.Execute(context.Background(), &TurnInput{
		UserID: "user-1",
		Text:   "ponme algo",
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Consensus)
	assert.Equal(t, "reproducir_musica", resp.Consensus.Intent)
	assert.Equal(t, "reproducir_musica", fx.decomposer.lastInput.IntentID)

	require.NotNil(t, jury.lastReq)
	assert.NotNil(t, jury.lastReq.RagHint, "retrieval result seeds the jury")
	assert.Equal(t, []string{"consultar_tiempo", "reproducir_musica"}, jury.lastReq.Candidates)
}

func TestProcessTurn_JuryFailureKeepsRetrievalVerdict(t *testing.T) {
	jury := &stubJury{err: errors.New("all jurors unavailable")}
	fx := newFixture(t, config.MoEConfig{Enabled: true, SeedWithRAG: true}, jury)
	fx.classifier.result = &models.ClassificationResult{
		IntentID:   "consultar_tiempo",
		Confidence: 0.9,
		Entities:   map[string]string{"ubicacion": "Sevilla"},
		Source:     models.ClassificationSourceRAG,
	}
	fx.decomposer.subtasks = []*models.Subtask{
		models.NewSubtask("tsk_1", "casa.weather.query", nil),
	}
	fx.orchestrator.responses = []*models.ToolResponse{
		models.NewTextResponse("En Sevilla hace sol."),
	}

	resp, err := fx.uc.Execute(context.Background(), &TurnInput{
		UserID: "user-1",
		Text:   "¿qué tiempo hace en Sevilla?",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, jury.calls)
	assert.Nil(t, resp.Consensus)
	assert.Equal(t, models.SessionStateCompleted, resp.State)
	assert.Equal(t, "consultar_tiempo", fx.decomposer.lastInput.IntentID)
}
