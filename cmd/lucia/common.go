package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucialabs/lucia/internal/adapters/embedding"
	"github.com/lucialabs/lucia/internal/adapters/id"
	"github.com/lucialabs/lucia/internal/adapters/llm"
	"github.com/lucialabs/lucia/internal/adapters/memstore"
	"github.com/lucialabs/lucia/internal/adapters/postgres"
	"github.com/lucialabs/lucia/internal/adapters/registry"
	"github.com/lucialabs/lucia/internal/adapters/toolrouter"
	"github.com/lucialabs/lucia/internal/application/usecases"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/decompose"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/jury"
	"github.com/lucialabs/lucia/internal/orchestrate"
	"github.com/lucialabs/lucia/internal/ports"
	"github.com/lucialabs/lucia/internal/prompt"
	"github.com/lucialabs/lucia/internal/rag"
	"github.com/lucialabs/lucia/internal/session"
	"github.com/lucialabs/lucia/internal/slots"
	"github.com/lucialabs/lucia/internal/vector"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared across commands, filled by the root PersistentPreRunE
var (
	cfg    *config.Config
	logger *slog.Logger
)

// engine bundles the wired components a command needs
type engine struct {
	cfg      *config.Config
	registry *registry.Manager
	sessions *session.Manager
	tracker  *orchestrate.Tracker
	turns    *usecases.ProcessTurn
	loader   *rag.Loader
	reloader ports.RegistryReloader
	pool     *pgxpool.Pool
}

// buildEngine wires the whole pipeline from configuration. The exemplar
// index is warm-loaded before returning, so a successful build means the
// engine can classify immediately.
func buildEngine(ctx context.Context) (*engine, error) {
	reg, err := registry.NewManager(
		cfg.Registries.IntentsPath, cfg.Registries.ToolsPath, cfg.Registries.JuryPath)
	if err != nil {
		return nil, err
	}
	intents := intentView{reg}
	tools := toolView{reg}

	ids := id.New()

	llmClient := llm.NewClient(
		cfg.LLM.URL,
		os.Getenv(cfg.LLM.APIKeyEnv),
		cfg.LLM.Model,
		cfg.LLM.MaxTokens,
		cfg.LLM.Temperature,
		time.Duration(cfg.LLM.TimeoutMs)*time.Millisecond,
	)
	prompt.NewLLMServiceAdapter(llmClient, cfg.LLM.Model).Install()

	embedder := embedding.NewClient(
		cfg.Embedding.URL,
		os.Getenv(cfg.Embedding.APIKeyEnv),
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		time.Duration(cfg.Embedding.TimeoutMs)*time.Millisecond,
	)

	var (
		pool        *pgxpool.Pool
		sessionRepo ports.SessionRepository
		cache       rag.ExemplarCache
	)
	if cfg.IsPostgresConfigured() {
		pool, err = postgres.NewPool(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		sessionRepo = postgres.NewSessionRepository(pool)
		cache = postgres.NewExemplarRepository(pool)
		logger.Info("postgres persistence enabled")
	} else {
		sessionRepo = memstore.NewSessionRepository()
		logger.Info("in-memory session store in use")
	}

	index := vector.New(cfg.Embedding.Dimensions)
	loader := rag.NewLoader(intents, embedder, index, cache, ids, logger)
	if _, err := loader.Load(ctx); err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("warm-load exemplars: %w", err)
	}

	classifier := rag.NewClassifier(index, intents, embedder, llmClient, cfg.RAG)

	var votingEngine ports.VotingEngine
	if cfg.MoE.Enabled {
		votingEngine = &liveJury{
			registry: reg,
			factory:  llm.NewFactory(cfg.LLM.URL, time.Duration(cfg.MoE.VoteTimeoutMs)*time.Millisecond),
			cfg:      cfg.MoE,
		}
	}

	var extractor slots.Extractor
	if cfg.Slots.UseLLM {
		extractor = slots.NewExtractor()
	}
	filler := slots.NewFiller(cfg.Slots, extractor, logger)

	var program decompose.Program
	if cfg.Decompose.UseLLM {
		program = prompt.NewLuciaPredict(prompt.SubtaskDecomposition)
	}
	decomposer := decompose.NewDecomposer(cfg.Decompose, program, intents, tools, ids, logger)

	router := toolrouter.NewRouter(cfg.Tools, tools, logger)
	tracker := orchestrate.NewTracker(ids, logger)
	orchestrator := orchestrate.NewOrchestrator(cfg.Orchestrator, tools, router, tracker, ids, logger)

	sessions := session.NewManager(sessionRepo, ids, cfg.Session, logger)

	turns := usecases.NewProcessTurn(sessions, classifier, votingEngine, filler,
		decomposer, orchestrator, intents, ids, cfg.MoE, logger)

	return &engine{
		cfg:      cfg,
		registry: reg,
		sessions: sessions,
		tracker:  tracker,
		turns:    turns,
		loader:   loader,
		reloader: &engineReloader{registry: reg, loader: loader},
		pool:     pool,
	}, nil
}

func (e *engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// intentView and toolView are live reads through the registry manager, so
// a hot reload reaches every component on its next lookup.
type intentView struct{ m *registry.Manager }

func (v intentView) Get(id string) (*models.IntentDefinition, bool) { return v.m.Intents().Get(id) }
func (v intentView) All() []*models.IntentDefinition                { return v.m.Intents().All() }
func (v intentView) Defaults() models.CatalogDefaults               { return v.m.Intents().Defaults() }
func (v intentView) Version() string                                { return v.m.Intents().Version() }

type toolView struct{ m *registry.Manager }

func (v toolView) Action(name string) (*models.ToolAction, bool) { return v.m.Tools().Action(name) }
func (v toolView) Actions() []*models.ToolAction                 { return v.m.Tools().Actions() }
func (v toolView) ValidateInput(action string, input map[string]any) error {
	return v.m.Tools().ValidateInput(action, input)
}
func (v toolView) ValidateOutput(action string, output map[string]any) error {
	return v.m.Tools().ValidateOutput(action, output)
}
func (v toolView) Version() string { return v.m.Tools().Version() }

// liveJury assembles the roster from the current jury snapshot on every
// deliberation, so roster reloads and credential changes apply without a
// restart. Jurors with missing credentials are skipped at build.
type liveJury struct {
	registry *registry.Manager
	factory  ports.LLMFactory
	cfg      config.MoEConfig
}

func (j *liveJury) Deliberate(ctx context.Context, req *ports.JuryRequest) (*ports.JuryVerdict, error) {
	roster, skipped := j.registry.ActiveRoster(os.LookupEnv)
	for jurorID, reason := range skipped {
		logger.Debug("juror skipped", "juror", jurorID, "reason", reason)
	}

	jurors := make([]ports.Juror, 0, len(roster))
	for _, spec := range roster {
		client, err := j.factory.ForJuror(spec)
		if err != nil {
			logger.Warn("juror unavailable", "juror", spec.ID, "error", err)
			continue
		}
		jurors = append(jurors, jury.NewClient(spec, client))
	}
	return jury.NewEngine(jurors, j.cfg, logger).Deliberate(ctx, req)
}

// engineReloader re-reads the registries and re-warms the exemplar index
type engineReloader struct {
	registry *registry.Manager
	loader   *rag.Loader
}

func (r *engineReloader) Reload(ctx context.Context) error {
	if err := r.registry.Reload(ctx); err != nil {
		return err
	}
	_, err := r.loader.Load(ctx)
	return err
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
