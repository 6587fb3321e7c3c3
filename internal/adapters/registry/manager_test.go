package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lucialabs/lucia/internal/domain"
)

const validIntents = `
defaults:
  confidence_threshold: 0.7
  max_rag_examples: 5
  fallback_intent: ayuda
  unknown_intent_message: "No he entendido qué necesitas."
intents:
  - id: consultar_tiempo
    description: "Consultar el tiempo en una ubicación"
    examples:
      - "¿qué tiempo hace en Madrid?"
      - "dime el tiempo de mañana"
    required_slots: [ubicacion]
    tool_action: weather.query
    expert_domain: clima
    slot_questions:
      ubicacion: "¿En qué ciudad quieres consultar el tiempo?"
  - id: ayuda
    description: "Pedir ayuda sobre lo que puede hacer Lucía"
    examples:
      - "ayúdame"
      - "¿qué puedes hacer?"
`

const validTools = `
plugins:
  - name: weather
    base_url: http://localhost:9101
    actions:
      - name: query
        transport: http
        timeout_ms: 5000
        retry:
          max: 2
          backoff: exponential
          min_ms: 100
          max_ms: 2000
        input_schema:
          type: object
          properties:
            ubicacion:
              type: string
          required: [ubicacion]
        output_schema:
          type: object
          properties:
            forecast:
              type: string
`

const validJury = `
jurors:
  - id: juror_primary
    provider: openai
    model: gpt-4o-mini
    role: "clasificador principal"
    weight: 1.0
    temperature: 0.2
  - id: juror_skeptic
    provider: anthropic
    model: claude-haiku
    role: "escéptico"
    weight: 0.8
    temperature: 0.4
    credential_env: LUCIA_TEST_MISSING_KEY
`

func writeRegistries(t *testing.T, intents, tools, jury string) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	ip := filepath.Join(dir, "intents.yaml")
	tp := filepath.Join(dir, "tools.yaml")
	jp := filepath.Join(dir, "jury.yaml")
	for path, content := range map[string]string{ip: intents, tp: tools, jp: jury} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return ip, tp, jp
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ip, tp, jp := writeRegistries(t, validIntents, validTools, validJury)
	m, err := NewManager(ip, tp, jp)
	if err != nil {
		t.Fatalf("manager load failed: %v", err)
	}
	return m
}

func TestManagerLoad(t *testing.T) {
	m := newTestManager(t)

	def, ok := m.Intents().Get("consultar_tiempo")
	if !ok {
		t.Fatal("consultar_tiempo not found")
	}
	if def.ToolAction != "weather.query" {
		t.Errorf("tool_action = %q", def.ToolAction)
	}
	if def.ConfidenceThreshold != 0.7 {
		t.Errorf("default threshold not applied: %f", def.ConfidenceThreshold)
	}
	if got := len(m.Intents().All()); got != 2 {
		t.Errorf("expected 2 intents, got %d", got)
	}
	if m.Intents().Defaults().FallbackIntent != "ayuda" {
		t.Error("defaults not loaded")
	}

	action, ok := m.Tools().Action("weather.query")
	if !ok {
		t.Fatal("weather.query not resolved")
	}
	if action.Plugin() != "weather" || action.Action() != "query" {
		t.Errorf("qualified name split wrong: %s/%s", action.Plugin(), action.Action())
	}
	if !action.Idempotent {
		t.Error("idempotent should default to true")
	}
	if action.Endpoint != "http://localhost:9101/query" {
		t.Errorf("base_url endpoint join wrong: %s", action.Endpoint)
	}

	if got := len(m.Jury().Roster()); got != 2 {
		t.Errorf("expected 2 jurors, got %d", got)
	}
}

func TestManagerSchemaValidation(t *testing.T) {
	m := newTestManager(t)
	tools := m.Tools()

	if err := tools.ValidateInput("weather.query", map[string]any{"ubicacion": "Madrid"}); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}

	err := tools.ValidateInput("weather.query", map[string]any{"ciudad": "Madrid"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for missing required field, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidToolInput) {
		t.Error("validation error should wrap ErrInvalidToolInput")
	}

	if err := tools.ValidateOutput("weather.query", map[string]any{"forecast": "lluvia"}); err != nil {
		t.Errorf("valid output rejected: %v", err)
	}
	if err := tools.ValidateOutput("weather.query", map[string]any{"forecast": 42}); err == nil {
		t.Error("expected output type mismatch to fail")
	}
}

func TestManagerReloadKeepsSnapshotOnFailure(t *testing.T) {
	ip, tp, jp := writeRegistries(t, validIntents, validTools, validJury)
	m, err := NewManager(ip, tp, jp)
	if err != nil {
		t.Fatal(err)
	}
	before := m.Intents().Version()

	if err := os.WriteFile(ip, []byte("intents: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	err = m.Reload(context.Background())
	var ce *domain.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if m.Intents().Version() != before {
		t.Error("failed reload must keep the previous snapshot")
	}
	if _, ok := m.Intents().Get("consultar_tiempo"); !ok {
		t.Error("previous snapshot lost its content")
	}
}

func TestManagerReloadSwapsAtomically(t *testing.T) {
	ip, tp, jp := writeRegistries(t, validIntents, validTools, validJury)
	m, err := NewManager(ip, tp, jp)
	if err != nil {
		t.Fatal(err)
	}
	captured := m.Intents()

	updated := validIntents + `
  - id: poner_musica
    description: "Reproducir música"
    examples:
      - "pon música"
`
	if err := os.WriteFile(ip, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.Intents().Get("poner_musica"); !ok {
		t.Error("new snapshot missing added intent")
	}
	// The snapshot captured before the reload is untouched.
	if _, ok := captured.Get("poner_musica"); ok {
		t.Error("captured snapshot must not see the reload")
	}
}

func TestManagerCrossValidation(t *testing.T) {
	badIntents := `
intents:
  - id: consultar_tiempo
    description: "Tiempo"
    examples: ["¿qué tiempo hace?"]
    tool_action: weather.missing
`
	ip, tp, jp := writeRegistries(t, badIntents, validTools, validJury)
	if _, err := NewManager(ip, tp, jp); !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("expected unresolved tool_action to fail, got %v", err)
	}
}

func TestLoadToolsRejectsInlineSecrets(t *testing.T) {
	bad := `
plugins:
  - name: weather
    actions:
      - name: query
        transport: http
        endpoint: http://localhost:9101/query
        auth:
          type: bearer
          value: "sk-super-secret"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTools(path); err == nil {
		t.Fatal("inline secret must be rejected")
	}
}

func TestLoadIntentsRejectsUnknownSlotReferences(t *testing.T) {
	bad := `
intents:
  - id: consultar_tiempo
    description: "Tiempo"
    examples: ["¿qué tiempo hace?"]
    required_slots: [ubicacion]
    slot_questions:
      ciudad: "¿Qué ciudad?"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.yaml")
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIntents(path); err == nil {
		t.Fatal("unknown slot reference must be rejected")
	}
}

func TestActiveRosterSkipsMissingCredentials(t *testing.T) {
	m := newTestManager(t)

	active, skipped := m.ActiveRoster(func(key string) (string, bool) {
		return "", false
	})
	if len(active) != 1 || active[0].ID != "juror_primary" {
		t.Fatalf("expected only juror_primary active, got %d", len(active))
	}
	if _, ok := skipped["juror_skeptic"]; !ok {
		t.Error("juror_skeptic should be skipped with a reason")
	}

	active, _ = m.ActiveRoster(func(key string) (string, bool) {
		return "present", true
	})
	if len(active) != 2 {
		t.Errorf("expected both jurors with credentials present, got %d", len(active))
	}
}
