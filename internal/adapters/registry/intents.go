package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// intentsFile mirrors the YAML layout of the intent registry
type intentsFile struct {
	Defaults struct {
		ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
		MaxRagExamples       int     `yaml:"max_rag_examples"`
		FallbackIntent       string  `yaml:"fallback_intent"`
		UnknownIntentMessage string  `yaml:"unknown_intent_message"`
		HotReloadSeconds     int     `yaml:"hot_reload_seconds"`
	} `yaml:"defaults"`
	Intents []intentEntry `yaml:"intents"`
}

type intentEntry struct {
	ID                  string            `yaml:"id"`
	Description         string            `yaml:"description"`
	Examples            []string          `yaml:"examples"`
	RequiredSlots       []string          `yaml:"required_slots"`
	OptionalSlots       []string          `yaml:"optional_slots"`
	ToolAction          string            `yaml:"tool_action"`
	ExpertDomain        string            `yaml:"expert_domain"`
	ConfidenceThreshold float64           `yaml:"confidence_threshold"`
	MaxRagExamples      int               `yaml:"max_rag_examples"`
	SlotQuestions       map[string]string `yaml:"slot_questions"`
	SlotConstraints     map[string]struct {
		Patterns []string `yaml:"patterns"`
		Enum     []string `yaml:"enum"`
		Priority int      `yaml:"priority"`
	} `yaml:"slot_constraints"`
}

// IntentSnapshot is one immutable view of the intent catalog. Consumers
// capture it at request entry and keep it for the request's lifetime.
type IntentSnapshot struct {
	byID     map[string]*models.IntentDefinition
	ordered  []*models.IntentDefinition
	defaults models.CatalogDefaults
	version  string
}

// Get returns the intent with the given id
func (s *IntentSnapshot) Get(id string) (*models.IntentDefinition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// All returns every intent in file order
func (s *IntentSnapshot) All() []*models.IntentDefinition {
	return s.ordered
}

// Defaults returns the catalog-wide defaults
func (s *IntentSnapshot) Defaults() models.CatalogDefaults {
	return s.defaults
}

// Version identifies the loaded file content
func (s *IntentSnapshot) Version() string {
	return s.version
}

// LoadIntents parses and validates the intent registry file. Any problem
// is a ConfigurationError; the caller keeps its previous snapshot.
func LoadIntents(path string) (*IntentSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError(path, "", err)
	}

	var file intentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.NewConfigurationError(path, "", fmt.Errorf("invalid YAML: %w", err))
	}
	if len(file.Intents) == 0 {
		return nil, domain.NewConfigurationError(path, "intents", domain.ErrCatalogEmpty)
	}

	snap := &IntentSnapshot{
		byID:    make(map[string]*models.IntentDefinition, len(file.Intents)),
		ordered: make([]*models.IntentDefinition, 0, len(file.Intents)),
		defaults: models.CatalogDefaults{
			ConfidenceThreshold:  file.Defaults.ConfidenceThreshold,
			MaxRagExamples:       file.Defaults.MaxRagExamples,
			FallbackIntent:       file.Defaults.FallbackIntent,
			UnknownIntentMessage: file.Defaults.UnknownIntentMessage,
			HotReloadSeconds:     file.Defaults.HotReloadSeconds,
		},
		version: contentVersion(data),
	}
	if snap.defaults.ConfidenceThreshold == 0 {
		snap.defaults.ConfidenceThreshold = 0.7
	}
	if snap.defaults.MaxRagExamples == 0 {
		snap.defaults.MaxRagExamples = 5
	}

	for _, entry := range file.Intents {
		def := &models.IntentDefinition{
			ID:                  entry.ID,
			Description:         entry.Description,
			Examples:            entry.Examples,
			RequiredSlots:       entry.RequiredSlots,
			OptionalSlots:       entry.OptionalSlots,
			ToolAction:          entry.ToolAction,
			ExpertDomain:        entry.ExpertDomain,
			ConfidenceThreshold: entry.ConfidenceThreshold,
			MaxRagExamples:      entry.MaxRagExamples,
			SlotQuestions:       entry.SlotQuestions,
		}
		if def.ConfidenceThreshold == 0 {
			def.ConfidenceThreshold = snap.defaults.ConfidenceThreshold
		}
		if def.MaxRagExamples == 0 {
			def.MaxRagExamples = snap.defaults.MaxRagExamples
		}
		if len(entry.SlotConstraints) > 0 {
			def.SlotConstraints = make(map[string]models.SlotConstraint, len(entry.SlotConstraints))
			for slot, sc := range entry.SlotConstraints {
				def.SlotConstraints[slot] = models.SlotConstraint{
					Patterns: sc.Patterns,
					Enum:     sc.Enum,
					Priority: sc.Priority,
				}
			}
		}

		if err := def.Validate(); err != nil {
			return nil, domain.NewConfigurationError(path, def.ID, err)
		}
		if _, dup := snap.byID[def.ID]; dup {
			return nil, domain.NewConfigurationError(path, def.ID, domain.ErrDuplicateEntry)
		}
		if err := validateSlotReferences(def); err != nil {
			return nil, domain.NewConfigurationError(path, def.ID, err)
		}
		snap.byID[def.ID] = def
		snap.ordered = append(snap.ordered, def)
	}

	if fb := snap.defaults.FallbackIntent; fb != "" {
		if _, ok := snap.byID[fb]; !ok {
			return nil, domain.NewConfigurationError(path, "defaults.fallback_intent",
				fmt.Errorf("fallback intent %q is not declared", fb))
		}
	}

	return snap, nil
}

// validateSlotReferences rejects questions or constraints for slots the
// intent never declares.
func validateSlotReferences(def *models.IntentDefinition) error {
	known := make(map[string]bool)
	for _, slot := range def.AllSlots() {
		known[slot] = true
	}
	for slot := range def.SlotQuestions {
		if !known[slot] {
			return fmt.Errorf("slot question references unknown slot %q", slot)
		}
	}
	for slot := range def.SlotConstraints {
		if !known[slot] {
			return fmt.Errorf("slot constraint references unknown slot %q", slot)
		}
	}
	return nil
}

// contentVersion fingerprints a registry file's bytes
func contentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
