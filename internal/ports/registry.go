package ports

import (
	"context"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// IntentRegistry is a read view over the current intent catalog snapshot.
// Lookups during a request hit one immutable snapshot; reloads swap the
// snapshot atomically.
type IntentRegistry interface {
	Get(id string) (*models.IntentDefinition, bool)
	All() []*models.IntentDefinition
	Defaults() models.CatalogDefaults
	Version() string
}

// ToolRegistry is a read view over the current tool catalog snapshot.
// Schemas are compiled once at load; validation hits the compiled form.
type ToolRegistry interface {
	Action(name string) (*models.ToolAction, bool)
	Actions() []*models.ToolAction
	ValidateInput(action string, input map[string]any) error
	ValidateOutput(action string, output map[string]any) error
	Version() string
}

// JuryRegistry is a read view over the current jury roster snapshot
type JuryRegistry interface {
	Roster() []*models.JurorSpec
	Version() string
}

// RegistryReloader re-reads registry files on demand. A failed reload
// keeps the previous snapshot and returns a ConfigurationError.
type RegistryReloader interface {
	Reload(ctx context.Context) error
}
