package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// juryFile mirrors the YAML layout of the jury roster
type juryFile struct {
	Jurors []struct {
		ID             string  `yaml:"id"`
		Provider       string  `yaml:"provider"`
		Model          string  `yaml:"model"`
		Role           string  `yaml:"role"`
		Weight         float64 `yaml:"weight"`
		Temperature    float64 `yaml:"temperature"`
		MaxTokens      int     `yaml:"max_tokens"`
		PromptTemplate string  `yaml:"prompt_template"`
		CredentialEnv  string  `yaml:"credential_env"`
		Disabled       bool    `yaml:"disabled"`
	} `yaml:"jurors"`
}

// JurySnapshot is one immutable view of the juror roster
type JurySnapshot struct {
	roster  []*models.JurorSpec
	version string
}

// Roster returns the jurors in file order
func (s *JurySnapshot) Roster() []*models.JurorSpec {
	return s.roster
}

// Version identifies the loaded file content
func (s *JurySnapshot) Version() string {
	return s.version
}

// LoadJury parses and validates the jury roster file
func LoadJury(path string) (*JurySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError(path, "", err)
	}

	var file juryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.NewConfigurationError(path, "", fmt.Errorf("invalid YAML: %w", err))
	}
	if len(file.Jurors) == 0 {
		return nil, domain.NewConfigurationError(path, "jurors", domain.ErrNoJurors)
	}

	snap := &JurySnapshot{version: contentVersion(data)}
	seen := make(map[string]bool, len(file.Jurors))
	for _, entry := range file.Jurors {
		spec := &models.JurorSpec{
			ID:             entry.ID,
			Provider:       entry.Provider,
			Model:          entry.Model,
			Role:           entry.Role,
			Weight:         entry.Weight,
			Temperature:    entry.Temperature,
			MaxTokens:      entry.MaxTokens,
			PromptTemplate: entry.PromptTemplate,
			CredentialEnv:  entry.CredentialEnv,
			Enabled:        !entry.Disabled,
		}
		if spec.Weight == 0 {
			spec.Weight = 1.0
		}
		if spec.Weight > 1 {
			return nil, domain.NewConfigurationError(path, spec.ID,
				fmt.Errorf("weight must be in (0,1]"))
		}
		if err := spec.Validate(); err != nil {
			return nil, domain.NewConfigurationError(path, spec.ID, err)
		}
		if seen[spec.ID] {
			return nil, domain.NewConfigurationError(path, spec.ID, domain.ErrDuplicateEntry)
		}
		seen[spec.ID] = true
		snap.roster = append(snap.roster, spec)
	}

	return snap, nil
}
