package models

import (
	"fmt"
)

// JurorSpec is one roster entry from the jury registry. Jurors are data,
// not code: adding or removing one never touches the engine.
type JurorSpec struct {
	ID             string  `json:"id"`
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Role           string  `json:"role,omitempty"`
	Weight         float64 `json:"weight"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	PromptTemplate string  `json:"prompt_template,omitempty"`
	CredentialEnv  string  `json:"credential_env,omitempty"`
	Enabled        bool    `json:"enabled"`
}

// Validate checks the intrinsic invariants of the roster entry
func (j *JurorSpec) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("juror id is required")
	}
	if j.Provider == "" {
		return fmt.Errorf("juror %s: provider is required", j.ID)
	}
	if j.Model == "" {
		return fmt.Errorf("juror %s: model is required", j.ID)
	}
	if j.Weight < 0 {
		return fmt.Errorf("juror %s: weight cannot be negative", j.ID)
	}
	if j.Temperature < 0 || j.Temperature > 2 {
		return fmt.Errorf("juror %s: temperature must be in [0,2]", j.ID)
	}
	return nil
}
