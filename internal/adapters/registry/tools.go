package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// toolsFile mirrors the YAML layout of the tool registry
type toolsFile struct {
	Plugins []struct {
		Name    string `yaml:"name"`
		BaseURL string `yaml:"base_url"`
		Actions []struct {
			Name         string         `yaml:"name"`
			Description  string         `yaml:"description"`
			Transport    string         `yaml:"transport"`
			Endpoint     string         `yaml:"endpoint"`
			Method       string         `yaml:"method"`
			InputSchema  map[string]any `yaml:"input_schema"`
			OutputSchema map[string]any `yaml:"output_schema"`
			TimeoutMs    int            `yaml:"timeout_ms"`
			Retry        struct {
				Max     int    `yaml:"max"`
				Backoff string `yaml:"backoff"`
				MinMs   int    `yaml:"min_ms"`
				MaxMs   int    `yaml:"max_ms"`
			} `yaml:"retry"`
			Auth *struct {
				Type   string `yaml:"type"`
				EnvVar string `yaml:"env_var"`
				Value  string `yaml:"value"`
			} `yaml:"auth"`
			Idempotent *bool  `yaml:"idempotent"`
			Compensate string `yaml:"compensate"`
			Disabled   bool   `yaml:"disabled"`
		} `yaml:"actions"`
	} `yaml:"plugins"`
}

// compiledSchemas holds the jsonschema forms compiled at load time
type compiledSchemas struct {
	input  *jsonschema.Schema
	output *jsonschema.Schema
}

// ToolSnapshot is one immutable view of the tool catalog
type ToolSnapshot struct {
	byName  map[string]*models.ToolAction
	ordered []*models.ToolAction
	schemas map[string]compiledSchemas
	version string
}

// Action resolves a qualified plugin.action name
func (s *ToolSnapshot) Action(name string) (*models.ToolAction, bool) {
	action, ok := s.byName[name]
	return action, ok
}

// Actions returns every action in file order
func (s *ToolSnapshot) Actions() []*models.ToolAction {
	return s.ordered
}

// Version identifies the loaded file content
func (s *ToolSnapshot) Version() string {
	return s.version
}

// ValidateInput checks a payload against the action's input schema.
// Actions without a schema accept anything.
func (s *ToolSnapshot) ValidateInput(action string, input map[string]any) error {
	cs, ok := s.schemas[action]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, action)
	}
	if cs.input == nil {
		return nil
	}
	if err := validateAgainst(cs.input, input); err != nil {
		return &domain.ValidationError{Field: action + ".input", Message: err.Error(), Err: domain.ErrInvalidToolInput}
	}
	return nil
}

// ValidateOutput checks a tool reply against the action's output schema
func (s *ToolSnapshot) ValidateOutput(action string, output map[string]any) error {
	cs, ok := s.schemas[action]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrToolNotFound, action)
	}
	if cs.output == nil {
		return nil
	}
	if err := validateAgainst(cs.output, output); err != nil {
		return &domain.ValidationError{Field: action + ".output", Message: err.Error(), Err: domain.ErrInvalidToolOutput}
	}
	return nil
}

// validateAgainst round-trips the payload through JSON so Go-native values
// (ints, structs) take the shapes the validator expects.
func validateAgainst(schema *jsonschema.Schema, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload not serialisable: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}

// LoadTools parses, validates, and schema-compiles the tool registry file
func LoadTools(path string) (*ToolSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError(path, "", err)
	}

	var file toolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.NewConfigurationError(path, "", fmt.Errorf("invalid YAML: %w", err))
	}

	snap := &ToolSnapshot{
		byName:  make(map[string]*models.ToolAction),
		schemas: make(map[string]compiledSchemas),
		version: contentVersion(data),
	}

	for _, plugin := range file.Plugins {
		if plugin.Name == "" {
			return nil, domain.NewConfigurationError(path, "plugins", fmt.Errorf("plugin without name"))
		}
		for _, entry := range plugin.Actions {
			qualified := plugin.Name + "." + entry.Name
			endpoint := entry.Endpoint
			if endpoint == "" && plugin.BaseURL != "" {
				endpoint = strings.TrimSuffix(plugin.BaseURL, "/") + "/" + entry.Name
			}
			action := &models.ToolAction{
				Name:         qualified,
				Description:  entry.Description,
				Transport:    models.ToolTransport(entry.Transport),
				Endpoint:     endpoint,
				Method:       entry.Method,
				InputSchema:  entry.InputSchema,
				OutputSchema: entry.OutputSchema,
				TimeoutMs:    entry.TimeoutMs,
				Retry: models.ToolRetryPolicy{
					Max:     entry.Retry.Max,
					Backoff: entry.Retry.Backoff,
					MinMs:   entry.Retry.MinMs,
					MaxMs:   entry.Retry.MaxMs,
				},
				Compensate: entry.Compensate,
				Enabled:    !entry.Disabled,
			}
			if action.Transport == "" {
				action.Transport = models.ToolTransportHTTP
			}
			if action.Method == "" {
				action.Method = "POST"
			}
			// Retries are opt-out: actions declare non-idempotence explicitly.
			if entry.Idempotent == nil {
				action.Idempotent = true
			} else {
				action.Idempotent = *entry.Idempotent
			}
			if entry.Auth != nil {
				if entry.Auth.Value != "" {
					return nil, domain.NewConfigurationError(path, qualified,
						fmt.Errorf("inline auth secrets are not allowed; reference an env var"))
				}
				action.Auth = &models.ToolAuth{Type: entry.Auth.Type, EnvVar: entry.Auth.EnvVar}
			}

			if err := action.Validate(); err != nil {
				return nil, domain.NewConfigurationError(path, qualified, err)
			}
			if _, dup := snap.byName[qualified]; dup {
				return nil, domain.NewConfigurationError(path, qualified, domain.ErrDuplicateEntry)
			}

			cs := compiledSchemas{}
			if len(entry.InputSchema) > 0 {
				cs.input, err = compileSchema(qualified+"/input", entry.InputSchema)
				if err != nil {
					return nil, domain.NewConfigurationError(path, qualified, err)
				}
			}
			if len(entry.OutputSchema) > 0 {
				cs.output, err = compileSchema(qualified+"/output", entry.OutputSchema)
				if err != nil {
					return nil, domain.NewConfigurationError(path, qualified, err)
				}
			}

			snap.byName[qualified] = action
			snap.ordered = append(snap.ordered, action)
			snap.schemas[qualified] = cs
		}
	}

	// Compensating actions must themselves resolve.
	for _, action := range snap.ordered {
		if action.Compensate == "" {
			continue
		}
		if _, ok := snap.byName[action.Compensate]; !ok {
			return nil, domain.NewConfigurationError(path, action.Name,
				fmt.Errorf("compensate action %q is not declared", action.Compensate))
		}
	}

	return snap, nil
}

// compileSchema turns a YAML schema map into a compiled JSON schema
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("schema %s not serialisable: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := "inline://" + name
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("schema %s does not compile: %w", name, err)
	}
	return compiled, nil
}
