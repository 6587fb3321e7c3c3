package prompt

import (
	"fmt"
	"strings"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
)

// Signature wraps dspy-go's signature with Lucía-specific metadata
type Signature struct {
	core.Signature
	Name        string
	Description string
	Version     int
}

// MustParseSignature creates a signature from a string or panics
func MustParseSignature(sig string) Signature {
	s, err := ParseSignature(sig)
	if err != nil {
		panic(fmt.Sprintf("failed to parse signature: %v", err))
	}
	return s
}

// ParseSignature creates a signature from a string like "input1, input2 -> output1, output2"
func ParseSignature(sig string) (Signature, error) {
	parts := strings.Split(sig, "->")
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("invalid signature format: %s", sig)
	}

	inputFields := parseFields(strings.TrimSpace(parts[0]))
	outputFields := parseFields(strings.TrimSpace(parts[1]))

	inputs := make([]core.InputField, len(inputFields))
	for i, f := range inputFields {
		inputs[i] = core.InputField{Field: f}
	}

	outputs := make([]core.OutputField, len(outputFields))
	for i, f := range outputFields {
		outputs[i] = core.OutputField{Field: f}
	}

	return Signature{
		Signature: core.NewSignature(inputs, outputs),
		Name:      generateName(sig),
		Version:   1,
	}, nil
}

// parseFields converts comma-separated field definitions into core fields
func parseFields(fieldStr string) []core.Field {
	if fieldStr == "" {
		return nil
	}

	parts := strings.Split(fieldStr, ",")
	fields := make([]core.Field, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Field format: "name: type" or just "name"
		name := part
		if strings.Contains(part, ":") {
			fieldParts := strings.SplitN(part, ":", 2)
			name = strings.TrimSpace(fieldParts[0])
		}

		fields = append(fields, core.NewField(name))
	}

	return fields
}

// generateName creates a name from the signature string
func generateName(sig string) string {
	name := strings.ReplaceAll(sig, "->", "_to_")
	name = strings.ReplaceAll(name, ",", "_")
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	return name
}

// Predefined signatures for Lucía's LLM programs
var (
	// SlotExtraction pulls one slot value out of an utterance. slot_value
	// comes back empty when the utterance does not mention the slot.
	SlotExtraction = MustParseSignature(
		"utterance, intent_description, slot_name, known_slots -> slot_value, confidence",
	)

	// SubtaskDecomposition splits an utterance into a JSON list of
	// subtasks with dependencies over the available actions.
	SubtaskDecomposition = MustParseSignature(
		"utterance, intent, entities, available_actions -> subtasks_json",
	)

	// EntityExtraction names the entities an utterance mentions, as JSON
	EntityExtraction = MustParseSignature(
		"utterance, intent_description -> entities_json",
	)
)
