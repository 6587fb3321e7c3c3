package slots

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucialabs/lucia/internal/prompt"
)

// ExtractInput feeds one LLM slot extraction
type ExtractInput struct {
	Utterance         string
	IntentDescription string
	SlotName          string
	KnownSlots        map[string]string
}

// Extractor pulls a single slot value out of free text. The LLM-backed
// implementation lives below; tests substitute their own.
type Extractor interface {
	Extract(ctx context.Context, in ExtractInput) (value string, confidence float64, err error)
}

// programExtractor runs the slot extraction program through dspy-go
type programExtractor struct {
	program *prompt.LuciaPredict
}

// NewExtractor builds the LLM-backed extractor. The prompt package's LLM
// adapter must be installed before the first call.
func NewExtractor(opts ...prompt.Option) Extractor {
	return &programExtractor{program: prompt.NewLuciaPredict(prompt.SlotExtraction, opts...)}
}

func (e *programExtractor) Extract(ctx context.Context, in ExtractInput) (string, float64, error) {
	known := make([]string, 0, len(in.KnownSlots))
	for name, value := range in.KnownSlots {
		known = append(known, name+"="+value)
	}

	outputs, err := e.program.Process(ctx, map[string]any{
		"utterance":          in.Utterance,
		"intent_description": in.IntentDescription,
		"slot_name":          in.SlotName,
		"known_slots":        strings.Join(known, ", "),
	})
	if err != nil {
		return "", 0, fmt.Errorf("slot extraction for %q: %w", in.SlotName, err)
	}

	value := cleanValue(asString(outputs["slot_value"]))
	if isNullish(value) {
		return "", 0, nil
	}
	return value, asConfidence(outputs["confidence"]), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asConfidence(v any) float64 {
	switch c := v.(type) {
	case float64:
		return clamp01(c)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(c), 64); err == nil {
			return clamp01(f)
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// isNullish filters the ways models say "not present"
func isNullish(value string) bool {
	switch fold(value) {
	case "", "null", "none", "n/a", "na", "ninguno", "ninguna", "desconocido", "no se menciona":
		return true
	default:
		return false
	}
}
