package rag

import (
	"encoding/json"
	"strings"

	"github.com/lucialabs/lucia/internal/domain"
)

// llmVerdict is the JSON shape the classification prompt demands
type llmVerdict struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Rationale  string            `json:"rationale"`
}

// parseVerdict extracts the verdict object from an LLM reply. Models wrap
// JSON in prose or code fences often enough that we cut out the first
// balanced object instead of unmarshalling the raw text.
func parseVerdict(raw string) (*llmVerdict, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return nil, domain.ErrMalformedLLMPayload
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, domain.ErrMalformedLLMPayload
	}
	if v.Intent == "" {
		return nil, domain.ErrMalformedLLMPayload
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return &v, nil
}

// extractJSONObject returns the first balanced {...} in the text, skipping
// braces inside JSON strings.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
