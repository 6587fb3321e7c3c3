package decompose

import (
	"encoding/json"
	"strings"

	"github.com/lucialabs/lucia/internal/domain"
)

// rawSubtask is the JSON shape the decomposition program returns. Ids are
// model-local labels like "t1"; they get remapped to real ids afterwards.
type rawSubtask struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Entities  map[string]any `json:"entities"`
	DependsOn []string       `json:"depends_on"`
	Priority  int            `json:"priority"`
}

// parseSubtasks extracts the first JSON array from an LLM reply
func parseSubtasks(raw string) ([]rawSubtask, error) {
	payload := firstJSONArray(raw)
	if payload == "" {
		return nil, domain.ErrMalformedLLMPayload
	}
	var subtasks []rawSubtask
	if err := json.Unmarshal([]byte(payload), &subtasks); err != nil {
		return nil, domain.ErrMalformedLLMPayload
	}
	return subtasks, nil
}

// firstJSONArray returns the first balanced [...] in text, ignoring
// brackets inside strings.
func firstJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
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
		case '[':
			if !inString {
				depth++
			}
		case ']':
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
