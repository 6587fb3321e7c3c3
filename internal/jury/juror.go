package jury

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Client wraps one roster entry behind the single capability the engine
// needs: propose_intent(prompt) -> Vote.
type Client struct {
	spec *models.JurorSpec
	llm  ports.LLMService
}

// NewClient binds a juror spec to its LLM service
func NewClient(spec *models.JurorSpec, llm ports.LLMService) *Client {
	return &Client{spec: spec, llm: llm}
}

func (c *Client) ID() string      { return c.spec.ID }
func (c *Client) Weight() float64 { return c.spec.Weight }

// ProposeIntent asks the juror for a ballot on the given prompt
func (c *Client) ProposeIntent(ctx context.Context, prompt string) (*models.Vote, error) {
	messages := make([]ports.LLMMessage, 0, 2)
	if preamble := c.preamble(); preamble != "" {
		messages = append(messages, ports.LLMMessage{Role: "system", Content: preamble})
	}
	messages = append(messages, ports.LLMMessage{Role: "user", Content: prompt})

	resp, err := c.llm.ChatWithOptions(ctx, messages, &ports.LLMOptions{
		Temperature: c.spec.Temperature,
		MaxTokens:   c.spec.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("juror %s: %w", c.spec.ID, err)
	}

	vote, err := parseBallot(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("juror %s: %w", c.spec.ID, err)
	}
	vote.JurorID = c.spec.ID
	vote.Weight = c.spec.Weight
	vote.RawText = resp.Content
	vote.Timestamp = time.Now()
	return vote, nil
}

// preamble renders the juror's role instruction. An explicit template wins;
// otherwise the role field becomes a standard preamble.
func (c *Client) preamble() string {
	if c.spec.PromptTemplate != "" {
		return strings.ReplaceAll(c.spec.PromptTemplate, "{role}", c.spec.Role)
	}
	if c.spec.Role == "" {
		return ""
	}
	return fmt.Sprintf("Actúas como %s dentro de un jurado de clasificación de intenciones. "+
		"Evalúa desde esa perspectiva y emite tu voto.", c.spec.Role)
}

// ballot is the JSON shape jurors are instructed to return
type ballot struct {
	Intent     string                   `json:"intent"`
	Confidence float64                  `json:"confidence"`
	Entities   map[string]string        `json:"entities"`
	Subtasks   []models.SubtaskProposal `json:"subtasks"`
	Rankings   []string                 `json:"rankings"`
	Approved   []string                 `json:"approved"`
	Rationale  string                   `json:"rationale"`
}

// parseBallot extracts the first balanced JSON object from a juror reply
func parseBallot(raw string) (*models.Vote, error) {
	payload := firstJSONObject(raw)
	if payload == "" {
		return nil, domain.ErrMalformedLLMPayload
	}
	var b ballot
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, domain.ErrMalformedLLMPayload
	}
	if b.Intent == "" {
		return nil, domain.ErrMalformedLLMPayload
	}
	if b.Confidence < 0 {
		b.Confidence = 0
	}
	if b.Confidence > 1 {
		b.Confidence = 1
	}
	return &models.Vote{
		Intent:     b.Intent,
		Confidence: b.Confidence,
		Entities:   b.Entities,
		Subtasks:   b.Subtasks,
		Rankings:   b.Rankings,
		Approved:   b.Approved,
	}, nil
}

// firstJSONObject returns the first balanced {...} in text, ignoring
// braces inside strings.
func firstJSONObject(text string) string {
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
