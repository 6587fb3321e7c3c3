package jury

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

type cannedLLM struct {
	reply    string
	err      error
	messages []ports.LLMMessage
	opts     *ports.LLMOptions
}

func (c *cannedLLM) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	return c.ChatWithOptions(ctx, messages, nil)
}

func (c *cannedLLM) ChatWithOptions(ctx context.Context, messages []ports.LLMMessage, opts *ports.LLMOptions) (*ports.LLMResponse, error) {
	c.messages = messages
	c.opts = opts
	if c.err != nil {
		return nil, c.err
	}
	return &ports.LLMResponse{Content: c.reply}, nil
}

func TestClientProposeIntent(t *testing.T) {
	llm := &cannedLLM{reply: "Mi voto:\n" +
		`{"intent": "consultar_tiempo", "confidence": 0.88, "entities": {"ubicacion": "Madrid"}, "rankings": ["consultar_tiempo", "ayuda"]}`}
	spec := &models.JurorSpec{ID: "literal", Weight: 1.5, Role: "analista literal", Temperature: 0.1, MaxTokens: 256}
	client := NewClient(spec, llm)

	vote, err := client.ProposeIntent(context.Background(), "clasifica esto")
	require.NoError(t, err)
	assert.Equal(t, "literal", vote.JurorID)
	assert.Equal(t, 1.5, vote.Weight)
	assert.Equal(t, "consultar_tiempo", vote.Intent)
	assert.InDelta(t, 0.88, vote.Confidence, 1e-9)
	assert.Equal(t, "Madrid", vote.Entities["ubicacion"])
	assert.Equal(t, []string{"consultar_tiempo", "ayuda"}, vote.Rankings)
	assert.False(t, vote.Timestamp.IsZero())

	// Role becomes the system preamble; tuning comes from the spec.
	require.Len(t, llm.messages, 2)
	assert.Equal(t, "system", llm.messages[0].Role)
	assert.Contains(t, llm.messages[0].Content, "analista literal")
	require.NotNil(t, llm.opts)
	assert.Equal(t, 0.1, llm.opts.Temperature)
	assert.Equal(t, 256, llm.opts.MaxTokens)
}

func TestClientPromptTemplateOverridesRole(t *testing.T) {
	llm := &cannedLLM{reply: `{"intent": "ayuda", "confidence": 0.7}`}
	spec := &models.JurorSpec{ID: "custom", Weight: 1, Role: "escéptico",
		PromptTemplate: "Eres {role}. Sé breve."}
	client := NewClient(spec, llm)

	_, err := client.ProposeIntent(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, "Eres escéptico. Sé breve.", llm.messages[0].Content)
}

func TestClientMalformedBallot(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no json", "lo siento, no puedo votar"},
		{"missing intent", `{"confidence": 0.8}`},
		{"broken json", `{"intent": "ayuda",`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(&models.JurorSpec{ID: "j", Weight: 1}, &cannedLLM{reply: tt.reply})
			_, err := client.ProposeIntent(context.Background(), "hola")
			require.ErrorIs(t, err, domain.ErrMalformedLLMPayload)
		})
	}
}

func TestParseBallotClampsConfidence(t *testing.T) {
	vote, err := parseBallot(`{"intent": "ayuda", "confidence": 3.2}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, vote.Confidence)

	vote, err = parseBallot(`{"intent": "ayuda", "confidence": -0.5}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vote.Confidence)
}

func TestFirstJSONObjectSkipsBracesInStrings(t *testing.T) {
	raw := `prefijo {"intent": "ayuda", "rationale": "llaves {dentro} de texto"} sufijo`
	got := firstJSONObject(raw)
	assert.Equal(t, `{"intent": "ayuda", "rationale": "llaves {dentro} de texto"}`, got)
}
