package prompt

import (
	"context"
	"fmt"

	"github.com/XiaoConstantine/dspy-go/pkg/core"

	"github.com/lucialabs/lucia/internal/ports"
)

// LLMServiceAdapter adapts Lucía's LLMService to dspy-go's LLM interface.
// Wire it once at start-up with core.SetDefaultLLM; the Predict modules
// pick it up from there.
type LLMServiceAdapter struct {
	service ports.LLMService
	model   string
}

// NewLLMServiceAdapter creates a new LLM service adapter
func NewLLMServiceAdapter(service ports.LLMService, model string) *LLMServiceAdapter {
	return &LLMServiceAdapter{service: service, model: model}
}

// Install registers the adapter as dspy-go's default LLM
func (a *LLMServiceAdapter) Install() {
	core.SetDefaultLLM(a)
}

// Generate implements the dspy-go LLM interface
func (a *LLMServiceAdapter) Generate(ctx context.Context, prompt string, opts ...core.GenerateOption) (*core.LLMResponse, error) {
	messages := []ports.LLMMessage{
		{Role: "user", Content: prompt},
	}

	resp, err := a.service.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("llm service chat failed: %w", err)
	}

	return &core.LLMResponse{
		Content: resp.Content,
	}, nil
}

// GenerateWithJSON is unused: the Predict programs parse their own JSON
// output fields.
func (a *LLMServiceAdapter) GenerateWithJSON(ctx context.Context, prompt string, opts ...core.GenerateOption) (map[string]interface{}, error) {
	return nil, fmt.Errorf("GenerateWithJSON not implemented")
}

// GenerateWithFunctions is unused: tool calls route through the tool
// router, not through LLM function calling.
func (a *LLMServiceAdapter) GenerateWithFunctions(ctx context.Context, prompt string, functions []map[string]interface{}, opts ...core.GenerateOption) (map[string]interface{}, error) {
	return nil, fmt.Errorf("GenerateWithFunctions not implemented")
}

// CreateEmbedding is unused: embeddings go through ports.EmbeddingService
func (a *LLMServiceAdapter) CreateEmbedding(ctx context.Context, input string, opts ...core.EmbeddingOption) (*core.EmbeddingResult, error) {
	return nil, fmt.Errorf("CreateEmbedding not implemented: use ports.EmbeddingService")
}

// CreateEmbeddings is unused: embeddings go through ports.EmbeddingService
func (a *LLMServiceAdapter) CreateEmbeddings(ctx context.Context, inputs []string, opts ...core.EmbeddingOption) (*core.BatchEmbeddingResult, error) {
	return nil, fmt.Errorf("CreateEmbeddings not implemented: use ports.EmbeddingService")
}

// StreamGenerate is unused: the extraction and decomposition programs run
// in batch mode.
func (a *LLMServiceAdapter) StreamGenerate(ctx context.Context, prompt string, opts ...core.GenerateOption) (*core.StreamResponse, error) {
	return nil, fmt.Errorf("StreamGenerate not implemented")
}

// GenerateWithContent is unused: prompts are text only
func (a *LLMServiceAdapter) GenerateWithContent(ctx context.Context, content []core.ContentBlock, opts ...core.GenerateOption) (*core.LLMResponse, error) {
	return nil, fmt.Errorf("GenerateWithContent not implemented")
}

// StreamGenerateWithContent is unused: prompts are text only
func (a *LLMServiceAdapter) StreamGenerateWithContent(ctx context.Context, content []core.ContentBlock, opts ...core.GenerateOption) (*core.StreamResponse, error) {
	return nil, fmt.Errorf("StreamGenerateWithContent not implemented")
}

// ProviderName returns the provider name
func (a *LLMServiceAdapter) ProviderName() string {
	return "lucia"
}

// ModelID returns the model identifier
func (a *LLMServiceAdapter) ModelID() string {
	return a.model
}

// Capabilities returns the capabilities of this LLM
func (a *LLMServiceAdapter) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityChat, core.CapabilityCompletion}
}
