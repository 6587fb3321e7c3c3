package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lucialabs/lucia/internal/adapters/retry"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Client is an OpenAI-compatible chat client. One instance backs the
// classifier and the extraction/decomposition programs; jurors get their
// own instances via the Factory so each keeps its model and sampling knobs.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
}

// NewClient creates a chat client for one endpoint and model
func NewClient(baseURL, apiKey, model string, maxTokens int, temperature float64, timeout time.Duration) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: retry.HTTPConfig(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion request
func (c *Client) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	return c.ChatWithOptions(ctx, messages, nil)
}

// ChatWithOptions sends a chat request with per-call sampling overrides
func (c *Client) ChatWithOptions(ctx context.Context, messages []ports.LLMMessage, opts *ports.LLMOptions) (*ports.LLMResponse, error) {
	req := chatCompletionRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, len(messages)),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      false,
	}
	for i, m := range messages {
		req.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	if opts != nil {
		if opts.Temperature > 0 {
			req.Temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, domain.NewTransientProviderError("llm", "chat", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
			if retry.IsRetryableHTTPStatus(resp.StatusCode) {
				return resp.StatusCode, domain.NewTransientProviderError("llm", "chat", err)
			}
			return resp.StatusCode, domain.NewPermanentProviderError("llm", "chat", err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedLLMPayload, err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", domain.ErrMalformedLLMPayload)
	}

	return &ports.LLMResponse{
		Content:      response.Choices[0].Message.Content,
		Model:        response.Model,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	}, nil
}

// Factory builds per-juror clients. Provider base URLs come from
// LUCIA_PROVIDER_<NAME>_URL with the default endpoint as fallback, so a
// roster can mix a local vLLM with remote providers without code changes.
type Factory struct {
	defaultURL string
	timeout    time.Duration
}

func NewFactory(defaultURL string, timeout time.Duration) *Factory {
	return &Factory{defaultURL: defaultURL, timeout: timeout}
}

// ForJuror resolves the endpoint and credential for one roster entry.
// A declared-but-missing credential is ErrMissingCredentials, which the
// roster builder treats as "skip this juror".
func (f *Factory) ForJuror(spec *models.JurorSpec) (ports.LLMService, error) {
	baseURL := f.defaultURL
	envKey := "LUCIA_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(spec.Provider, "-", "_")) + "_URL"
	if v := os.Getenv(envKey); v != "" {
		baseURL = v
	}

	apiKey := ""
	if spec.CredentialEnv != "" {
		apiKey = os.Getenv(spec.CredentialEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("juror %s: %w (%s)", spec.ID, domain.ErrMissingCredentials, spec.CredentialEnv)
		}
	}

	maxTokens := spec.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	return NewClient(baseURL, apiKey, spec.Model, maxTokens, spec.Temperature, f.timeout), nil
}
