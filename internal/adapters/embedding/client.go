package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lucialabs/lucia/internal/adapters/circuitbreaker"
	"github.com/lucialabs/lucia/internal/adapters/retry"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/ports"
)

// Client is an OpenAI-compatible embedding client. It embeds utterances at
// classification time and catalog exemplars at registry load, so a breaker
// protects the endpoint from being hammered while it is down.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	dimensions  int
	timeout     time.Duration
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient creates a new embedding client
func NewClient(baseURL, apiKey, model string, dimensions int, timeout time.Duration) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		dimensions:  dimensions,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: retry.HTTPConfig(),
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

type embeddingRequest struct {
	Input any    `json:"input"` // string or []string
	Model string `json:"model"`
}

type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding for a single text
func (c *Client) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	results, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, domain.NewPermanentProviderError("embedding", "embed",
			fmt.Errorf("no embedding returned"))
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	if len(texts) == 0 {
		return []*ports.EmbeddingResult{}, nil
	}

	var results []*ports.EmbeddingResult
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		results, err = c.embedBatch(ctx, texts)
		return err
	})
	return results, err
}

// GetDimensions returns the dimensionality of the embeddings
func (c *Client) GetDimensions() int {
	return c.dimensions
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([]*ports.EmbeddingResult, error) {
	req := embeddingRequest{Model: c.model}
	if len(texts) == 1 {
		req.Input = texts[0]
	} else {
		req.Input = texts
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, domain.NewTransientProviderError("embedding", "embed", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			log.Printf("warning: embedding API error: url=%s/v1/embeddings status=%d body=%s",
				c.baseURL, resp.StatusCode, string(respBody))
			err := fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
			if retry.IsRetryableHTTPStatus(resp.StatusCode) {
				return resp.StatusCode, domain.NewTransientProviderError("embedding", "embed", err)
			}
			return resp.StatusCode, domain.NewPermanentProviderError("embedding", "embed", err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmbeddingsFailed, err)
	}

	var embeddingResp embeddingResponse
	if err := json.Unmarshal(respBody, &embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]*ports.EmbeddingResult, len(embeddingResp.Data))
	for _, data := range embeddingResp.Data {
		dimensions := len(data.Embedding)
		if c.dimensions > 0 && dimensions != c.dimensions {
			return nil, fmt.Errorf("%w: expected %d dimensions but got %d",
				domain.ErrDimensionMismatch, c.dimensions, dimensions)
		}
		if data.Index < 0 || data.Index >= len(results) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		results[data.Index] = &ports.EmbeddingResult{
			Embedding:  data.Embedding,
			Model:      embeddingResp.Model,
			Dimensions: dimensions,
		}
	}
	return results, nil
}
