package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lucialabs/lucia/internal/adapters/retry"
	"github.com/lucialabs/lucia/internal/domain"
)

func fastRetry() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxRetries:      1,
		Multiplier:      2,
	}
}

func embeddingsHandler(t *testing.T, vectors ...[]float32) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("unexpected method: %s", r.Method)
		}
		resp := map[string]any{"object": "list", "model": "test-model"}
		data := make([]map[string]any, len(vectors))
		for i, vec := range vectors {
			data[i] = map[string]any{"object": "embedding", "embedding": vec, "index": i}
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}
}

func TestNewClientURLNormalization(t *testing.T) {
	tests := []struct {
		name        string
		inputURL    string
		expectedURL string
	}{
		{"with /v1 suffix", "http://localhost:11434/v1", "http://localhost:11434"},
		{"without /v1 suffix", "http://localhost:11434", "http://localhost:11434"},
		{"with trailing slash", "http://localhost:11434/", "http://localhost:11434"},
		{"with /v1/ suffix", "http://localhost:11434/v1/", "http://localhost:11434"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.inputURL, "", "test-model", 1024, 0)
			if client.baseURL != tt.expectedURL {
				t.Errorf("expected baseURL %s, got %s", tt.expectedURL, client.baseURL)
			}
		})
	}
}

func TestEmbedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing authorization header")
		}
		embeddingsHandler(t, []float32{0.1, 0.2, 0.3})(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", 3, time.Second)
	result, err := client.Embed(context.Background(), "¿qué tiempo hace?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Model != "test-model" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestEmbedBatchSuccess(t *testing.T) {
	server := httptest.NewServer(embeddingsHandler(t,
		[]float32{0.1, 0.2, 0.3}, []float32{0.4, 0.5, 0.6}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 3, time.Second)
	results, err := client.EmbedBatch(context.Background(), []string{"uno", "dos"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Embedding[0] != 0.1 || results[1].Embedding[0] != 0.4 {
		t.Error("results not ordered by index")
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := NewClient("http://localhost:11434", "", "test-model", 3, time.Second)
	results, err := client.EmbedBatch(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestEmbedBatchSingleTextSentAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["input"].([]any); ok {
			t.Error("single text should be sent as string, not array")
		}
		embeddingsHandler(t, []float32{0.1, 0.2, 0.3})(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 3, time.Second)
	if _, err := client.EmbedBatch(context.Background(), []string{"solo uno"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmbedBatchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 3, time.Second)
	client.retryConfig = fastRetry()
	_, err := client.EmbedBatch(context.Background(), []string{"test"})
	if !errors.Is(err, domain.ErrEmbeddingsFailed) {
		t.Fatalf("expected ErrEmbeddingsFailed, got %v", err)
	}
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(embeddingsHandler(t, []float32{0.1, 0.2}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 3, time.Second)
	_, err := client.EmbedBatch(context.Background(), []string{"test"})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestEmbedBatchInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 3, time.Second)
	if _, err := client.EmbedBatch(context.Background(), []string{"test"}); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestEmbedBatchCircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 3, time.Second)
	client.retryConfig = fastRetry()

	for i := 0; i < 6; i++ {
		client.EmbedBatch(context.Background(), []string{"test"})
	}

	_, err := client.EmbedBatch(context.Background(), []string{"test"})
	if err == nil {
		t.Fatal("expected circuit breaker to be open")
	}
}
