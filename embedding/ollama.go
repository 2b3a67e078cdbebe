package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ Provider = (*OllamaProvider)(nil)

// OllamaConfig holds configuration for the Ollama embeddings backend.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	Dimensions     int // Vector size of the model, e.g. 768 for nomic-embed-text
	RetryAttempts  int
	RequestTimeout time.Duration
}

// DefaultOllamaConfig returns sensible defaults for a local Ollama instance.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:        "http://localhost:11434",
		Model:          "nomic-embed-text",
		Dimensions:     768,
		RetryAttempts:  3,
		RequestTimeout: 30 * time.Second,
	}
}

// OllamaProvider implements Provider against the Ollama embeddings endpoint.
type OllamaProvider struct {
	config     OllamaConfig
	httpClient *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaProvider constructs an Ollama embeddings provider.
func NewOllamaProvider(config OllamaConfig) *OllamaProvider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOllamaConfig().BaseURL
	}
	if config.Model == "" {
		config.Model = DefaultOllamaConfig().Model
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultOllamaConfig().RequestTimeout
	}
	return &OllamaProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Embed implements Provider. Transient request failures are retried with
// exponential backoff up to RetryAttempts times.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var result []float32

	operation := func() error {
		vec, err := p.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		result = vec
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.config.RetryAttempts)),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return result, nil
}

// EmbedBatch implements Provider. The Ollama embeddings endpoint accepts one
// prompt per request, so the batch is issued sequentially.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: batch item %d: %w", i, err)
		}
		result[i] = vec
	}
	return result, nil
}

func (p *OllamaProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	request := ollamaEmbeddingRequest{
		Model:  p.config.Model,
		Prompt: text,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding")
	}

	return float64ToFloat32(response.Embedding), nil
}

// Dimensions implements Provider.
func (p *OllamaProvider) Dimensions() int {
	return p.config.Dimensions
}

// ModelID implements Provider.
func (p *OllamaProvider) ModelID() string {
	return p.config.Model
}
