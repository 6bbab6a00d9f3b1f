package embedding

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"Pivot/internal/config"
)

type llamaCppProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func newLlamaCppProvider(cfg config.LlamaCppEmbeddingConfig) (Provider, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("embedding: llamacpp base_url is required")
	}

	return &llamaCppProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   strings.TrimSpace(cfg.Model),
		client:  &http.Client{Timeout: parseDuration(cfg.Timeout, 30*time.Second)},
	}, nil
}

type llamaCppEmbeddingRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

func (p *llamaCppProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := sonic.Marshal(llamaCppEmbeddingRequest{Content: text, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embedding", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: server returned %d", resp.StatusCode)
	}

	var decoded llamaCppEmbeddingResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	vector := decoded.Flatten()
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding: empty vector returned")
	}

	result := make([]float32, len(vector))
	for i, v := range vector {
		result[i] = float32(v)
	}
	return Normalize(result), nil
}

func (p *llamaCppProvider) Close() error {
	// No persistent resources to release for HTTP client.
	return nil
}

// llama.cpp answers either {"embedding": [...]} or the OpenAI-style
// {"data": [{"embedding": [...]}]}.
type llamaCppEmbeddingResponse struct {
	Embedding []float64                    `json:"embedding"`
	Data      []llamaCppEmbeddingDataEntry `json:"data"`
}

type llamaCppEmbeddingDataEntry struct {
	Embedding []float64 `json:"embedding"`
}

func (r llamaCppEmbeddingResponse) Flatten() []float64 {
	if len(r.Embedding) != 0 {
		return r.Embedding
	}
	if len(r.Data) > 0 && len(r.Data[0].Embedding) > 0 {
		return r.Data[0].Embedding
	}
	return nil
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
