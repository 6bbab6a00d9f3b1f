package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// CompletionRequest represents the request structure for llama.cpp /completion endpoint
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	TopK        int      `json:"top_k,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stream      bool     `json:"stream"`
	Stop        []string `json:"stop,omitempty"`
	CachePrompt bool     `json:"cache_prompt"`
}

// StreamToken represents a single token event from SSE stream
type StreamToken struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	StopType        string `json:"stop_type,omitempty"`
	TokensPredicted int    `json:"tokens_predicted,omitempty"`
	TokensEvaluated int    `json:"tokens_evaluated,omitempty"`
}

// StreamCallback is called for each token received during streaming
type StreamCallback func(StreamToken) error

type tokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special"`
}

type tokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Client talks to a llama.cpp server.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClientWithTimeout constructs a client using the provided timeout for non-streaming requests.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Health checks that the server has finished loading its model.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server not ready (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var health healthResponse
	if err := sonic.Unmarshal(body, &health); err == nil && health.Status != "" && health.Status != "ok" {
		return fmt.Errorf("server not ready: status %q", health.Status)
	}
	return nil
}

// Tokenize encodes text with the server's model vocabulary.
func (c *Client) Tokenize(ctx context.Context, text string) ([]int32, error) {
	var out tokenizeResponse
	if err := c.postJSON(ctx, "/tokenize", tokenizeRequest{Content: text, AddSpecial: true}, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	bodyBytes, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBodyBytes))
	}
	if err := sonic.Unmarshal(respBodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GenerateStream performs a streaming completion request, calling cb for each token.
// It parses SSE (Server-Sent Events) from the llama.cpp server.
func (c *Client) GenerateStream(ctx context.Context, req CompletionRequest, cb StreamCallback) error {
	req.Stream = true

	bodyBytes, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/completion", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// Use a client without timeout for streaming since generation can take a while
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		var token StreamToken
		if err := sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &token); err != nil {
			return fmt.Errorf("malformed stream event: %w", err)
		}

		if err := cb(token); err != nil {
			return err
		}
		if token.Stop {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
