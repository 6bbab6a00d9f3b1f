// Package client talks to a running "pivot serve" instance.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"Pivot/internal/pipeline"
	"Pivot/internal/transcript"
	"Pivot/internal/translate"
	"Pivot/internal/vectordb"
	"Pivot/server"
)

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// Client is an HTTP client for the Pivot API.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// New returns a client for baseURL. Streaming calls have no overall timeout;
// they end with the request context.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var out server.HealthResponse
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	err = c.do(req, &out)
	return out, err
}

// Turn runs one turn remotely. When onEvent is non-nil the turn is streamed
// and every event is passed to it as it arrives.
func (c *Client) Turn(ctx context.Context, in server.TurnRequest, onEvent func(server.TurnEvent)) (pipeline.TurnResult, error) {
	in.Stream = onEvent != nil
	req, err := c.newPost(ctx, "/v1/turn", in)
	if err != nil {
		return pipeline.TurnResult{}, err
	}
	if !in.Stream {
		var out pipeline.TurnResult
		err := c.do(req, &out)
		return out, err
	}

	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.TurnResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pipeline.TurnResult{}, statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev server.TurnEvent
		if err := sonic.Unmarshal(line, &ev); err != nil {
			return pipeline.TurnResult{}, fmt.Errorf("malformed stream event: %w", err)
		}
		onEvent(ev)
		if ev.Done && ev.Stage == "" {
			if ev.Error != "" {
				return pipeline.TurnResult{}, errors.New(ev.Error)
			}
			if ev.Result == nil {
				return pipeline.TurnResult{}, errors.New("stream ended without a result")
			}
			return *ev.Result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return pipeline.TurnResult{}, err
	}
	return pipeline.TurnResult{}, io.ErrUnexpectedEOF
}

// Translate runs a single translation remotely.
func (c *Client) Translate(ctx context.Context, in server.TranslateRequest) (translate.Result, error) {
	req, err := c.newPost(ctx, "/v1/translate", in)
	if err != nil {
		return translate.Result{}, err
	}
	var out server.TranslateResponse
	err = c.do(req, &out)
	return out.Result, err
}

// Search queries the server's corpus index.
func (c *Client) Search(ctx context.Context, in server.SearchRequest) ([]vectordb.Result, error) {
	req, err := c.newPost(ctx, "/v1/search", in)
	if err != nil {
		return nil, err
	}
	var out server.SearchResponse
	err = c.do(req, &out)
	return out.Results, err
}

// History lists up to limit recorded turns, newest first. limit <= 0 uses the
// server default.
func (c *Client) History(ctx context.Context, limit int) ([]transcript.TurnRecord, error) {
	url := c.BaseURL + "/v1/history"
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var out server.HistoryResponse
	err = c.do(req, &out)
	return out.Turns, err
}

func (c *Client) newPost(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e server.ErrorResponse
	if err := sonic.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
