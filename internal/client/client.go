// Package client is an HTTP, SSE and WebSocket client for the runner API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/transcript"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runner returned status %d: %s", e.Status, e.Message)
}

// EventHandler is called for each run event in order. Returning an error
// stops the stream.
type EventHandler func(event json.RawMessage) error

// Client talks to one runner.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the runner at baseURL. Streams are bounded by
// their context, so the HTTP client has no overall timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// CreateThread starts a thread and returns its id.
func (c *Client) CreateThread(ctx context.Context, req *domain.CreateThreadRequest) (string, error) {
	var resp domain.CreateThreadResponse
	if err := c.do(ctx, http.MethodPost, "/threads", req, &resp); err != nil {
		return "", err
	}
	return resp.ThreadID, nil
}

// CreateRun submits prompt on a thread and returns the run id.
func (c *Client) CreateRun(ctx context.Context, threadID, prompt string) (string, error) {
	var resp domain.CreateRunResponse
	req := &domain.CreateRunRequest{ThreadID: threadID, Prompt: prompt}
	if err := c.do(ctx, http.MethodPost, "/runs", req, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// CancelRun cancels a running run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/runs/"+runID+"/cancel", nil, nil)
}

// CreateSession creates a session.
func (c *Client) CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.Session, error) {
	var session domain.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// PromptSession submits prompt on a session.
func (c *Client) PromptSession(ctx context.Context, sessionID, prompt string) (*domain.CreateRunResponse, error) {
	var resp domain.CreateRunResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/prompt", &domain.PromptRequest{Prompt: prompt}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transcript fetches the normalized transcript of a run.
func (c *Client) Transcript(ctx context.Context, runID string) ([]transcript.Message, error) {
	var resp struct {
		Messages []transcript.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/runs/"+runID+"/transcript", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
