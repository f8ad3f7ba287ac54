package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shubham-kr2002/AI-JOB-AGENT/internal/domain"
	"github.com/shubham-kr2002/AI-JOB-AGENT/pkg/retry"
)

// AgentClient drives a remote browser-agent service over HTTP. The agent
// owns the actual browser; this client only holds the session handle.
type AgentClient struct {
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
	sessionID string
}

// Option configures an AgentClient.
type Option func(*AgentClient)

func WithHTTPClient(c *http.Client) Option { return func(a *AgentClient) { a.client = c } }
func WithLogger(l *slog.Logger) Option     { return func(a *AgentClient) { a.logger = l } }

// NewAgentClient creates a client for the browser agent at baseURL
// (e.g. "http://localhost:7070").
func NewAgentClient(baseURL string, opts ...Option) *AgentClient {
	a := &AgentClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 90 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type launchResponse struct {
	SessionID string `json:"session_id"`
}

// Launch opens a browser session on the agent. Launch is retried because a
// cold agent may still be starting its browser pool.
func (a *AgentClient) Launch(ctx context.Context) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		OnRetry: func(attempt int, err error) {
			a.logger.Warn("browser session launch failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		var resp launchResponse
		if err := a.post(ctx, "/v1/session", nil, &resp); err != nil {
			return err
		}
		if resp.SessionID == "" {
			return fmt.Errorf("agent returned empty session id")
		}
		a.sessionID = resp.SessionID
		return nil
	})
}

// ExecuteStep submits one automation step and waits for its uniform result.
func (a *AgentClient) ExecuteStep(ctx context.Context, step map[string]any) (*domain.StepResult, error) {
	if a.sessionID == "" {
		return nil, fmt.Errorf("no active browser session")
	}

	var result domain.StepResult
	path := fmt.Sprintf("/v1/session/%s/step", a.sessionID)
	if err := a.post(ctx, path, step, &result); err != nil {
		return nil, fmt.Errorf("execute step: %w", err)
	}
	return &result, nil
}

// Close releases the session. Safe to call when no session was launched.
func (a *AgentClient) Close(ctx context.Context) error {
	if a.sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		a.baseURL+"/v1/session/"+a.sessionID, nil)
	if err != nil {
		return fmt.Errorf("build close request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	defer resp.Body.Close()
	a.sessionID = ""
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("close session returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *AgentClient) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent %s returned status %d: %s", path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}
	return nil
}
