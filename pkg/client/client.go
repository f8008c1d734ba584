// Package client is a Go client for the codehydra daemon HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to a codehydra daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // optional
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8700",
		Timeout: 60 * time.Second,
	}
}

// New creates a daemon API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8700"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// StartWorkspace starts the agent server for a workspace, or returns the
// port of the already running one. Blocks until the server is healthy.
func (c *Client) StartWorkspace(ctx context.Context, path string) (int, error) {
	c.logger.Debug("starting workspace server", "workspace", path)
	var out StartResponse
	if err := c.postJSON(ctx, "/workspaces/start", map[string]string{"path": path}, &out); err != nil {
		return 0, err
	}
	return out.Port, nil
}

// StopWorkspace stops a single workspace server.
func (c *Client) StopWorkspace(ctx context.Context, path string) error {
	c.logger.Debug("stopping workspace server", "workspace", path)
	return c.postJSON(ctx, "/workspaces/stop", map[string]string{"path": path}, nil)
}

// StopProject stops every workspace server under a project path.
func (c *Client) StopProject(ctx context.Context, path string) error {
	c.logger.Debug("stopping project servers", "project", path)
	return c.postJSON(ctx, "/workspaces/stop-project", map[string]string{"path": path}, nil)
}

// ListWorkspaces returns the running workspace servers.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/workspaces", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out []Workspace
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cleanup asks the daemon to drop ports-file entries whose server no
// longer answers its health check.
func (c *Client) Cleanup(ctx context.Context) error {
	return c.postJSON(ctx, "/workspaces/cleanup", nil, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", er.Error)
}
