package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIClient talks to a running codehydra daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8700"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

type pathBody struct {
	Path string `json:"path"`
}

// StartWorkspace starts (or reuses) the agent server for a workspace and
// returns its port.
func (c *APIClient) StartWorkspace(path string) (int, error) {
	var out struct {
		Port int `json:"port"`
	}
	if err := c.post("/workspaces/start", pathBody{Path: path}, &out); err != nil {
		return 0, err
	}
	return out.Port, nil
}

// StopWorkspace stops the agent server for a single workspace.
func (c *APIClient) StopWorkspace(path string) error {
	return c.post("/workspaces/stop", pathBody{Path: path}, nil)
}

// StopProject stops every workspace server under a project path.
func (c *APIClient) StopProject(path string) error {
	return c.post("/workspaces/stop-project", pathBody{Path: path}, nil)
}

// ListWorkspaces returns the running workspace servers.
func (c *APIClient) ListWorkspaces() ([]WorkspaceInfo, error) {
	resp, err := c.client.Get(c.baseURL + "/workspaces")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var out []WorkspaceInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cleanup asks the daemon to reconcile its ports file against reality.
func (c *APIClient) Cleanup() error {
	return c.post("/workspaces/cleanup", nil, nil)
}

// WorkspaceInfo mirrors the daemon's list response.
type WorkspaceInfo struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

func (c *APIClient) post(path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := c.client.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
