package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// command binds the CLI subcommands to a daemon API client.
type command struct{}

func (c *command) apiFor(url string, timeout time.Duration) (*APIClient, error) {
	apiClient := NewAPIClient(url, timeout)
	if !apiClient.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'codehydra daemon'", apiClient.baseURL)
	}
	return apiClient, nil
}

// Start asks the daemon to start (or reuse) a workspace server and prints
// its port.
func (c *command) Start(f StartFlags) error {
	path, err := absWorkspacePath(f.Path)
	if err != nil {
		return err
	}
	apiClient, err := c.apiFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	port, err := apiClient.StartWorkspace(path)
	if err != nil {
		return err
	}
	fmt.Printf("workspace %s serving on port %d\n", path, port)
	return nil
}

// Stop stops one workspace server, or every server under a project path
// when --project is set.
func (c *command) Stop(f StopFlags) error {
	path, err := absWorkspacePath(f.Path)
	if err != nil {
		return err
	}
	apiClient, err := c.apiFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if f.Project {
		return apiClient.StopProject(path)
	}
	return apiClient.StopWorkspace(path)
}

// Status prints the daemon's running workspace servers as JSON.
func (c *command) Status(f StatusFlags) error {
	apiClient, err := c.apiFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	list, err := apiClient.ListWorkspaces()
	if err != nil {
		return err
	}
	printJSON(list)
	return nil
}

// Cleanup asks the daemon to drop ports-file entries whose server no
// longer responds.
func (c *command) Cleanup(f CleanupFlags) error {
	apiClient, err := c.apiFor(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := apiClient.Cleanup(); err != nil {
		return err
	}
	fmt.Println("stale entries removed")
	return nil
}

func absWorkspacePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("workspace path is required")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", p, err)
	}
	return abs, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
