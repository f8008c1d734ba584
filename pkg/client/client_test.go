package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFakeDaemon(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/workspaces/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(StartResponse{Path: req.Path, Port: 4200})
	})
	mux.HandleFunc("/workspaces/stop", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/workspaces/stop-project", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "no such project"})
	})
	mux.HandleFunc("/workspaces", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]Workspace{{Path: "/ws/a", Port: 4100}, {Path: "/ws/b", Port: 4101}})
	})
	mux.HandleFunc("/workspaces/cleanup", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestIsReachable(t *testing.T) {
	c := newFakeDaemon(t)
	if !c.IsReachable(context.Background()) {
		t.Fatal("daemon should be reachable")
	}
	if New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}).IsReachable(context.Background()) {
		t.Fatal("closed port must not be reachable")
	}
}

func TestStartWorkspace(t *testing.T) {
	c := newFakeDaemon(t)
	port, err := c.StartWorkspace(context.Background(), "/ws/new")
	if err != nil {
		t.Fatalf("StartWorkspace: %v", err)
	}
	if port != 4200 {
		t.Fatalf("port = %d, want 4200", port)
	}
}

func TestStopWorkspace(t *testing.T) {
	c := newFakeDaemon(t)
	if err := c.StopWorkspace(context.Background(), "/ws/a"); err != nil {
		t.Fatalf("StopWorkspace: %v", err)
	}
}

func TestStopProjectSurfacesError(t *testing.T) {
	c := newFakeDaemon(t)
	err := c.StopProject(context.Background(), "/nope")
	if err == nil || !strings.Contains(err.Error(), "no such project") {
		t.Fatalf("want API error, got %v", err)
	}
}

func TestListWorkspaces(t *testing.T) {
	c := newFakeDaemon(t)
	list, err := c.ListWorkspaces(context.Background())
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(list) != 2 || list[1].Port != 4101 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestCleanup(t *testing.T) {
	c := newFakeDaemon(t)
	if err := c.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	c := newFakeDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.StartWorkspace(ctx, "/ws/a"); err == nil {
		t.Fatal("cancelled context must error")
	}
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	if c.baseURL == "" || c.client.Timeout == 0 || c.logger == nil {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
