package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFakeDaemon(t *testing.T) (*httptest.Server, *APIClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/workspaces/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad path"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"path": req.Path, "port": 4101})
	})
	mux.HandleFunc("/workspaces/stop", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/workspaces", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]WorkspaceInfo{{Path: "/ws/a", Port: 4100}})
	})
	mux.HandleFunc("/workspaces/cleanup", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "cleanup broke"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewAPIClient(srv.URL, 5*time.Second)
}

func TestClientIsReachable(t *testing.T) {
	_, c := newFakeDaemon(t)
	if !c.IsReachable() {
		t.Fatal("daemon should be reachable")
	}
	dead := NewAPIClient("http://127.0.0.1:1", time.Second)
	if dead.IsReachable() {
		t.Fatal("closed port must not be reachable")
	}
}

func TestClientStartWorkspace(t *testing.T) {
	_, c := newFakeDaemon(t)
	port, err := c.StartWorkspace("/ws/a")
	if err != nil {
		t.Fatalf("StartWorkspace: %v", err)
	}
	if port != 4101 {
		t.Fatalf("port = %d, want 4101", port)
	}
}

func TestClientListWorkspaces(t *testing.T) {
	_, c := newFakeDaemon(t)
	list, err := c.ListWorkspaces()
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(list) != 1 || list[0].Path != "/ws/a" || list[0].Port != 4100 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	_, c := newFakeDaemon(t)
	err := c.Cleanup()
	if err == nil || !strings.Contains(err.Error(), "cleanup broke") {
		t.Fatalf("want API error text, got %v", err)
	}
}

func TestClientDefaults(t *testing.T) {
	c := NewAPIClient("", 0)
	if c.baseURL != "http://127.0.0.1:8700" {
		t.Fatalf("default base URL: %q", c.baseURL)
	}
	if c.client.Timeout == 0 {
		t.Fatal("default timeout not applied")
	}
}
