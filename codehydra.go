// Package codehydra is a thin public facade over the workspace process
// supervisor, for embedding in other programs.
package codehydra

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/stefanhoelzl/codehydra-sub004/internal/config"
	"github.com/stefanhoelzl/codehydra-sub004/internal/history"
	"github.com/stefanhoelzl/codehydra-sub004/internal/history/factory"
	"github.com/stefanhoelzl/codehydra-sub004/internal/metrics"
	iapi "github.com/stefanhoelzl/codehydra-sub004/internal/server"
	"github.com/stefanhoelzl/codehydra-sub004/internal/workspace"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = workspace.Config

type McpConfig = workspace.McpConfig

type FileConfig = cfg.FileConfig

type HistorySink = history.Sink

// Manager supervises one agent server per workspace path.
type Manager struct{ inner *workspace.Manager }

func New(c Config) *Manager { return &Manager{inner: workspace.New(c)} }

func (m *Manager) StartServer(ctx context.Context, path string) (int, error) {
	return m.inner.StartServer(ctx, path)
}
func (m *Manager) StopServer(ctx context.Context, path string) error {
	return m.inner.StopServer(ctx, path)
}
func (m *Manager) StopAllForProject(ctx context.Context, project string) error {
	return m.inner.StopAllForProject(ctx, project)
}
func (m *Manager) GetPort(path string) (int, bool)    { return m.inner.GetPort(path) }
func (m *Manager) Workspaces() map[string]int         { return m.inner.Workspaces() }
func (m *Manager) CleanupStaleEntries(ctx context.Context) error {
	return m.inner.CleanupStaleEntries(ctx)
}
func (m *Manager) SetMcpConfig(c McpConfig)           { m.inner.SetMcpConfig(c) }
func (m *Manager) GetMcpConfig() (McpConfig, bool)    { return m.inner.GetMcpConfig() }
func (m *Manager) SetHistorySinks(s ...HistorySink)   { m.inner.SetHistorySinks(s...) }
func (m *Manager) Dispose(ctx context.Context)        { m.inner.Dispose(ctx) }

func (m *Manager) OnServerStarted(fn func(path string, port int)) func() {
	return m.inner.OnServerStarted(fn)
}
func (m *Manager) OnServerStopped(fn func(path string)) func() {
	return m.inner.OnServerStopped(fn)
}

// LoadConfig parses a TOML daemon configuration file.
func LoadConfig(path string) (FileConfig, error) { return cfg.Load(path) }

// NewHistorySink creates a session-history sink from a DSN
// (sqlite path, postgres:// or clickhouse:// URL).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the supervisor API using the given manager.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner)
}

// NewRouterHandler returns the supervisor API as an http.Handler for
// mounting into an existing server or framework.
func NewRouterHandler(basePath string, m *Manager) http.Handler {
	return iapi.NewRouter(m.inner, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves Prometheus metrics on addr at /metrics. Blocks.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
