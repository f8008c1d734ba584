// Package workspace owns the table of workspace→running-server state: one
// healthy agent server per git worktree, with safe concurrent start/stop,
// health-check gating, persisted port assignments, and start/stop event
// subscriptions.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stefanhoelzl/codehydra-sub004/internal/env"
	"github.com/stefanhoelzl/codehydra-sub004/internal/history"
	"github.com/stefanhoelzl/codehydra-sub004/internal/logger"
	"github.com/stefanhoelzl/codehydra-sub004/internal/metrics"
	"github.com/stefanhoelzl/codehydra-sub004/internal/netport"
	"github.com/stefanhoelzl/codehydra-sub004/internal/portsfile"
	"github.com/stefanhoelzl/codehydra-sub004/internal/proc"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultHealthInterval  = 100 * time.Millisecond
	DefaultHealthTimeout   = 30 * time.Second
	DefaultStopTermTimeout = 2 * time.Second
	DefaultStopKillTimeout = 2 * time.Second

	// Timeouts used when killing a process that failed its health check.
	healthFailTermTimeout = 5 * time.Second
	healthFailKillTimeout = 5 * time.Second
)

// Environment variables injected into agent spawns when an MCP config has
// been set.
const (
	EnvMcpConfig    = "CODEHYDRA_MCP_CONFIG"
	EnvMcpWorkspace = "CODEHYDRA_WORKSPACE"
	EnvMcpPort      = "CODEHYDRA_MCP_PORT"
)

// Config configures a Manager.
type Config struct {
	AgentBinary     string            `json:"agent_binary" mapstructure:"agent_binary"`
	AgentEnv        []string          `json:"agent_env" mapstructure:"agent_env"`
	DataDir         string            `json:"data_dir" mapstructure:"data_dir"`
	HealthInterval  time.Duration     `json:"health_interval" mapstructure:"health_interval"`
	HealthTimeout   time.Duration     `json:"health_timeout" mapstructure:"health_timeout"`
	StopTermTimeout time.Duration     `json:"stop_term_timeout" mapstructure:"stop_term_timeout"`
	StopKillTimeout time.Duration     `json:"stop_kill_timeout" mapstructure:"stop_kill_timeout"`
	AgentLog        logger.FileConfig `json:"agent_log" mapstructure:"agent_log"`
}

// McpConfig is consulted on every spawn once set; it has no effect on
// servers already running.
type McpConfig struct {
	ConfigPath string `json:"config_path"`
	Port       int    `json:"port"`
}

// startOp is the stored pending-computation for an in-flight start.
// Concurrent requests for the same workspace attach to the same op instead
// of spawning a second process. Port and Err are written before done is
// closed and never after.
type startOp struct {
	done chan struct{}
	port int
	err  error
}

type serverEntry struct {
	port   int
	handle *proc.Handle
	start  *startOp // non-nil while the start is in flight
}

type startedCallback struct {
	id int
	fn func(path string, port int)
}

type stoppedCallback struct {
	id int
	fn func(path string)
}

// Manager supervises one agent server per workspace path.
type Manager struct {
	mu        sync.Mutex
	persistMu sync.Mutex // serializes ports file writes, taken before mu

	cfg     Config
	runner  proc.Runner
	client  *http.Client
	env     *env.Env
	entries map[string]*serverEntry

	mcp *McpConfig

	nextCbID  int
	onStarted []startedCallback
	onStopped []stoppedCallback

	sinks   []history.Sink
	sampler *metrics.Sampler
}

// New creates a Manager. Zero Config durations get defaults.
func New(cfg Config) *Manager {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.StopTermTimeout <= 0 {
		cfg.StopTermTimeout = DefaultStopTermTimeout
	}
	if cfg.StopKillTimeout <= 0 {
		cfg.StopKillTimeout = DefaultStopKillTimeout
	}
	spawnEnv := env.New()
	for _, kv := range cfg.AgentEnv {
		if i := strings.IndexByte(kv, '='); i > 0 {
			spawnEnv.Set(kv[:i], kv[i+1:])
		}
	}
	return &Manager{
		cfg:     cfg,
		runner:  proc.ExecRunner{},
		client:  &http.Client{Timeout: 2 * time.Second},
		env:     spawnEnv,
		entries: make(map[string]*serverEntry),
	}
}

// SetRunner substitutes the process runner. Intended for embedders.
func (m *Manager) SetRunner(r proc.Runner) {
	m.mu.Lock()
	m.runner = r
	m.mu.Unlock()
}

// SetHistorySinks configures session-history sinks (SQLite, PostgreSQL,
// ClickHouse). Passing no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// SetSampler attaches a process-metrics sampler that tracks the CPU/memory
// of running agent servers.
func (m *Manager) SetSampler(s *metrics.Sampler) {
	m.mu.Lock()
	m.sampler = s
	m.mu.Unlock()
}

// SetMcpConfig stores the MCP configuration consulted by every subsequent
// spawn. Last write wins.
func (m *Manager) SetMcpConfig(c McpConfig) {
	m.mu.Lock()
	m.mcp = &c
	m.mu.Unlock()
}

// GetMcpConfig returns the current MCP configuration, if set.
func (m *Manager) GetMcpConfig() (McpConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mcp == nil {
		return McpConfig{}, false
	}
	return *m.mcp, true
}

// OnServerStarted registers fn for successful starts. Delivery is
// synchronous, in registration order, after the ports file has been
// persisted. The returned function unsubscribes; calling it twice is fine.
func (m *Manager) OnServerStarted(fn func(path string, port int)) func() {
	m.mu.Lock()
	m.nextCbID++
	id := m.nextCbID
	m.onStarted = append(m.onStarted, startedCallback{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cb := range m.onStarted {
			if cb.id == id {
				m.onStarted = append(m.onStarted[:i], m.onStarted[i+1:]...)
				return
			}
		}
	}
}

// OnServerStopped registers fn for stops. Delivery happens strictly after
// the kill attempt has resolved.
func (m *Manager) OnServerStopped(fn func(path string)) func() {
	m.mu.Lock()
	m.nextCbID++
	id := m.nextCbID
	m.onStopped = append(m.onStopped, stoppedCallback{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cb := range m.onStopped {
			if cb.id == id {
				m.onStopped = append(m.onStopped[:i], m.onStopped[i+1:]...)
				return
			}
		}
	}
}

// GetPort returns the port of a fully running workspace server.
func (m *Manager) GetPort(workspacePath string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[workspacePath]
	if !ok || e.start != nil {
		return 0, false
	}
	return e.port, true
}

// Workspaces returns the paths and ports of all fully running servers.
func (m *Manager) Workspaces() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.entries))
	for path, e := range m.entries {
		if e.start == nil {
			out[path] = e.port
		}
	}
	return out
}

// PortsFilePath returns the location of the persisted ports file.
func (m *Manager) PortsFilePath() string {
	return filepath.Join(m.cfg.DataDir, portsfile.Name)
}

// StartServer starts (or returns) the agent server for workspacePath.
// It is idempotent: a running workspace returns its port immediately, and
// concurrent calls for the same path attach to the single in-flight start,
// observing exactly one spawn and one health check.
func (m *Manager) StartServer(ctx context.Context, workspacePath string) (int, error) {
	m.mu.Lock()
	if e, ok := m.entries[workspacePath]; ok {
		if e.start == nil {
			port := e.port
			m.mu.Unlock()
			return port, nil
		}
		op := e.start
		m.mu.Unlock()
		select {
		case <-op.done:
			return op.port, op.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	op := &startOp{done: make(chan struct{})}
	m.entries[workspacePath] = &serverEntry{start: op}
	m.mu.Unlock()

	port, handle, err := m.doStart(ctx, workspacePath)
	if err != nil {
		// Remove the placeholder before settling so a later retry is not
		// blocked by stale state.
		m.mu.Lock()
		delete(m.entries, workspacePath)
		m.mu.Unlock()
		op.err = err
		close(op.done)
		return 0, err
	}

	m.mu.Lock()
	e := m.entries[workspacePath]
	e.port = port
	e.handle = handle
	e.start = nil
	running := m.runningLocked()
	sampler := m.sampler
	m.mu.Unlock()

	m.persist()
	metrics.IncServerStart(workspacePath)
	metrics.SetRunningServers(running)
	if sampler != nil {
		sampler.Track(workspacePath, handle.PID())
	}
	m.sendHistory(history.EventStart, workspacePath, port, handle.PID(), "running")
	m.notifyStarted(workspacePath, port)

	op.port = port
	close(op.done)
	return port, nil
}

// doStart allocates a port, spawns the agent, and gates on its health
// endpoint. It returns without touching the entry table; the caller
// finalizes or removes the placeholder.
func (m *Manager) doStart(ctx context.Context, workspacePath string) (int, *proc.Handle, error) {
	port, err := netport.FindFreePort()
	if err != nil {
		metrics.IncStartFailure(workspacePath, metrics.StageAllocate)
		return 0, nil, fmt.Errorf("allocate port for %s: %w", workspacePath, err)
	}

	m.mu.Lock()
	runner := m.runner
	mcp := m.mcp
	agentLog := m.cfg.AgentLog
	binary := m.cfg.AgentBinary
	m.mu.Unlock()

	var perSpawn []string
	if mcp != nil {
		perSpawn = []string{
			EnvMcpConfig + "=" + mcp.ConfigPath,
			EnvMcpWorkspace + "=" + workspacePath,
			EnvMcpPort + "=" + strconv.Itoa(mcp.Port),
		}
	}

	opts := proc.RunOptions{Dir: workspacePath, Env: m.env.Compose(perSpawn)}
	if agentLog.Dir != "" {
		_ = os.MkdirAll(agentLog.Dir, 0o750)
		opts.Stdout, opts.Stderr, _ = agentLog.Writers(logName(workspacePath))
	}

	slog.Debug("spawning agent server", "workspace", workspacePath, "port", port)
	handle := runner.Run(binary, []string{"serve", "--port", strconv.Itoa(port)}, opts)

	if handle.PID() == 0 {
		res := handle.Wait(time.Second)
		metrics.IncStartFailure(workspacePath, metrics.StageSpawn)
		return 0, nil, fmt.Errorf("spawn agent server for %s: %s", workspacePath, res.Stderr)
	}

	started := time.Now()
	if err := m.awaitHealthy(ctx, port); err != nil {
		kr := handle.Kill(healthFailTermTimeout, healthFailKillTimeout)
		if !kr.Success {
			slog.Warn("failed to kill unhealthy agent server",
				"workspace", workspacePath, "pid", handle.PID())
		}
		metrics.IncStartFailure(workspacePath, metrics.StageHealth)
		return 0, nil, fmt.Errorf("agent server for %s: %w", workspacePath, err)
	}
	metrics.ObserveHealthCheckDuration(workspacePath, time.Since(started).Seconds())

	slog.Info("agent server ready", "workspace", workspacePath, "port", port, "pid", handle.PID())
	return port, handle, nil
}

// awaitHealthy polls the health endpoint until it answers with a 2xx
// status or the overall timeout elapses. Connection refused and request
// timeouts both just mean "not ready yet".
func (m *Manager) awaitHealthy(ctx context.Context, port int) error {
	deadline := time.Now().Add(m.cfg.HealthTimeout)
	for {
		if m.probe(ctx, port) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("health check timed out after %s", m.cfg.HealthTimeout)
		}
		select {
		case <-time.After(m.cfg.HealthInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) probe(ctx context.Context, port int) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/app", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// StopServer stops the workspace's agent server. It is a no-op when no
// entry exists. A stop issued while a start is in flight waits for that
// start to settle first, so it never races a spawn that hasn't happened
// yet. Kill failures are logged, never returned: the bookkeeping must not
// get stuck on an unresponsive child.
func (m *Manager) StopServer(ctx context.Context, workspacePath string) error {
	m.mu.Lock()
	e, ok := m.entries[workspacePath]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if e.start != nil {
		op := e.start
		m.mu.Unlock()
		select {
		case <-op.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		cur, ok := m.entries[workspacePath]
		if !ok || cur != e {
			// The start failed and cleaned up after itself, or another
			// stop already removed the entry. If the slot holds a
			// different entry it belongs to a newer start and is not
			// this stop's to tear down.
			m.mu.Unlock()
			return nil
		}
	}
	handle := e.handle
	port := e.port
	m.mu.Unlock()

	pid := 0
	if handle != nil {
		pid = handle.PID()
	}
	if pid != 0 {
		kr := handle.Kill(m.cfg.StopTermTimeout, m.cfg.StopKillTimeout)
		if !kr.Success {
			slog.Warn("failed to kill agent server", "workspace", workspacePath, "pid", pid)
		} else {
			slog.Debug("agent server stopped", "workspace", workspacePath, "reason", kr.Reason)
		}
	}

	m.mu.Lock()
	cur, ok := m.entries[workspacePath]
	notify := ok && cur == e
	if notify {
		delete(m.entries, workspacePath)
	}
	running := m.runningLocked()
	sampler := m.sampler
	m.mu.Unlock()

	if !notify {
		// A concurrent stop already removed the entry and notified.
		return nil
	}

	m.persist()
	metrics.IncServerStop(workspacePath)
	metrics.SetRunningServers(running)
	if sampler != nil {
		sampler.Untrack(workspacePath)
	}
	m.sendHistory(history.EventStop, workspacePath, port, pid, "stopped")
	m.notifyStopped(workspacePath)
	return nil
}

// StopAllForProject stops, concurrently, every tracked workspace whose
// path lies under projectPath. Individual failures do not abort the
// others; the first one is returned.
func (m *Manager) StopAllForProject(ctx context.Context, projectPath string) error {
	m.mu.Lock()
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		if underProject(path, projectPath) {
			paths = append(paths, path)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(paths))
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			errs[i] = m.StopServer(ctx, path)
		}(i, path)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Dispose stops every tracked workspace concurrently and clears the
// callback registries. Safe to call with nothing running.
func (m *Manager) Dispose(ctx context.Context) {
	m.mu.Lock()
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if err := m.StopServer(ctx, path); err != nil {
				slog.Warn("stop during dispose failed", "workspace", path, "error", err)
			}
		}(path)
	}
	wg.Wait()

	m.mu.Lock()
	m.onStarted = nil
	m.onStopped = nil
	m.mu.Unlock()
}

// CleanupStaleEntries reads the persisted ports file, which may reflect a
// previous crashed run, probes each recorded port, and rewrites the file
// keeping only entries that still answer. Run once at application startup
// before any workspace is opened.
func (m *Manager) CleanupStaleEntries(ctx context.Context) error {
	path := m.PortsFilePath()
	f, err := portsfile.Load(path)
	if err != nil {
		return err
	}
	kept := portsfile.File{Workspaces: make(map[string]portsfile.Entry)}
	for ws, entry := range f.Workspaces {
		if m.probe(ctx, entry.Port) {
			kept.Workspaces[ws] = entry
			continue
		}
		slog.Info("dropping stale ports file entry", "workspace", ws, "port", entry.Port)
	}
	return portsfile.Save(path, kept)
}

// persist rebuilds the ports file wholesale from the in-memory table.
// persistMu keeps snapshot and write atomic with respect to each other,
// so a newer snapshot can never be overwritten by an older one.
func (m *Manager) persist() {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.mu.Lock()
	f := portsfile.File{Workspaces: make(map[string]portsfile.Entry, len(m.entries))}
	for path, e := range m.entries {
		if e.start == nil {
			f.Workspaces[path] = portsfile.Entry{Port: e.port}
		}
	}
	m.mu.Unlock()
	if err := portsfile.Save(m.PortsFilePath(), f); err != nil {
		// The file is a cache; reconciliation at next startup repairs it.
		slog.Warn("persist ports file failed", "error", err)
	}
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, e := range m.entries {
		if e.start == nil {
			n++
		}
	}
	return n
}

func (m *Manager) notifyStarted(path string, port int) {
	m.mu.Lock()
	cbs := append([]startedCallback(nil), m.onStarted...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb.fn(path, port)
	}
}

func (m *Manager) notifyStopped(path string) {
	m.mu.Lock()
	cbs := append([]stoppedCallback(nil), m.onStopped...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb.fn(path)
	}
}

func (m *Manager) sendHistory(t history.EventType, path string, port, pid int, status string) {
	m.mu.Lock()
	sinks := append([]history.Sink(nil), m.sinks...)
	m.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	now := time.Now().UTC()
	evt := history.Event{
		Type:       t,
		OccurredAt: now,
		Record: history.Record{
			Workspace: path,
			Port:      port,
			PID:       pid,
			Status:    status,
			UpdatedAt: now,
		},
	}
	for _, s := range sinks {
		if err := s.Send(context.Background(), evt); err != nil {
			slog.Warn("history sink send failed", "error", err)
		}
	}
}

// underProject reports whether workspace path lies under projectPath.
func underProject(path, project string) bool {
	if path == project {
		return true
	}
	project = strings.TrimRight(project, string(os.PathSeparator))
	return strings.HasPrefix(path, project+string(os.PathSeparator))
}

// logName derives a log file base name from a workspace path.
func logName(workspacePath string) string {
	name := filepath.Base(filepath.Clean(workspacePath))
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, name)
}
