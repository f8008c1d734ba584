// Package proc owns one spawned OS process end to end: spawn, bounded
// idempotent wait, and descendant-aware kill with signal escalation.
package proc

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/stefanhoelzl/codehydra-sub004/internal/proctree"
)

// Signal escalation reasons reported in KillResult.
const (
	ReasonTerm = "SIGTERM"
	ReasonKill = "SIGKILL"
)

// KillResult describes how (or whether) termination was confirmed within
// the caller's timeouts.
type KillResult struct {
	Success bool
	Reason  string
}

// Result is the terminal (or in-flight) outcome of a process.
// ExitCode is nil for signal-terminated exits and for spawn failures; a
// spawn failure additionally carries the failure text in Stderr and an
// empty Signal. Running=true means the wait deadline elapsed before exit.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode *int
	Signal   string
	Running  bool
}

// RunOptions configure a spawn.
type RunOptions struct {
	Dir string
	Env []string
	// Optional writers that receive a copy of the child's output in
	// addition to the in-memory capture (rotating log files, typically).
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Runner spawns processes. The single implementation execs the binary
// directly; tests and embedders may substitute their own.
type Runner interface {
	Run(command string, args []string, opts RunOptions) *Handle
}

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct{}

func (ExecRunner) Run(command string, args []string, opts RunOptions) *Handle {
	return Run(command, args, opts)
}

// Handle wraps one spawned OS process. It is owned exclusively by whichever
// component spawned it and is never shared across workspaces.
type Handle struct {
	mu       sync.Mutex
	pid      int
	cmd      *exec.Cmd
	stdout   lockedBuffer
	stderr   lockedBuffer
	waitDone chan struct{} // closed once the terminal result is cached
	result   *Result
	closers  []io.Closer
}

// Run spawns command with args. It always returns a handle; when the spawn
// itself fails (binary missing, permission denied) the handle has PID 0 and
// its Wait result carries the failure text in Stderr.
func Run(command string, args []string, opts RunOptions) *Handle {
	h := &Handle{waitDone: make(chan struct{})}

	// #nosec G204 -- the supervisor exists to run the configured agent binary
	cmd := exec.Command(command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd)

	cmd.Stdout = h.stdoutWriter(opts.Stdout)
	cmd.Stderr = h.stderrWriter(opts.Stderr)

	if err := cmd.Start(); err != nil {
		h.result = &Result{Stderr: err.Error()}
		h.closeWriters()
		close(h.waitDone)
		return h
	}

	h.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.mu.Unlock()

	go h.monitor(cmd)
	return h
}

func (h *Handle) stdoutWriter(extra io.WriteCloser) io.Writer {
	if extra == nil {
		return &h.stdout
	}
	h.closers = append(h.closers, extra)
	return io.MultiWriter(&h.stdout, extra)
}

func (h *Handle) stderrWriter(extra io.WriteCloser) io.Writer {
	if extra == nil {
		return &h.stderr
	}
	h.closers = append(h.closers, extra)
	return io.MultiWriter(&h.stderr, extra)
}

func (h *Handle) closeWriters() {
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.closers = nil
}

// monitor reaps the child exactly once and caches the terminal result.
func (h *Handle) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()

	res := Result{
		Stdout: h.stdout.String(),
		Stderr: h.stderr.String(),
	}
	switch {
	case err == nil:
		zero := 0
		res.ExitCode = &zero
	default:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				res.Signal = ws.Signal().String()
			} else {
				code := ee.ExitCode()
				res.ExitCode = &code
			}
		} else {
			// Wait itself failed; surface the text like a spawn failure.
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}

	h.mu.Lock()
	h.result = &res
	h.mu.Unlock()
	h.closeWriters()
	close(h.waitDone)
}

// PID returns the OS process id, or 0 when the underlying spawn call
// failed. Callers must check this before assuming a process exists.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Wait resolves when the process has exited or timeout elapses, whichever
// comes first. A timeout of zero or less waits indefinitely. Once the
// process has exited the result is cached and every subsequent call
// returns the identical value instantly; an elapsed deadline returns
// Running=true without mutating any terminal state.
func (h *Handle) Wait(timeout time.Duration) Result {
	if timeout > 0 {
		select {
		case <-h.waitDone:
		case <-time.After(timeout):
			return Result{
				Stdout:  h.stdout.String(),
				Stderr:  h.stderr.String(),
				Running: true,
			}
		}
	} else {
		<-h.waitDone
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.result
}

// Kill terminates the process and its descendants with signal escalation.
// The descendant snapshot is taken before any signal is sent: once the
// parent dies, the parent-child relation needed to find descendants may no
// longer be queryable. Zero timeouts mean "signal only, don't wait";
// callers that need certainty must supply non-zero timeouts.
func (h *Handle) Kill(termTimeout, killTimeout time.Duration) KillResult {
	pid := h.PID()
	if pid == 0 {
		return KillResult{Success: true}
	}

	descendants := proctree.Descendants(pid)

	h.signalAll(pid, descendants, syscall.SIGTERM)
	if termTimeout > 0 && h.exitedWithin(termTimeout) {
		return KillResult{Success: true, Reason: ReasonTerm}
	}

	h.signalAll(pid, descendants, syscall.SIGKILL)
	if killTimeout > 0 && h.exitedWithin(killTimeout) {
		return KillResult{Success: true, Reason: ReasonKill}
	}

	return KillResult{Success: false}
}

// signalAll delivers sig to the process and every snapshotted descendant,
// swallowing "already gone" errors per target.
func (h *Handle) signalAll(pid int, descendants []int, sig syscall.Signal) {
	_ = killProcess(pid, sig)
	for _, d := range descendants {
		_ = killProcess(d, sig)
	}
}

func (h *Handle) exitedWithin(d time.Duration) bool {
	select {
	case <-h.waitDone:
		return true
	case <-time.After(d):
		return false
	}
}

// lockedBuffer guards concurrent writes from the child's pipe pumps against
// snapshot reads from Wait.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
