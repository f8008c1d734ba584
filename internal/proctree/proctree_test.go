package proctree

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func TestDescendantsOfUnknownPidIsEmpty(t *testing.T) {
	if got := Descendants(999999); len(got) != 0 {
		t.Fatalf("unknown pid must yield no descendants, got %v", got)
	}
}

func TestDescendantsFindsChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test requires sh/sleep on Unix-like systems")
	}
	cmd := exec.Command("sh", "-c", "sleep 5 & sleep 5 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	// The shell needs a moment to fork its children.
	var got []int
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got = Descendants(cmd.Process.Pid)
		if len(got) >= 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(got) < 2 {
		t.Fatalf("expected at least 2 descendants, got %v", got)
	}
	for _, pid := range got {
		if pid == os.Getpid() {
			t.Fatalf("walk escaped the subtree: %v", got)
		}
	}
}
