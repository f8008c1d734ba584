package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stefanhoelzl/codehydra-sub004/internal/history"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty DSN must error")
	}
}

func TestSendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()

	evt := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Workspace: "/repos/app/worktrees/fix1",
			Port:      4101,
			PID:       1234,
			Status:    "running",
			UpdatedAt: time.Now().UTC(),
		},
	}
	if err := sink.Send(context.Background(), evt); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var workspace, status string
	var port, pid int
	row := sink.db.QueryRowContext(context.Background(),
		`SELECT workspace, port, pid, status FROM workspace_history`)
	if err := row.Scan(&workspace, &port, &pid, &status); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if workspace != evt.Record.Workspace || port != 4101 || pid != 1234 || status != "running" {
		t.Fatalf("row mismatch: %s %d %d %s", workspace, port, pid, status)
	}
}

func TestSqliteURLPrefix(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("New with sqlite:// prefix: %v", err)
	}
	defer func() { _ = sink.Close() }()

	evt := history.Event{Type: history.EventStop, OccurredAt: time.Now()}
	if err := sink.Send(context.Background(), evt); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
