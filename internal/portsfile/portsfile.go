// Package portsfile persists the workspace→port mapping under the data
// root. The file is a cache of the in-memory table, never a source of
// truth: it is rebuilt wholesale on every mutation and reconciled against
// reality at startup.
package portsfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Name of the file under the data root.
const Name = "workspace-ports.json"

// Entry records one workspace's assigned port.
type Entry struct {
	Port int `json:"port"`
}

// File is the persisted document.
type File struct {
	Workspaces map[string]Entry `json:"workspaces"`
}

// Load reads the ports file at path. A missing file yields an empty
// document, not an error.
func Load(path string) (File, error) {
	f := File{Workspaces: make(map[string]Entry)}
	data, err := os.ReadFile(path) // #nosec G304 -- path is rooted in the app data dir
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("read ports file: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return File{Workspaces: make(map[string]Entry)}, fmt.Errorf("parse ports file: %w", err)
	}
	if f.Workspaces == nil {
		f.Workspaces = make(map[string]Entry)
	}
	return f, nil
}

// Save writes the document to a temp file beside path and renames it over
// the target. The rename is the only operation assumed atomic at the
// filesystem boundary; a partial write is never observable under path.
func Save(path string, f File) error {
	if f.Workspaces == nil {
		f.Workspaces = make(map[string]Entry)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ports file: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, Name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ports file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp ports file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp ports file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename ports file: %w", err)
	}
	return nil
}
