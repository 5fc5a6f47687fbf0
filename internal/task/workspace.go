package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Workspace is a per-run scratch directory.
type Workspace struct {
	dir     string
	mu      sync.Mutex
	removed bool
}

// NewWorkspace creates a fresh directory under root, or under the system
// temp directory when root is empty.
func NewWorkspace(root string, taskID uuid.UUID) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "task-"+taskID.String()+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the location of name inside the workspace. Directory parts
// of name are dropped so callers cannot escape the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(filepath.Clean("/"+name)))
}

// WriteFile stores data under name.
func (w *Workspace) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(w.Path(name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// WriteJSON stores v as indented JSON under name.
func (w *Workspace) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return w.WriteFile(name, data)
}

// ReadFile returns the content stored under name.
func (w *Workspace) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(w.Path(name))
}

// Files lists the regular files in the workspace matching ext (".json"),
// or every file when ext is empty.
func (w *Workspace) Files(ext string) ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext == "" || strings.EqualFold(filepath.Ext(e.Name()), ext) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Sub creates a directory inside the workspace and returns it as a
// workspace of its own. It is removed together with its parent.
func (w *Workspace) Sub(name string) (*Workspace, error) {
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return &Workspace{dir: dir}, nil
}

// Remove deletes the workspace and everything in it. Repeated calls are
// no-ops.
func (w *Workspace) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return nil
	}
	w.removed = true
	return os.RemoveAll(w.dir)
}
