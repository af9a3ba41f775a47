// Package workspace manages the Sauti runtime directory structure.
// All runtime state (database, registry document, per-agent workspaces,
// logs) is consolidated under a single workspace root, making Sauti portable.
//
// Default workspace: ~/.sauti/workspace (configurable via config or
// SAUTI_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".sauti/workspace"

// Workspace manages all Sauti runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.sauti/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// AgentsDir returns <root>/agents/. Per-agent workspace directories.
func (w *Workspace) AgentsDir() string {
	return w.dir("agents")
}

// DataDir returns <root>/data/. Database files.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Derived paths ---

// RegistryPath returns <root>/agents.json, the shared gateway binding document.
func (w *Workspace) RegistryPath() string {
	return filepath.Join(w.Root, "agents.json")
}

// DatabasePath returns <root>/data/sauti.db, the default SQLite location.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "sauti.db")
}

// --- Agent-scoped paths ---

// AgentDir returns <root>/agents/<agentID>/, creating it if needed.
func (w *Workspace) AgentDir(agentID string) string {
	p := filepath.Join(w.AgentsDir(), sanitizeName(agentID))
	_ = w.ensureDir(p, 0750)
	return p
}

// AgentDirExists reports whether the agent's workspace directory is present
// without creating it. Resume uses this to reject agents whose workspace
// has been removed.
func (w *Workspace) AgentDirExists(agentID string) bool {
	p := filepath.Join(w.Root, "agents", sanitizeName(agentID))
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// EnsureAll creates all standard workspace directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.AgentsDir(),
		w.DataDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
