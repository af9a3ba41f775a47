package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(w.Root)
	if err != nil {
		t.Fatalf("root not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("root is not a directory")
	}
}

func TestAgentDir_SanitizesNames(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := w.AgentDir("../../etc/passwd")
	if filepath.Dir(filepath.Dir(dir)) != w.Root {
		t.Errorf("agent dir escaped the workspace: %s", dir)
	}
}

func TestAgentDirExists(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.AgentDirExists("a1") {
		t.Error("a1 should not exist yet")
	}
	_ = w.AgentDir("a1")
	if !w.AgentDirExists("a1") {
		t.Error("a1 should exist after AgentDir")
	}
}

func TestEnsureAll(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	for _, d := range []string{"agents", "data", "logs"} {
		if _, err := os.Stat(filepath.Join(w.Root, d)); err != nil {
			t.Errorf("missing directory %s: %v", d, err)
		}
	}
}
