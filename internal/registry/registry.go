// Package registry maintains the shared JSON document of agent bindings the
// routing gateway loads its configuration from. Every mutation rewrites the
// document atomically (temp file + rename) and schedules a debounced reload
// of the gateway, collapsing bursts of changes into a single restart.
//
// The registry serializes mutations within this process with a mutex.
// It provides no cross-process mutual exclusion: concurrent writers in
// separate processes can lose updates on read-modify-write. Atomic rename
// prevents partial reads, not lost updates — operators running multiple
// writers need an external serialization discipline (file lock or a
// single-writer queue).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrWrite wraps disk failures while persisting the registry document.
var ErrWrite = errors.New("registry write failed")

const defaultDebounce = 5 * time.Second

// Entry is one agent binding: the routing gateway maps the agent ID to its
// workspace, model, and delivery channel. Removing the entry pauses the
// agent's conversational routing without destroying its sandbox state.
type Entry struct {
	AgentID   string `json:"agent_id"`
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	Binding   string `json:"binding"`
}

// document is the on-disk shape of the shared registry file.
type document struct {
	Agents map[string]Entry `json:"agents"`
}

// ReloadFunc is invoked once per debounce window after the last mutation.
// Typically it signals or restarts the shared gateway process.
type ReloadFunc func()

// Registry mutates the shared binding document.
type Registry struct {
	path     string
	debounce time.Duration
	reload   ReloadFunc
	logger   *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer // single owned debounce timer, reset on each mutation
	reloadGen uint64      // bumped per schedule; invalidates timer callbacks that lost the Stop race
}

// Option configures the Registry.
type Option func(*Registry)

// WithDebounce overrides the reload debounce window.
func WithDebounce(d time.Duration) Option {
	return func(r *Registry) { r.debounce = d }
}

// New creates a Registry over the document at path. reload may be nil when
// no gateway reload is wired (tests, one-shot CLI commands).
func New(path string, reload ReloadFunc, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		path:     path,
		debounce: defaultDebounce,
		reload:   reload,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddAgent inserts or replaces the agent's binding and schedules a reload.
func (r *Registry) AddAgent(e Entry) error {
	if e.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	doc.Agents[e.AgentID] = e
	if err := r.persist(doc); err != nil {
		return err
	}

	r.logger.Info("agent binding added", slog.String("agent_id", e.AgentID), slog.String("model", e.Model))
	r.scheduleReloadLocked()
	return nil
}

// RemoveAgent deletes the agent's binding and schedules a reload.
// Removing an absent agent is a no-op (no reload scheduled).
func (r *Registry) RemoveAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Agents[agentID]; !ok {
		return nil
	}
	delete(doc.Agents, agentID)
	if err := r.persist(doc); err != nil {
		return err
	}

	r.logger.Info("agent binding removed", slog.String("agent_id", agentID))
	r.scheduleReloadLocked()
	return nil
}

// Exists reports whether the agent has a binding.
func (r *Registry) Exists(agentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return false, err
	}
	_, ok := doc.Agents[agentID]
	return ok, nil
}

// List returns all bindings sorted by agent ID.
func (r *Registry) List() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(doc.Agents))
	for _, e := range doc.Agents {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AgentID < entries[j].AgentID })
	return entries, nil
}

// Close stops any pending reload timer without firing it. The generation
// bump also silences a callback that already slipped past Stop.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.reloadGen++
}

// scheduleReloadLocked resets the single debounce timer. Only when no
// mutation arrives for the full window does the reload fire — once.
func (r *Registry) scheduleReloadLocked() {
	if r.reload == nil {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.reloadGen++
	gen := r.reloadGen
	r.timer = time.AfterFunc(r.debounce, func() { r.fireReload(gen) })
}

// fireReload runs the debounced reload unless a later mutation or Close
// superseded this timer. Stop cannot cancel a callback already executing
// concurrently with a reset; the generation check drops that stale callback
// so a burst straddling the exact expiry never reloads twice.
func (r *Registry) fireReload(gen uint64) {
	r.mu.Lock()
	stale := gen != r.reloadGen
	r.mu.Unlock()
	if stale {
		return
	}
	r.logger.Info("gateway reload triggered", slog.String("registry", r.path))
	r.reload()
}

// load reads the document, returning an empty one when the file does not
// exist yet.
func (r *Registry) load() (*document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Agents: make(map[string]Entry)}, nil
		}
		return nil, fmt.Errorf("reading registry %s: %w", r.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", r.path, err)
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]Entry)
	}
	return &doc, nil
}

// persist writes to a temp file in the same directory and atomically renames
// it over the canonical path, so the live gateway never observes a
// half-written document.
func (r *Registry) persist(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrWrite, err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing temp file: %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp file: %v", ErrWrite, err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: setting permissions: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing %s: %v", ErrWrite, r.path, err)
	}
	return nil
}
