// Package sandbox manages long-lived per-user agent containers through the
// Docker CLI. Unlike an ephemeral execution sandbox, these containers host a
// persistent agent process and survive across requests; the engine's job is
// idempotent create/start/stop/inspect keyed by a deterministic per-user name.
package sandbox

import (
	"context"
	"errors"
)

// Status is the normalized tri-state of a sandbox.
// "not found" is a state, not an error: callers treat it as a cue to
// re-provision instead of crashing.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusNotFound Status = "not_found"
)

// ErrNotFound is returned by operations that require an existing sandbox
// (Start) when the container has disappeared underneath us.
var ErrNotFound = errors.New("sandbox not found")

// Sandbox describes a created or recovered per-user sandbox.
type Sandbox struct {
	ID    string // Engine-assigned container ID.
	Name  string // Deterministic per-user container name.
	Token string // Gateway bearer token recorded in the container environment.
}

// Engine is the contract for the container engine adapter.
type Engine interface {
	// Create ensures a sandbox exists and is running for the user.
	// Idempotent: an existing running sandbox is returned with its recorded
	// token; an existing stopped sandbox is started; only when absent is a
	// fresh container created with a newly generated token.
	Create(ctx context.Context, userID string) (*Sandbox, error)

	// Start starts a stopped sandbox.
	Start(ctx context.Context, id string) error

	// Stop stops a running sandbox. Already-stopped is success.
	Stop(ctx context.Context, id string) error

	// Delete removes a sandbox. Already-gone is success.
	Delete(ctx context.Context, id string) error

	// Status inspects a sandbox and returns its normalized tri-state.
	// A missing container yields StatusNotFound, never an error.
	Status(ctx context.Context, id string) (Status, error)

	// URLFor returns the base address of the agent process inside the
	// user's sandbox.
	URLFor(userID string) string
}
