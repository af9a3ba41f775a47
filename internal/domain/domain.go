// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of a user's agent sandbox.
type AgentStatus string

const (
	StatusPending      AgentStatus = "pending"
	StatusProvisioning AgentStatus = "provisioning"
	StatusRunning      AgentStatus = "running"
	StatusSleeping     AgentStatus = "sleeping"
	StatusError        AgentStatus = "error"
	StatusNotFound     AgentStatus = "not_found"
)

// AgentInstance is the persistent record of one user's sandbox.
// One sandbox per user. The gateway token is generated once at first
// provisioning and remains stable across restarts. Deletion is an
// explicit external operation — the record is never silently destroyed.
type AgentInstance struct {
	UserID       string
	SandboxID    string // Engine-assigned container ID.
	GatewayToken string // Opaque bearer credential for the routing gateway.
	Status       AgentStatus
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tier is a user's subscription tier, used by the reaper policy.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// ReapCandidate is a read-only projection of an agent eligible for
// inactivity reaping. Sourced from storage; the reaper only consumes it.
type ReapCandidate struct {
	AgentID      string
	UserID       string
	LastActiveAt time.Time
	Tier         Tier
}

// UsageRecord is an append-only entry recording credit consumption.
type UsageRecord struct {
	ID        uuid.UUID
	UserID    string
	Kind      string // "chat", "voice".
	Amount    float64
	CreatedAt time.Time
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
