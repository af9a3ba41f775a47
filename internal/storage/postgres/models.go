package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AgentModel maps to the "agent_instances" table.
// One row per user; the row is never deleted by the core, only by an
// explicit external operation.
type AgentModel struct {
	UserID       string `gorm:"primaryKey"`
	SandboxID    string `gorm:"index"`
	GatewayToken string `gorm:"not null"`
	Status       string `gorm:"not null;default:'pending'"`
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (AgentModel) TableName() string { return "agent_instances" }

// AccountModel maps to the "accounts" table.
type AccountModel struct {
	UserID    string  `gorm:"primaryKey"`
	Credits   float64 `gorm:"type:numeric(14,6);not null;default:0"`
	Tier      string  `gorm:"not null;default:'free';index"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (AccountModel) TableName() string { return "accounts" }

// UsageModel maps to the "usage_records" table.
// Append-only; never updated or deleted.
type UsageModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Kind      string    `gorm:"not null"` // "chat", "voice".
	Amount    float64   `gorm:"type:numeric(14,6);not null"`
	CreatedAt time.Time
}

func (UsageModel) TableName() string { return "usage_records" }
