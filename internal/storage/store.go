// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jkaninda/sauti/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInsufficientCredits is returned by DebitCredits when the user's balance
// cannot cover the amount. Checked as a business precondition before any
// sandbox or gateway work is started.
var ErrInsufficientCredits = errors.New("insufficient credits")

// AgentRecordStore persists per-user agent sandbox records.
// Consulted and updated by the lifecycle manager.
type AgentRecordStore interface {
	// GetAgentRecord returns the user's agent record, or ErrNotFound.
	GetAgentRecord(ctx context.Context, userID string) (*domain.AgentInstance, error)

	// SaveAgentRecord upserts the record keyed by user ID.
	SaveAgentRecord(ctx context.Context, rec *domain.AgentInstance) error

	// SetAgentStatus updates only the lifecycle status of the record.
	SetAgentStatus(ctx context.Context, userID string, status domain.AgentStatus) error

	// TouchAgent records activity, advancing the inactivity clock the
	// reaper policy reads.
	TouchAgent(ctx context.Context, userID string, at time.Time) error
}

// CreditStore tracks per-user credit balances and usage.
type CreditStore interface {
	GetCredits(ctx context.Context, userID string) (float64, error)

	// DebitCredits atomically subtracts amount from the balance.
	// Returns ErrInsufficientCredits without mutating when the balance is short.
	DebitCredits(ctx context.Context, userID string, amount float64) error

	// RecordUsage appends one usage entry. Called exactly once per completed
	// pipeline run and once per non-streaming message.
	RecordUsage(ctx context.Context, userID, kind string, amount float64) error
}

// ReapCandidateSource enumerates agents eligible for inactivity reaping.
type ReapCandidateSource interface {
	// ListInactive returns agents of the given tier whose last activity is
	// at or before now minus thresholdDays.
	ListInactive(ctx context.Context, tier domain.Tier, thresholdDays int) ([]domain.ReapCandidate, error)
}

// Store is the unified persistence interface.
// Both SQLite and PostgreSQL backends implement it.
type Store interface {
	AgentRecords() AgentRecordStore
	Credits() CreditStore
	ReapCandidates() ReapCandidateSource

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite"`
	Postgres PostgresConfig `json:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode"`   // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
