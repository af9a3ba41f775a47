package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/sauti/internal/domain"
	"github.com/jkaninda/sauti/internal/storage"
)

// AgentRepository persists per-user agent sandbox records. It also serves as
// the reap candidate source: candidates are a projection over the same rows
// joined with account tiers.
type AgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates an AgentRepository.
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// GetAgentRecord returns the user's agent record, or storage.ErrNotFound.
func (r *AgentRepository) GetAgentRecord(ctx context.Context, userID string) (*domain.AgentInstance, error) {
	var m AgentModel
	err := r.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("loading agent record for %q: %w", userID, err)
	}
	return toAgentDomain(&m), nil
}

// SaveAgentRecord upserts the record keyed by user ID.
func (r *AgentRepository) SaveAgentRecord(ctx context.Context, rec *domain.AgentInstance) error {
	m := AgentModel{
		UserID:       rec.UserID,
		SandboxID:    rec.SandboxID,
		GatewayToken: rec.GatewayToken,
		Status:       string(rec.Status),
		LastActiveAt: rec.LastActiveAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sandbox_id", "gateway_token", "status", "last_active_at", "updated_at"}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("saving agent record for %q: %w", rec.UserID, err)
	}
	return nil
}

// SetAgentStatus updates only the lifecycle status.
func (r *AgentRepository) SetAgentStatus(ctx context.Context, userID string, status domain.AgentStatus) error {
	res := r.db.WithContext(ctx).
		Model(&AgentModel{}).
		Where("user_id = ?", userID).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("updating agent status for %q: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchAgent advances the inactivity clock.
func (r *AgentRepository) TouchAgent(ctx context.Context, userID string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&AgentModel{}).
		Where("user_id = ?", userID).
		Update("last_active_at", at)
	if res.Error != nil {
		return fmt.Errorf("touching agent %q: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListInactive returns agents of the given tier whose last activity is at or
// before now minus thresholdDays. Only running or sleeping agents qualify.
func (r *AgentRepository) ListInactive(ctx context.Context, tier domain.Tier, thresholdDays int) ([]domain.ReapCandidate, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -thresholdDays)

	var rows []struct {
		UserID       string
		LastActiveAt time.Time
		Tier         string
	}
	err := r.db.WithContext(ctx).
		Table("agent_instances").
		Select("agent_instances.user_id, agent_instances.last_active_at, accounts.tier").
		Joins("JOIN accounts ON accounts.user_id = agent_instances.user_id").
		Where("accounts.tier = ?", string(tier)).
		Where("agent_instances.last_active_at <= ?", cutoff).
		Where("agent_instances.status IN ?", []string{string(domain.StatusRunning), string(domain.StatusSleeping)}).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing inactive %s-tier agents: %w", tier, err)
	}

	candidates := make([]domain.ReapCandidate, len(rows))
	for i, row := range rows {
		candidates[i] = domain.ReapCandidate{
			AgentID:      row.UserID,
			UserID:       row.UserID,
			LastActiveAt: row.LastActiveAt,
			Tier:         domain.Tier(row.Tier),
		}
	}
	return candidates, nil
}

func toAgentDomain(m *AgentModel) *domain.AgentInstance {
	return &domain.AgentInstance{
		UserID:       m.UserID,
		SandboxID:    m.SandboxID,
		GatewayToken: m.GatewayToken,
		Status:       domain.AgentStatus(m.Status),
		LastActiveAt: m.LastActiveAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
