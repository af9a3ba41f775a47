package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/sauti/internal/domain"
	"github.com/jkaninda/sauti/internal/storage"
)

// CreditRepository tracks per-user credit balances and usage records.
type CreditRepository struct {
	db *gorm.DB
}

// NewCreditRepository creates a CreditRepository.
func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// GetCredits returns the user's current balance, or storage.ErrNotFound.
func (r *CreditRepository) GetCredits(ctx context.Context, userID string) (float64, error) {
	var m AccountModel
	err := r.db.WithContext(ctx).First(&m, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("loading account %q: %w", userID, err)
	}
	return m.Credits, nil
}

// DebitCredits atomically subtracts amount from the balance. The conditional
// update makes concurrent debits safe: a race cannot overdraw.
func (r *CreditRepository) DebitCredits(ctx context.Context, userID string, amount float64) error {
	res := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("user_id = ? AND credits >= ?", userID, amount).
		Update("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debiting %q: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrInsufficientCredits
	}
	return nil
}

// RecordUsage appends one usage entry.
func (r *CreditRepository) RecordUsage(ctx context.Context, userID, kind string, amount float64) error {
	m := UsageModel{
		ID:     domain.NewID(),
		UserID: userID,
		Kind:   kind,
		Amount: amount,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("recording %s usage for %q: %w", kind, userID, err)
	}
	return nil
}
