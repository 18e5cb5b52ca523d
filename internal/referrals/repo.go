package referrals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
)

// ReferralRow is a referral joined with the referred account.
type ReferralRow struct {
	ID             uuid.UUID
	ReferredID     uuid.UUID
	ReferredName   *string
	ReferredEmail  string
	CreditsAwarded int
	CreatedAt      time.Time
}

// Repository persists referrals and the referred_by back-reference.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccountByReferralCode(ctx context.Context, code string) (*models.Account, error)
	ExistsForReferred(ctx context.Context, referredID uuid.UUID) (bool, error)
	Insert(ctx context.Context, referral *models.Referral) error
	SetReferredBy(ctx context.Context, referredID, referrerID uuid.UUID) (bool, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]ReferralRow, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccountByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) ExistsForReferred(ctx context.Context, referredID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referred_id = ?", referredID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) Insert(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

// SetReferredBy fills the back-reference once; an existing value is kept.
func (r *repository) SetReferredBy(ctx context.Context, referredID, referrerID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND referred_by_id IS NULL", referredID).
		Update("referred_by_id", referrerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]ReferralRow, error) {
	var rows []ReferralRow
	err := r.db.WithContext(ctx).
		Table("referrals").
		Select(`referrals.id AS id,
			referrals.referred_id AS referred_id,
			accounts.name AS referred_name,
			accounts.email AS referred_email,
			referrals.credits_awarded AS credits_awarded,
			referrals.created_at AS created_at`).
		Joins("JOIN accounts ON accounts.id = referrals.referred_id").
		Where("referrals.referrer_id = ?", referrerID).
		Order("referrals.created_at DESC").
		Scan(&rows).Error
	return rows, err
}
