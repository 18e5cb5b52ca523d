package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
)

// Repository persists account balances and the credit transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	DecrementIfPositive(ctx context.Context, id uuid.UUID) (bool, error)
	AddCredits(ctx context.Context, id uuid.UUID, amount int) (bool, error)
	UpdateIfVersion(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.CreditTransaction) error
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	SumTransactions(ctx context.Context, accountID uuid.UUID) (int, error)
	ListDueForRefresh(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// DecrementIfPositive consumes one credit in a single guarded statement.
func (r *repository) DecrementIfPositive(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND credits_remaining > 0", id).
		Updates(map[string]any{
			"credits_remaining": gorm.Expr("credits_remaining - 1"),
			"total_uploads":     gorm.Expr("total_uploads + 1"),
			"ledger_version":    gorm.Expr("ledger_version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AddCredits(ctx context.Context, id uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"credits_remaining": gorm.Expr("credits_remaining + ?", amount),
			"ledger_version":    gorm.Expr("ledger_version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateIfVersion applies updates only while ledger_version still equals version.
func (r *repository) UpdateIfVersion(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND ledger_version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	var rows []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) SumTransactions(ctx context.Context, accountID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return int(total), err
}

func (r *repository) ListDueForRefresh(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("credits_reset_at IS NOT NULL AND credits_reset_at <= ?", now).
		Where("subscription_status = ?", enums.SubscriptionStatusActive).
		Where("subscription_tier IN ?", []enums.SubscriptionTier{enums.SubscriptionTierPro, enums.SubscriptionTierPremium}).
		Order("credits_reset_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
