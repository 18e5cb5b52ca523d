package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/face10ai/credits-backend/pkg/db/models"
)

// Repository resolves accounts by provider ids and records applied webhook events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindAccountByCustomer(ctx context.Context, customerID string) (*models.Account, error)
	FindAccountBySubscription(ctx context.Context, subscriptionID string) (*models.Account, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
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
	return r.first(ctx, "id = ?", id)
}

func (r *repository) FindAccountByCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	if customerID == "" {
		return nil, nil
	}
	return r.first(ctx, "stripe_customer_id = ?", customerID)
}

func (r *repository) FindAccountBySubscription(ctx context.Context, subscriptionID string) (*models.Account, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return r.first(ctx, "stripe_subscription_id = ?", subscriptionID)
}

func (r *repository) first(ctx context.Context, query string, arg any) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where(query, arg).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// MarkEventProcessed inserts the event id and reports whether this call created it.
func (r *repository) MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	row := models.BillingWebhookEvent{EventID: eventID, EventType: eventType, ProcessedAt: at}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateFields writes non-balance account columns.
func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&models.BillingWebhookEvent{})
	return res.RowsAffected, res.Error
}
