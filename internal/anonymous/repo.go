package anonymous

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/face10ai/credits-backend/pkg/db/models"
)

// Repository persists anonymous usage counters.
type Repository interface {
	Find(ctx context.Context, sessionID string) (*models.AnonymousSession, error)
	CreateIfAbsent(ctx context.Context, sessionID string) (bool, error)
	Increment(ctx context.Context, sessionID string, now time.Time) error
	ConsumeIfBelow(ctx context.Context, sessionID string, max int, now time.Time) (bool, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Find(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	var row models.AnonymousSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// CreateIfAbsent inserts a zero counter and never overwrites an existing row.
func (r *repository) CreateIfAbsent(ctx context.Context, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(&models.AnonymousSession{SessionID: sessionID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Increment upserts the counter: a missing row is created with one use.
func (r *repository) Increment(ctx context.Context, sessionID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"ratings_used": gorm.Expr("anonymous_sessions.ratings_used + 1"),
				"updated_at":   now,
			}),
		}).
		Create(&models.AnonymousSession{SessionID: sessionID, RatingsUsed: 1, CreatedAt: now, UpdatedAt: now}).Error
}

// ConsumeIfBelow increments the counter only while it is under max.
func (r *repository) ConsumeIfBelow(ctx context.Context, sessionID string, max int, now time.Time) (bool, error) {
	if _, err := r.CreateIfAbsent(ctx, sessionID); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.AnonymousSession{}).
		Where("session_id = ? AND ratings_used < ?", sessionID, max).
		Updates(map[string]any{
			"ratings_used": gorm.Expr("ratings_used + 1"),
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&models.AnonymousSession{})
	return res.RowsAffected, res.Error
}
