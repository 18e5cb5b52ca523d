package analysis

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
)

// Repository persists ratings keyed by image hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*models.Rating, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Rating, error)
	Create(ctx context.Context, rating *models.Rating) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ratings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByHash(ctx context.Context, hash string) (*models.Rating, error) {
	return r.first(ctx, "image_hash = ?", hash)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Rating, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) first(ctx context.Context, query string, arg any) (*models.Rating, error) {
	var rating models.Rating
	if err := r.db.WithContext(ctx).Where(query, arg).First(&rating).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rating, nil
}

func (r *repository) Create(ctx context.Context, rating *models.Rating) error {
	return r.db.WithContext(ctx).Create(rating).Error
}
