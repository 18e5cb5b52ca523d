package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConstraintRatingsImageHash = "ux_ratings_image_hash"
	ColumnRatingsImageHash     = "ratings.image_hash"
)

// Rating is a persisted scoring result, deduplicated by image content hash.
type Rating struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ImageHash string          `gorm:"column:image_hash;not null;uniqueIndex:ux_ratings_image_hash"`
	AccountID *uuid.UUID      `gorm:"column:account_id;type:uuid;index"`
	Gender    *string         `gorm:"column:gender"`
	Score     float64         `gorm:"column:score;not null"`
	Breakdown json.RawMessage `gorm:"column:breakdown;type:jsonb;not null"`
	Fallback  bool            `gorm:"column:fallback;not null;default:false"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Rating) TableName() string { return "ratings" }

func (r *Rating) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
