package models

import "time"

// AnonymousSession counts scoring attempts by a visitor without an account.
type AnonymousSession struct {
	SessionID   string    `gorm:"column:session_id;primaryKey"`
	RatingsUsed int       `gorm:"column:ratings_used;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AnonymousSession) TableName() string { return "anonymous_sessions" }
