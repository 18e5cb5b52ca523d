package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConstraintReferralsReferred = "ux_referrals_referred_id"
	ColumnReferralsReferred     = "referrals.referred_id"
)

// Referral records that ReferredID signed up with ReferrerID's code.
type Referral struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReferrerID     uuid.UUID `gorm:"column:referrer_id;type:uuid;not null;index"`
	ReferredID     uuid.UUID `gorm:"column:referred_id;type:uuid;not null;uniqueIndex:ux_referrals_referred_id"`
	CreditsAwarded int       `gorm:"column:credits_awarded;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Referral) TableName() string { return "referrals" }

func (r *Referral) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
