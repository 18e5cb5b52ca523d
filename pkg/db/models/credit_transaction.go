package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/enums"
)

// CreditTransaction is an immutable ledger entry. Positive amounts grant, negative consume.
type CreditTransaction struct {
	ID          uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID                   `gorm:"column:account_id;type:uuid;not null;index:ix_credit_transactions_account_created,priority:1"`
	Amount      int                         `gorm:"column:amount;not null"`
	Type        enums.CreditTransactionType `gorm:"column:type;type:text;not null"`
	Description string                      `gorm:"column:description;not null;default:''"`
	CreatedAt   time.Time                   `gorm:"column:created_at;autoCreateTime;index:ix_credit_transactions_account_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (c *CreditTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
