package models

import "time"

// BillingWebhookEvent marks a provider event id as applied.
type BillingWebhookEvent struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null;index"`
}

func (BillingWebhookEvent) TableName() string { return "billing_webhook_events" }
