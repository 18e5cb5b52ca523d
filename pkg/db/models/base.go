package models

import "github.com/google/uuid"

// ensureID assigns a fresh UUID when the primary key is still zero.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All returns every model managed by the schema, in dependency order.
func All() []any {
	return []any{
		&Account{},
		&CreditTransaction{},
		&Referral{},
		&AnonymousSession{},
		&Rating{},
		&BillingWebhookEvent{},
		&OutboxEvent{},
	}
}

