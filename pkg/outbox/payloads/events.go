package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/pkg/enums"
)

// SubscriptionActivatedEvent is emitted when a checkout grants a paid tier.
type SubscriptionActivatedEvent struct {
	AccountID            uuid.UUID              `json:"account_id"`
	Tier                 enums.SubscriptionTier `json:"tier"`
	BillingPeriod        enums.BillingPeriod    `json:"billing_period"`
	Credits              int                    `json:"credits"`
	StripeSubscriptionID string                 `json:"stripe_subscription_id"`
	CurrentPeriodEnd     *time.Time             `json:"current_period_end,omitempty"`
}

// SubscriptionRenewedEvent is emitted when a billing cycle invoice resets credits.
type SubscriptionRenewedEvent struct {
	AccountID       uuid.UUID              `json:"account_id"`
	Tier            enums.SubscriptionTier `json:"tier"`
	Credits         int                    `json:"credits"`
	InvoiceID       string                 `json:"invoice_id"`
	NextResetAt     time.Time              `json:"next_reset_at"`
	PreviousBalance int                    `json:"previous_balance"`
}

// SubscriptionDowngradedEvent is emitted when a deleted subscription returns the account to FREE.
type SubscriptionDowngradedEvent struct {
	AccountID            uuid.UUID              `json:"account_id"`
	PreviousTier         enums.SubscriptionTier `json:"previous_tier"`
	Credits              int                    `json:"credits"`
	StripeSubscriptionID string                 `json:"stripe_subscription_id"`
}

// ReferralRewardedEvent is emitted when a referrer receives the referral bonus.
type ReferralRewardedEvent struct {
	ReferralID   uuid.UUID `json:"referral_id"`
	ReferrerID   uuid.UUID `json:"referrer_id"`
	ReferredID   uuid.UUID `json:"referred_id"`
	CreditsGiven int       `json:"credits_given"`
}

// Event is a payload that carries its own routing identity.
type Event interface {
	EventType() enums.OutboxEventType
	AggregateType() enums.OutboxAggregateType
	AggregateID() uuid.UUID
}

func (SubscriptionActivatedEvent) EventType() enums.OutboxEventType {
	return enums.EventSubscriptionActivated
}
func (SubscriptionActivatedEvent) AggregateType() enums.OutboxAggregateType {
	return enums.AggregateAccount
}
func (e SubscriptionActivatedEvent) AggregateID() uuid.UUID { return e.AccountID }

func (SubscriptionRenewedEvent) EventType() enums.OutboxEventType {
	return enums.EventSubscriptionRenewed
}
func (SubscriptionRenewedEvent) AggregateType() enums.OutboxAggregateType {
	return enums.AggregateAccount
}
func (e SubscriptionRenewedEvent) AggregateID() uuid.UUID { return e.AccountID }

func (SubscriptionDowngradedEvent) EventType() enums.OutboxEventType {
	return enums.EventSubscriptionDowngraded
}
func (SubscriptionDowngradedEvent) AggregateType() enums.OutboxAggregateType {
	return enums.AggregateAccount
}
func (e SubscriptionDowngradedEvent) AggregateID() uuid.UUID { return e.AccountID }

func (ReferralRewardedEvent) EventType() enums.OutboxEventType {
	return enums.EventReferralRewarded
}
func (ReferralRewardedEvent) AggregateType() enums.OutboxAggregateType {
	return enums.AggregateReferral
}
func (e ReferralRewardedEvent) AggregateID() uuid.UUID { return e.ReferralID }

// Prototypes returns a zero value of every payload, used to build decoders.
func Prototypes() []func() Event {
	return []func() Event{
		func() Event { return &SubscriptionActivatedEvent{} },
		func() Event { return &SubscriptionRenewedEvent{} },
		func() Event { return &SubscriptionDowngradedEvent{} },
		func() Event { return &ReferralRewardedEvent{} },
	}
}
