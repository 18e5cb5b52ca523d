package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/enums"
)

// Unique constraint identifiers (Postgres name, SQLite table.column).
const (
	ConstraintAccountsEmail           = "ux_accounts_email"
	ColumnAccountsEmail               = "accounts.email"
	ConstraintAccountsReferralCode    = "ux_accounts_referral_code"
	ColumnAccountsReferralCode        = "accounts.referral_code"
	ConstraintAccountsStripeCustomer  = "ux_accounts_stripe_customer_id"
	ColumnAccountsStripeCustomer      = "accounts.stripe_customer_id"
	ConstraintAccountsStripeSubscribe = "ux_accounts_stripe_subscription_id"
	ColumnAccountsStripeSubscribe     = "accounts.stripe_subscription_id"
)

// Account is a registered user together with its credit balance and billing state.
type Account struct {
	ID                    uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Email                 string                    `gorm:"column:email;type:text;not null;uniqueIndex:ux_accounts_email"`
	Name                  *string                   `gorm:"column:name"`
	PasswordHash          *string                   `gorm:"column:password_hash"`
	AuthProvider          string                    `gorm:"column:auth_provider;not null;default:email"`
	CreditsRemaining      int                       `gorm:"column:credits_remaining;not null;default:0"`
	CreditsResetAt        *time.Time                `gorm:"column:credits_reset_at"`
	TotalUploads          int                       `gorm:"column:total_uploads;not null;default:0"`
	LedgerVersion         int64                     `gorm:"column:ledger_version;not null;default:0"`
	SubscriptionTier      enums.SubscriptionTier    `gorm:"column:subscription_tier;type:text;not null;default:FREE"`
	SubscriptionStatus    *enums.SubscriptionStatus `gorm:"column:subscription_status;type:text"`
	BillingPeriod         *enums.BillingPeriod      `gorm:"column:billing_period;type:text"`
	SubscriptionStartDate *time.Time                `gorm:"column:subscription_start_date"`
	SubscriptionEndDate   *time.Time                `gorm:"column:subscription_end_date"`
	StripeCustomerID      *string                   `gorm:"column:stripe_customer_id;uniqueIndex:ux_accounts_stripe_customer_id"`
	StripeSubscriptionID  *string                   `gorm:"column:stripe_subscription_id;uniqueIndex:ux_accounts_stripe_subscription_id"`
	ReferralCode          string                    `gorm:"column:referral_code;not null;uniqueIndex:ux_accounts_referral_code"`
	ReferredByID          *uuid.UUID                `gorm:"column:referred_by_id;type:uuid"`
	CreatedAt             time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	if a.SubscriptionTier == "" {
		a.SubscriptionTier = enums.SubscriptionTierFree
	}
	if a.AuthProvider == "" {
		a.AuthProvider = "email"
	}
	return nil
}

// DisplayName returns the name or the local part of the email.
func (a Account) DisplayName() string {
	if a.Name != nil && *a.Name != "" {
		return *a.Name
	}
	for i := 0; i < len(a.Email); i++ {
		if a.Email[i] == '@' {
			return a.Email[:i]
		}
	}
	return a.Email
}

// HasActiveSubscription reports whether the provider currently bills the account.
func (a Account) HasActiveSubscription() bool {
	return a.SubscriptionTier.IsPaid() &&
		a.SubscriptionStatus != nil &&
		*a.SubscriptionStatus == enums.SubscriptionStatusActive
}
