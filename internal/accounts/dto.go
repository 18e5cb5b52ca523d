package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/internal/referrals"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
)

// SignupRequest carries the local-credential signup form.
type SignupRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8" trim:"-"`
	Name         string `json:"name" validate:"omitempty,max=120"`
	ReferralCode string `json:"referral_code" validate:"omitempty,alphanum,max=32"`
}

// LoginRequest captures the credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required" trim:"-"`
}

// RefreshRequest pairs the (possibly expired) access token with its refresh token.
type RefreshRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// AccountDTO is the account as returned to its owner.
type AccountDTO struct {
	ID                  uuid.UUID                 `json:"id"`
	Email               string                    `json:"email"`
	Name                string                    `json:"name"`
	Credits             int                       `json:"credits"`
	Tier                enums.SubscriptionTier    `json:"tier"`
	Status              *enums.SubscriptionStatus `json:"subscription_status,omitempty"`
	BillingPeriod       *enums.BillingPeriod      `json:"billing_period,omitempty"`
	CreditsResetAt      *time.Time                `json:"credits_reset_at,omitempty"`
	SubscriptionEndDate *time.Time                `json:"subscription_end_date,omitempty"`
	TotalUploads        int                       `json:"total_uploads"`
	ReferralCode        string                    `json:"referral_code"`
	ReferralURL         string                    `json:"referral_url,omitempty"`
	CreatedAt           time.Time                 `json:"created_at"`
}

// FromModel maps an account row to its DTO.
func FromModel(a *models.Account) *AccountDTO {
	if a == nil {
		return nil
	}
	return &AccountDTO{
		ID:                  a.ID,
		Email:               a.Email,
		Name:                a.DisplayName(),
		Credits:             a.CreditsRemaining,
		Tier:                a.SubscriptionTier,
		Status:              a.SubscriptionStatus,
		BillingPeriod:       a.BillingPeriod,
		CreditsResetAt:      a.CreditsResetAt,
		SubscriptionEndDate: a.SubscriptionEndDate,
		TotalUploads:        a.TotalUploads,
		ReferralCode:        a.ReferralCode,
		CreatedAt:           a.CreatedAt,
	}
}

// SessionResponse contains the tokens and the account after signup, login or refresh.
type SessionResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	Account      *AccountDTO `json:"account"`
}

// SignupResponse adds the referral outcome to a fresh session.
type SignupResponse struct {
	SessionResponse
	Referral referrals.Outcome `json:"referral,omitempty"`
}
