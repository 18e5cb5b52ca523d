package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/pkg/enums"
)

// AccessTokenPayload is what the account service knows at login or signup.
type AccessTokenPayload struct {
	AccountID uuid.UUID
	Email     string
	Tier      enums.SubscriptionTier
	JTI       string
}

func (p AccessTokenPayload) validate() error {
	if p.AccountID == uuid.Nil {
		return errors.New("account id is required")
	}
	if p.Tier != "" && !p.Tier.IsValid() {
		return errors.New("invalid subscription tier " + string(p.Tier))
	}
	return nil
}

// AccessTokenClaims is the body of an issued access token. The jti doubles as
// the session id that refresh tokens are bound to.
type AccessTokenClaims struct {
	AccountID uuid.UUID              `json:"account_id"`
	Email     string                 `json:"email"`
	Tier      enums.SubscriptionTier `json:"tier"`
	jwt.RegisteredClaims
}
