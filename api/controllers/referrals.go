package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/internal/referrals"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const referralService = "referral service"

type validateReferralRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type referralValidation struct {
	Valid        bool   `json:"valid"`
	ReferrerName string `json:"referrer_name"`
	Code         string `json:"code"`
}

type referralOverview struct {
	Code  string `json:"referral_code"`
	URL   string `json:"referral_url"`
	Stats any    `json:"stats"`
}

// ReferralValidate resolves a code for the signup page. Unknown codes are
// NOT_FOUND.
func ReferralValidate(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, referralService, svc != nil, http.StatusOK, func(w http.ResponseWriter, r *http.Request) (any, error) {
		body, err := decode[validateReferralRequest](w, r)
		if err != nil {
			return nil, err
		}
		referrer, err := svc.Validate(r.Context(), body.Code)
		if err != nil {
			return nil, err
		}
		return referralValidation{Valid: true, ReferrerName: referrer.Name, Code: referrer.Code}, nil
	})
}

func ReferralStats(svc referrals.Service, accountsSvc accountReader, logg *logger.Logger) http.HandlerFunc {
	ready := svc != nil && accountsSvc != nil
	return endpoint(logg, referralService, ready, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		account, err := accountsSvc.Get(r.Context(), accountID)
		if err != nil {
			return nil, err
		}
		stats, err := svc.Stats(r.Context(), accountID)
		if err != nil {
			return nil, err
		}
		return referralOverview{
			Code:  account.ReferralCode,
			URL:   svc.BuildReferralURL(account.ReferralCode),
			Stats: stats,
		}, nil
	}))
}
