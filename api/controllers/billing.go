package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/internal/billing"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const billingService = "billing"

type checkoutRequest struct {
	Tier   string `json:"tier" validate:"required"`
	Period string `json:"period"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// BillingCheckout opens a hosted checkout for the requested tier and period.
func BillingCheckout(svc billing.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, billingService, svc != nil, http.StatusOK, func(w http.ResponseWriter, r *http.Request) (any, error) {
		accountID, err := accountOf(r)
		if err != nil {
			return nil, err
		}
		body, err := decode[checkoutRequest](w, r)
		if err != nil {
			return nil, err
		}
		url, err := svc.CreateCheckout(r.Context(), accountID, body.Tier, body.Period)
		if err != nil {
			return nil, err
		}
		return redirectResponse{URL: url}, nil
	})
}

func BillingPortal(svc billing.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, billingService, svc != nil, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		url, err := svc.CreatePortal(r.Context(), accountID)
		if err != nil {
			return nil, err
		}
		return redirectResponse{URL: url}, nil
	}))
}

func BillingCancel(svc billing.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, billingService, svc != nil, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		endsAt, err := svc.CancelAtPeriodEnd(r.Context(), accountID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cancel_at_period_end": true, "ends_at": endsAt}, nil
	}))
}

// BillingSync re-reads the subscription from Stripe and reconciles the account.
func BillingSync(svc billing.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, billingService, svc != nil, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		return svc.Sync(r.Context(), accountID)
	}))
}
