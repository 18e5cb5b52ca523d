package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/api/middleware"
	"github.com/face10ai/credits-backend/internal/accounts"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const accountService = "account service"

// AuthSignup creates the account with its starting credits and applies an
// optional referral code.
func AuthSignup(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, accountService, svc != nil, http.StatusCreated, func(w http.ResponseWriter, r *http.Request) (any, error) {
		body, err := decode[accounts.SignupRequest](w, r)
		if err != nil {
			return nil, err
		}
		return svc.Signup(r.Context(), body)
	})
}

func AuthLogin(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, accountService, svc != nil, http.StatusOK, func(w http.ResponseWriter, r *http.Request) (any, error) {
		body, err := decode[accounts.LoginRequest](w, r)
		if err != nil {
			return nil, err
		}
		return svc.Login(r.Context(), body)
	})
}

func AuthRefresh(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, accountService, svc != nil, http.StatusOK, func(w http.ResponseWriter, r *http.Request) (any, error) {
		body, err := decode[accounts.RefreshRequest](w, r)
		if err != nil {
			return nil, err
		}
		return svc.Refresh(r.Context(), body)
	})
}

// AuthLogout ends the session behind the access token on the request.
func AuthLogout(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, accountService, svc != nil, http.StatusOK, func(_ http.ResponseWriter, r *http.Request) (any, error) {
		if err := svc.Logout(r.Context(), middleware.AccessIDFromContext(r.Context())); err != nil {
			return nil, err
		}
		return map[string]bool{"logged_out": true}, nil
	})
}

func AccountMe(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, accountService, svc != nil, http.StatusOK, signedIn(func(r *http.Request, accountID uuid.UUID) (any, error) {
		return svc.Get(r.Context(), accountID)
	}))
}
