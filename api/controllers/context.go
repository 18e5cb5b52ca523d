package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/api/middleware"
	"github.com/face10ai/credits-backend/api/responses"
	"github.com/face10ai/credits-backend/api/validators"
	"github.com/face10ai/credits-backend/internal/accounts"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

// action produces the data payload of a successful response.
type action func(w http.ResponseWriter, r *http.Request) (any, error)

// accountAction is an action that runs for a signed-in account.
type accountAction func(r *http.Request, accountID uuid.UUID) (any, error)

// endpoint renders act with status. ready is false when a dependency the
// route needs was not wired; the request then fails with INTERNAL_ERROR.
func endpoint(logg *logger.Logger, name string, ready bool, status int, act action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			responses.WriteError(r.Context(), logg, w, unavailable(name))
			return
		}
		out, err := act(w, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, status, out)
	}
}

func signedIn(act accountAction) action {
	return func(_ http.ResponseWriter, r *http.Request) (any, error) {
		accountID, err := accountOf(r)
		if err != nil {
			return nil, err
		}
		return act(r, accountID)
	}
}

func accountOf(r *http.Request) (uuid.UUID, error) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return accountID, nil
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var body T
	err := validators.DecodeJSONBody(w, r, &body)
	return body, err
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" unavailable")
}

type accountReader interface {
	Get(ctx context.Context, accountID uuid.UUID) (*accounts.AccountDTO, error)
}
