package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/face10ai/credits-backend/api/responses"
	pkgAuth "github.com/face10ai/credits-backend/pkg/auth"
	"github.com/face10ai/credits-backend/pkg/config"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

// SessionChecker reports whether an access token id still has a live session.
type SessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

type tokenAuth struct {
	cfg      config.JWTConfig
	sessions SessionChecker
	logg     *logger.Logger
}

// Auth requires a bearer token whose session is still open.
func Auth(cfg config.JWTConfig, sessions SessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	a := tokenAuth{cfg: cfg, sessions: sessions, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := a.resolve(r)
			if err == nil && ctx == nil {
				err = pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
			}
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the account for a good token. A missing or bad token
// continues as an anonymous request; only a session store outage fails it.
func OptionalAuth(cfg config.JWTConfig, sessions SessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	a := tokenAuth{cfg: cfg, sessions: sessions, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := a.resolve(r)
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeDependency):
				responses.WriteError(r.Context(), logg, w, err)
				return
			case err != nil:
				if logg != nil {
					logg.Warn(logg.WithField(r.Context(), "reason", pkgerrors.As(err).Message()), "optional auth: continuing anonymously")
				}
				next.ServeHTTP(w, r)
			case ctx == nil:
				next.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// resolve returns a nil context and nil error when no credentials were sent.
func (a tokenAuth) resolve(r *http.Request) (context.Context, error) {
	raw, present := bearer(r.Header.Get("Authorization"))
	if !present {
		return nil, nil
	}
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "malformed authorization header")
	}
	claims, err := pkgAuth.ParseAccessToken(a.cfg, raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	if claims.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "token has no session id")
	}
	ctx := r.Context()
	if a.sessions != nil {
		live, err := a.sessions.HasSession(ctx, claims.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check session")
		}
		if !live {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session revoked")
		}
	}

	ctx = context.WithValue(WithAccountID(ctx, claims.AccountID), ctxAccessID, claims.ID)
	if a.logg != nil {
		ctx = a.logg.WithAccountID(ctx, claims.AccountID.String())
		ctx = a.logg.WithField(ctx, "tier", string(claims.Tier))
	}
	return ctx, nil
}

// bearer extracts the credential from an Authorization header. present is
// false only when the header is absent.
func bearer(header string) (token string, present bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found {
		return "", true
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", true
	}
	return strings.TrimSpace(rest), true
}
