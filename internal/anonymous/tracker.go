// Package anonymous meters scoring attempts made without an account.
package anonymous

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	CookieName = "anonymous_session_id"

	DefaultMaxRatings   = 1
	DefaultCookieMaxAge = 365 * 24 * time.Hour
)

// Session identifies one anonymous visitor.
type Session struct {
	ID          string
	RatingsUsed int
	// Created is set when this call minted the id; the caller must set the cookie.
	Created bool
}

// Config tunes the quota and the visitor cookie.
type Config struct {
	MaxRatings   int
	CookieMaxAge time.Duration
	SecureCookie bool
}

// Tracker is the anonymous usage surface used by the analysis flow.
type Tracker interface {
	GetOrCreateSession(ctx context.Context, r *http.Request) (Session, *http.Cookie, error)
	CanUse(ctx context.Context, sessionID string) (bool, error)
	Remaining(ctx context.Context, sessionID string) (int, error)
	Increment(ctx context.Context, sessionID string) error
	Consume(ctx context.Context, sessionID string) (bool, error)
	PurgeIdle(ctx context.Context, olderThan time.Duration) (int64, error)
	Cookie(sessionID string) *http.Cookie
	MaxRatings() int
}

type tracker struct {
	repo  Repository
	cfg   Config
	logg  *logger.Logger
	clock func() time.Time
}

// NewTracker builds a tracker; zero config values fall back to the defaults.
func NewTracker(repo Repository, cfg Config, logg *logger.Logger) (Tracker, error) {
	if repo == nil {
		return nil, fmt.Errorf("anonymous repository required")
	}
	if cfg.MaxRatings <= 0 {
		cfg.MaxRatings = DefaultMaxRatings
	}
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = DefaultCookieMaxAge
	}
	return &tracker{repo: repo, cfg: cfg, logg: logg, clock: time.Now}, nil
}

func (t *tracker) now() time.Time {
	return t.clock().UTC().Truncate(time.Microsecond)
}

func (t *tracker) MaxRatings() int { return t.cfg.MaxRatings }

// GetOrCreateSession resolves the visitor from the cookie. A well-formed id
// without a row gets a fresh counter; a missing or malformed cookie gets a new id.
func (t *tracker) GetOrCreateSession(ctx context.Context, r *http.Request) (Session, *http.Cookie, error) {
	if id := readCookie(r); id != "" {
		row, err := t.repo.Find(ctx, id)
		if err != nil {
			return Session{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load anonymous session")
		}
		if row != nil {
			return Session{ID: row.SessionID, RatingsUsed: row.RatingsUsed}, nil, nil
		}
		if _, err := t.repo.CreateIfAbsent(ctx, id); err != nil {
			return Session{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create anonymous session")
		}
		return Session{ID: id}, nil, nil
	}

	id := uuid.NewString()
	if _, err := t.repo.CreateIfAbsent(ctx, id); err != nil {
		return Session{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create anonymous session")
	}
	if t.logg != nil {
		t.logg.Debug(t.logg.WithField(ctx, "anonymous_session_id", id), "anonymous session created")
	}
	return Session{ID: id, Created: true}, t.Cookie(id), nil
}

// CanUse treats an unknown session as unused.
func (t *tracker) CanUse(ctx context.Context, sessionID string) (bool, error) {
	used, err := t.used(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return used < t.cfg.MaxRatings, nil
}

func (t *tracker) Remaining(ctx context.Context, sessionID string) (int, error) {
	used, err := t.used(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if remaining := t.cfg.MaxRatings - used; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (t *tracker) Increment(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "anonymous session id is required")
	}
	if err := t.repo.Increment(ctx, sessionID, t.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment anonymous usage")
	}
	return nil
}

// Consume checks the quota and records one use in a single guarded update.
func (t *tracker) Consume(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "anonymous session id is required")
	}
	ok, err := t.repo.ConsumeIfBelow(ctx, sessionID, t.cfg.MaxRatings, t.now())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume anonymous usage")
	}
	return ok, nil
}

func (t *tracker) PurgeIdle(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "retention must be positive")
	}
	deleted, err := t.repo.DeleteIdleBefore(ctx, t.now().Add(-olderThan))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge anonymous sessions")
	}
	return deleted, nil
}

// Cookie builds the long-lived visitor cookie for sessionID.
func (t *tracker) Cookie(sessionID string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(t.cfg.CookieMaxAge / time.Second),
		Expires:  t.clock().Add(t.cfg.CookieMaxAge),
		HttpOnly: true,
		Secure:   t.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func (t *tracker) used(ctx context.Context, sessionID string) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, nil
	}
	row, err := t.repo.Find(ctx, sessionID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load anonymous session")
	}
	if row == nil {
		return 0, nil
	}
	return row.RatingsUsed, nil
}

// SessionIDFromRequest returns the visitor id from a well-formed cookie, or "".
func SessionIDFromRequest(r *http.Request) string { return readCookie(r) }

func readCookie(r *http.Request) string {
	if r == nil {
		return ""
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(strings.TrimSpace(cookie.Value))
	if err != nil {
		return ""
	}
	return id.String()
}
