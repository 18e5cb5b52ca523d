package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/api/middleware"
	"github.com/face10ai/credits-backend/api/responses"
	"github.com/face10ai/credits-backend/api/validators"
	"github.com/face10ai/credits-backend/internal/analysis"
	"github.com/face10ai/credits-backend/internal/anonymous"
	"github.com/face10ai/credits-backend/pkg/db/models"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	imageField      = "image"
	analysisService = "analysis service"
)

var allowedGenders = map[string]struct{}{
	"":       {},
	"male":   {},
	"female": {},
	"other":  {},
}

type ratingDTO struct {
	RatingID  uuid.UUID       `json:"rating_id"`
	Score     float64         `json:"score"`
	Breakdown json.RawMessage `json:"breakdown"`
	Gender    *string         `json:"gender,omitempty"`
	Cached    bool            `json:"cached"`
	Fallback  bool            `json:"fallback"`
	CreatedAt time.Time       `json:"created_at"`
}

func toRatingDTO(rating *models.Rating, cached bool) ratingDTO {
	return ratingDTO{
		RatingID:  rating.ID,
		Score:     rating.Score,
		Breakdown: rating.Breakdown,
		Gender:    rating.Gender,
		Cached:    cached,
		Fallback:  rating.Fallback,
		CreatedAt: rating.CreatedAt,
	}
}

// Analyze accepts a multipart image upload from an account holder or an
// anonymous visitor. Anonymous visitors get a session cookie on first use.
func Analyze(svc analysis.Service, tracker anonymous.Tracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || tracker == nil {
			responses.WriteError(ctx, logg, w, unavailable(analysisService))
			return
		}

		file, fields, err := validators.ReadMultipartFile(w, r, imageField, analysis.MaxImageBytes, "gender")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		gender := strings.ToLower(strings.TrimSpace(fields["gender"]))
		if _, ok := allowedGenders[gender]; !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "gender must be male, female or other"))
			return
		}

		req := analysis.Request{
			Image:       file.Data,
			ContentType: file.ContentType,
			Gender:      gender,
		}
		if accountID, ok := middleware.AccountIDFromContext(ctx); ok {
			req.AccountID = &accountID
		} else {
			session, cookie, err := tracker.GetOrCreateSession(ctx, r)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if cookie != nil {
				http.SetCookie(w, cookie)
			}
			req.AnonymousSessionID = session.ID
		}

		outcome, err := svc.Analyze(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toRatingDTO(outcome.Rating, outcome.Cached))
	}
}

func RatingGet(svc analysis.Service, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, analysisService, svc != nil, http.StatusOK, func(_ http.ResponseWriter, r *http.Request) (any, error) {
		id, err := uuid.Parse(chi.URLParam(r, "ratingId"))
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid rating id")
		}
		rating, err := svc.Get(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return toRatingDTO(rating, true), nil
	})
}

// AnonymousRemaining never mints a session. A visitor without a cookie has
// the full quota.
func AnonymousRemaining(tracker anonymous.Tracker, logg *logger.Logger) http.HandlerFunc {
	return endpoint(logg, "anonymous tracker", tracker != nil, http.StatusOK, func(_ http.ResponseWriter, r *http.Request) (any, error) {
		quota := map[string]int{"remaining": tracker.MaxRatings(), "max": tracker.MaxRatings()}
		sessionID := anonymous.SessionIDFromRequest(r)
		if sessionID == "" {
			return quota, nil
		}
		remaining, err := tracker.Remaining(r.Context(), sessionID)
		if err != nil {
			return nil, err
		}
		quota["remaining"] = remaining
		return quota, nil
	})
}
