package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/db/models"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
	"github.com/face10ai/credits-backend/pkg/scorer"
)

// MaxImageBytes caps an upload at 10 MiB.
const MaxImageBytes = 10 << 20

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

var (
	ErrInsufficientCredits = pkgerrors.New(pkgerrors.CodeInsufficientCredits, "no credits left")
	ErrSignupRequired      = pkgerrors.New(pkgerrors.CodeSignupRequired, "free analysis limit reached, create an account to continue")
)

// Scorer produces a score for one image. *scorer.Client satisfies it.
type Scorer interface {
	Score(ctx context.Context, req scorer.Request) (*scorer.Result, error)
}

type creditDeductor interface {
	Deduct(ctx context.Context, accountID uuid.UUID) (credits.DeductResult, error)
}

type anonymousQuota interface {
	Consume(ctx context.Context, sessionID string) (bool, error)
}

// Request is one upload. AccountID is nil for anonymous callers, who are
// identified by AnonymousSessionID instead.
type Request struct {
	Image              []byte
	ContentType        string
	Gender             string
	AccountID          *uuid.UUID
	AnonymousSessionID string
}

// Outcome is the stored rating and whether it already existed.
type Outcome struct {
	Rating *models.Rating
	Cached bool
}

// Service runs the upload flow: hash, cache lookup, authorization, scoring, persistence.
type Service interface {
	Analyze(ctx context.Context, req Request) (*Outcome, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Rating, error)
}

// ServiceParams groups dependencies for the analysis service.
type ServiceParams struct {
	Repo      Repository
	Credits   creditDeductor
	Anonymous anonymousQuota
	Scorer    Scorer
	Logger    *logger.Logger
	Metrics   *metrics.LedgerMetrics
	Now       func() time.Time
}

type service struct {
	repo      Repository
	credits   creditDeductor
	anonymous anonymousQuota
	scorer    Scorer
	logg      *logger.Logger
	metrics   *metrics.LedgerMetrics
	clock     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ratings repository required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit service required")
	}
	if params.Anonymous == nil {
		return nil, fmt.Errorf("anonymous tracker required")
	}
	if params.Scorer == nil {
		return nil, fmt.Errorf("scorer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Now
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      params.Repo,
		credits:   params.Credits,
		anonymous: params.Anonymous,
		scorer:    params.Scorer,
		logg:      params.Logger,
		metrics:   params.Metrics,
		clock:     clock,
	}, nil
}

// Analyze returns the existing rating for an already seen image without
// charging anyone. Otherwise it charges the caller, scores and stores the
// result. When a concurrent request stores the same image first, the winner's
// rating is returned as cached and the charge is kept.
func (s *service) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	contentType, err := validateUpload(req)
	if err != nil {
		return nil, err
	}

	hash := HashImage(req.Image)
	ctx = s.logg.WithField(ctx, "image_hash", hash)

	existing, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup rating")
	}
	if existing != nil {
		s.metrics.ObserveAnalysis("cached")
		return &Outcome{Rating: existing, Cached: true}, nil
	}

	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	result, err := s.scorer.Score(ctx, scorer.Request{
		Image:       req.Image,
		ContentType: contentType,
		Gender:      req.Gender,
		Hash:        hash,
	})
	if err != nil {
		if errors.Is(err, scorer.ErrNoFaceDetected) {
			s.metrics.ObserveAnalysis("no_face")
			return nil, pkgerrors.Wrap(pkgerrors.CodeNoFaceDetected, err, "no face detected in the image")
		}
		s.logg.Error(ctx, "scoring failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "score image")
	}

	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode breakdown")
	}
	rating := &models.Rating{
		ImageHash: hash,
		AccountID: req.AccountID,
		Score:     result.Score,
		Breakdown: breakdown,
		Fallback:  result.Fallback,
		CreatedAt: s.clock().UTC(),
	}
	if gender := strings.TrimSpace(req.Gender); gender != "" {
		rating.Gender = &gender
	}

	if err := s.repo.Create(ctx, rating); err != nil {
		if !db.IsUniqueViolation(err, models.ConstraintRatingsImageHash, models.ColumnRatingsImageHash) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store rating")
		}
		winner, findErr := s.repo.FindByHash(ctx, hash)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load concurrent rating")
		}
		if winner == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store rating")
		}
		s.metrics.ObserveAnalysis("race_lost")
		s.logg.Info(ctx, "concurrent upload stored the rating first, returning it")
		return &Outcome{Rating: winner, Cached: true}, nil
	}

	if result.Fallback {
		s.metrics.ObserveAnalysis("fallback")
	} else {
		s.metrics.ObserveAnalysis("scored")
	}
	return &Outcome{Rating: rating}, nil
}

// authorize charges one credit for account holders and one quota unit for visitors.
func (s *service) authorize(ctx context.Context, req Request) error {
	if req.AccountID != nil && *req.AccountID != uuid.Nil {
		res, err := s.credits.Deduct(ctx, *req.AccountID)
		if err != nil {
			return err
		}
		if res == credits.DeductInsufficient {
			s.metrics.ObserveAnalysis("insufficient")
			return ErrInsufficientCredits
		}
		return nil
	}

	if strings.TrimSpace(req.AnonymousSessionID) == "" {
		s.metrics.ObserveAnalysis("signup_required")
		return ErrSignupRequired
	}
	ok, err := s.anonymous.Consume(ctx, req.AnonymousSessionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume anonymous quota")
	}
	if !ok {
		s.metrics.ObserveAnalysis("signup_required")
		return ErrSignupRequired
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Rating, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating id is required")
	}
	rating, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load rating")
	}
	if rating == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "rating not found")
	}
	return rating, nil
}

func validateUpload(req Request) (string, error) {
	if len(req.Image) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "no image provided")
	}
	if len(req.Image) > MaxImageBytes {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "image is too large, maximum 10MB")
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if _, ok := allowedContentTypes[contentType]; !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported file type, use JPEG, PNG or WebP")
	}
	return contentType, nil
}
