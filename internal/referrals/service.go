package referrals

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/outbox"
	"github.com/face10ai/credits-backend/pkg/outbox/payloads"
)

const (
	DefaultBonus      = 10
	rewardDescription = "Parrainage de nouveau utilisateur"
)

// Outcome reports what Track did. Only OutcomeCreated changes any state.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeUnknownCode     Outcome = "unknown_code"
	OutcomeSelfReferral    Outcome = "self_referral"
	OutcomeAlreadyReferred Outcome = "already_referred"
)

var errAlreadyReferred = errors.New("referred account already tracked")

// Stats aggregates the referrals credited to one referrer.
type Stats struct {
	TotalReferrals     int     `json:"total_referrals"`
	TotalCreditsEarned int     `json:"total_credits_earned"`
	Referrals          []Entry `json:"referrals"`
}

// Entry is one referred account as shown to its referrer.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	CreditsAwarded int       `json:"credits_awarded"`
	CreatedAt      time.Time `json:"created_at"`
}

// Referrer is the public view of a valid referral code owner.
type Referrer struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type creditGranter interface {
	GrantTx(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int, txType enums.CreditTransactionType, description string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service tracks referrals and rewards referrers exactly once per referred account.
type Service interface {
	Track(ctx context.Context, code string, newAccountID uuid.UUID) (Outcome, error)
	Stats(ctx context.Context, accountID uuid.UUID) (*Stats, error)
	Validate(ctx context.Context, code string) (*Referrer, error)
	BuildReferralURL(code string) string
}

type ServiceParams struct {
	Repo              Repository
	Credits           creditGranter
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Bonus             int
	AppURL            string
}

type service struct {
	repo    Repository
	credits creditGranter
	outbox  outbox.Emitter
	tx      txRunner
	logg    *logger.Logger
	bonus   int
	appURL  string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit service required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	bonus := params.Bonus
	if bonus <= 0 {
		bonus = DefaultBonus
	}
	return &service{
		repo:    params.Repo,
		credits: params.Credits,
		outbox:  params.Outbox,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
		bonus:   bonus,
		appURL:  strings.TrimRight(strings.TrimSpace(params.AppURL), "/"),
	}, nil
}

// NormalizeCode canonicalises user input for lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Track records that newAccountID signed up with code. Every unmet
// precondition is a silent no-op reported through the Outcome.
func (s *service) Track(ctx context.Context, code string, newAccountID uuid.UUID) (Outcome, error) {
	var outcome Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		outcome, err = s.trackTx(ctx, tx, code, newAccountID)
		return err
	})
	if errors.Is(err, errAlreadyReferred) {
		return OutcomeAlreadyReferred, nil
	}
	return outcome, err
}

// trackTx surfaces a concurrent duplicate as errAlreadyReferred so the
// transaction rolls back before anything is granted.
func (s *service) trackTx(ctx context.Context, tx *gorm.DB, code string, newAccountID uuid.UUID) (Outcome, error) {
	if newAccountID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	code = NormalizeCode(code)
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{"referral_code": code, "account_id": newAccountID.String()})
	}
	if code == "" {
		return OutcomeUnknownCode, nil
	}

	repo := s.repo.WithTx(tx)
	referrer, err := repo.FindAccountByReferralCode(ctx, code)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup referral code")
	}
	if referrer == nil {
		s.info(logCtx, "referral ignored, unknown code")
		return OutcomeUnknownCode, nil
	}
	if referrer.ID == newAccountID {
		s.info(logCtx, "referral ignored, self referral")
		return OutcomeSelfReferral, nil
	}
	exists, err := repo.ExistsForReferred(ctx, newAccountID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing referral")
	}
	if exists {
		s.info(logCtx, "referral ignored, account already referred")
		return OutcomeAlreadyReferred, nil
	}

	referral := &models.Referral{
		ReferrerID:     referrer.ID,
		ReferredID:     newAccountID,
		CreditsAwarded: s.bonus,
	}
	if err := repo.Insert(ctx, referral); err != nil {
		if db.IsUniqueViolation(err, models.ConstraintReferralsReferred, models.ColumnReferralsReferred) {
			return "", errAlreadyReferred
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert referral")
	}
	if _, err := repo.SetReferredBy(ctx, newAccountID, referrer.ID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set referred by")
	}
	if err := s.credits.GrantTx(ctx, tx, referrer.ID, s.bonus, enums.CreditTransactionReferral, rewardDescription); err != nil {
		return "", err
	}
	if s.outbox != nil {
		event := payloads.ReferralRewardedEvent{
			ReferralID:   referral.ID,
			ReferrerID:   referrer.ID,
			ReferredID:   newAccountID,
			CreditsGiven: s.bonus,
		}
		if err := s.outbox.Emit(ctx, tx, event, outbox.CausedBy(newAccountID, "signup")); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit referral event")
		}
	}
	s.info(logCtx, "referral rewarded")
	return OutcomeCreated, nil
}

func (s *service) Stats(ctx context.Context, accountID uuid.UUID) (*Stats, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	rows, err := s.repo.ListByReferrer(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list referrals")
	}
	stats := &Stats{Referrals: make([]Entry, 0, len(rows))}
	for _, row := range rows {
		name := ""
		if row.ReferredName != nil {
			name = *row.ReferredName
		}
		stats.TotalReferrals++
		stats.TotalCreditsEarned += row.CreditsAwarded
		stats.Referrals = append(stats.Referrals, Entry{
			ID:             row.ID,
			Name:           name,
			Email:          row.ReferredEmail,
			CreditsAwarded: row.CreditsAwarded,
			CreatedAt:      row.CreatedAt,
		})
	}
	return stats, nil
}

func (s *service) Validate(ctx context.Context, code string) (*Referrer, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code is required")
	}
	acct, err := s.repo.FindAccountByReferralCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup referral code")
	}
	if acct == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invalid referral code")
	}
	return &Referrer{Name: acct.DisplayName(), Code: acct.ReferralCode}, nil
}

func (s *service) BuildReferralURL(code string) string {
	return BuildReferralURL(s.appURL, code)
}

// BuildReferralURL formats base?ref=code.
func BuildReferralURL(base, code string) string {
	return strings.TrimRight(base, "/") + "?ref=" + url.QueryEscape(code)
}

func (s *service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}
