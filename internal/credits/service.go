package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
)

const (
	DefaultHistoryLimit = 10
	maxHistoryLimit     = 100

	UsageDescription = "Analyse de visage"
	adminDescription = "Ajustement administrateur"
)

// DeductResult is the expected outcome of consuming one credit.
type DeductResult int

const (
	DeductOK DeductResult = iota
	DeductInsufficient
)

func (r DeductResult) String() string {
	if r == DeductOK {
		return "ok"
	}
	return "insufficient"
}

// Balance is a read-only view of an account's credit state.
type Balance struct {
	AccountID     uuid.UUID                 `json:"account_id"`
	Credits       int                       `json:"credits"`
	Tier          enums.SubscriptionTier    `json:"tier"`
	Status        *enums.SubscriptionStatus `json:"status,omitempty"`
	ResetAt       *time.Time                `json:"reset_at,omitempty"`
	TotalUploads  int                       `json:"total_uploads"`
	Allotment     int                       `json:"allotment"`
	HasActivePlan bool                      `json:"has_active_plan"`
}

// AuditReport compares the stored balance with the sum of the transaction log.
type AuditReport struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int       `json:"balance"`
	LedgerSum int       `json:"ledger_sum"`
}

// Consistent reports whether the balance reconciles with the log.
func (r AuditReport) Consistent() bool { return r.Balance == r.LedgerSum }

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service grants, consumes and refreshes credits. Every balance change is
// paired with exactly one CreditTransaction in the same database transaction.
type Service interface {
	CheckBalance(ctx context.Context, accountID uuid.UUID) (int, error)
	Snapshot(ctx context.Context, accountID uuid.UUID) (*Balance, error)
	Deduct(ctx context.Context, accountID uuid.UUID) (DeductResult, error)
	Grant(ctx context.Context, accountID uuid.UUID, amount int, txType enums.CreditTransactionType, description string) error
	GrantTx(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int, txType enums.CreditTransactionType, description string) error
	RefreshIfDue(ctx context.Context, accountID uuid.UUID) (bool, error)
	RefreshDue(ctx context.Context, limit int) (int, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditTransaction, error)
	Audit(ctx context.Context, accountID uuid.UUID) (*AuditReport, error)
	AdminSetBalance(ctx context.Context, email string, target int, description string) (int, error)

	SetBalanceTx(ctx context.Context, tx *gorm.DB, acct *models.Account, m Mutation) (int, error)
	RunLedgerTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the credit service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.LedgerMetrics
	Now               func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	clock   func() time.Time
}

// NewService builds a credit service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	clock := params.Now
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
		metrics: params.Metrics,
		clock:   clock,
	}, nil
}

func (s *service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// CheckBalance refreshes a due paid account before reporting its balance.
func (s *service) CheckBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	snap, err := s.Snapshot(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return snap.Credits, nil
}

func (s *service) Snapshot(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	if _, err := s.RefreshIfDue(ctx, accountID); err != nil {
		return nil, err
	}
	acct, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if acct == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return &Balance{
		AccountID:     acct.ID,
		Credits:       acct.CreditsRemaining,
		Tier:          acct.SubscriptionTier,
		Status:        acct.SubscriptionStatus,
		ResetAt:       acct.CreditsResetAt,
		TotalUploads:  acct.TotalUploads,
		Allotment:     Allotment(acct.SubscriptionTier),
		HasActivePlan: acct.HasActiveSubscription(),
	}, nil
}

// Deduct consumes one credit. An empty balance is reported as DeductInsufficient, not an error.
func (s *service) Deduct(ctx context.Context, accountID uuid.UUID) (DeductResult, error) {
	if accountID == uuid.Nil {
		return DeductInsufficient, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if _, err := s.RefreshIfDue(ctx, accountID); err != nil {
		return DeductInsufficient, err
	}

	result := DeductInsufficient
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.DecrementIfPositive(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement credits")
		}
		if !ok {
			acct, err := repo.FindAccount(ctx, accountID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
			}
			if acct == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
			}
			return nil
		}
		entry := &models.CreditTransaction{
			AccountID:   accountID,
			Amount:      -1,
			Type:        enums.CreditTransactionUsage,
			Description: UsageDescription,
			CreatedAt:   s.now(),
		}
		if err := repo.InsertTransaction(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert usage transaction")
		}
		result = DeductOK
		return nil
	})
	if err != nil {
		return DeductInsufficient, err
	}

	if result == DeductOK {
		s.metrics.ObserveCredits(string(enums.CreditTransactionUsage), -1)
	} else if s.logg != nil {
		s.logg.Info(s.logg.WithAccountID(ctx, accountID.String()), "deduct refused, no credits left")
	}
	return result, nil
}

func (s *service) Grant(ctx context.Context, accountID uuid.UUID, amount int, txType enums.CreditTransactionType, description string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.GrantTx(ctx, tx, accountID, amount, txType, description)
	})
}

// GrantTx adds amount credits using the caller's transaction.
func (s *service) GrantTx(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, amount int, txType enums.CreditTransactionType, description string) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}
	if !txType.IsValid() || txType == enums.CreditTransactionUsage {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid grant type %q", txType))
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.AddCredits(ctx, accountID, amount)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add credits")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	entry := &models.CreditTransaction{
		AccountID:   accountID,
		Amount:      amount,
		Type:        txType,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now(),
	}
	if err := repo.InsertTransaction(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert credit transaction")
	}
	s.metrics.ObserveCredits(string(txType), amount)
	return nil
}

// RefreshIfDue resets a paid, active account to its allotment once its reset
// date has passed. Concurrent callers race on the ledger version; the loser
// re-reads, sees the advanced reset date and does nothing.
func (s *service) RefreshIfDue(ctx context.Context, accountID uuid.UUID) (bool, error) {
	refreshed := false
	err := s.RunLedgerTx(ctx, func(tx *gorm.DB) error {
		refreshed = false
		acct, err := s.repo.WithTx(tx).FindAccount(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		if acct == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		now := s.now()
		if !refreshDue(acct, now) {
			return nil
		}
		next := nextResetAt(acct.CreditsResetAt.UTC(), periodOf(acct), now)
		_, err = s.SetBalanceTx(ctx, tx, acct, Mutation{
			Target:      Allotment(acct.SubscriptionTier),
			Type:        enums.CreditTransactionMonthlyRefresh,
			Description: fmt.Sprintf("Crédits %s - Recharge mensuelle", acct.SubscriptionTier),
			Fields:      map[string]any{"credits_reset_at": next},
		})
		if err != nil {
			return err
		}
		refreshed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if refreshed && s.logg != nil {
		s.logg.Info(s.logg.WithAccountID(ctx, accountID.String()), "credits refreshed for new period")
	}
	return refreshed, nil
}

// RefreshDue sweeps up to limit accounts whose reset date has passed.
func (s *service) RefreshDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = maxHistoryLimit
	}
	ids, err := s.repo.ListDueForRefresh(ctx, s.now(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list accounts due for refresh")
	}
	var (
		count int
		errs  error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return count, multierr.Append(errs, err)
		}
		ok, err := s.RefreshIfDue(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh %s: %w", id, err))
			continue
		}
		if ok {
			count++
		}
	}
	return count, errs
}

// History lists the newest transactions first.
func (s *service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := s.repo.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit transactions")
	}
	return rows, nil
}

func (s *service) Audit(ctx context.Context, accountID uuid.UUID) (*AuditReport, error) {
	var report *AuditReport
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		acct, err := repo.FindAccount(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		if acct == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		sum, err := repo.SumTransactions(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum credit transactions")
		}
		report = &AuditReport{AccountID: acct.ID, Balance: acct.CreditsRemaining, LedgerSum: sum}
		return nil
	})
	return report, err
}

// AdminSetBalance sets the balance of the account owning email and returns the logged delta.
func (s *service) AdminSetBalance(ctx context.Context, email string, target int, description string) (int, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if strings.TrimSpace(description) == "" {
		description = adminDescription
	}

	var delta int
	err := s.RunLedgerTx(ctx, func(tx *gorm.DB) error {
		acct, err := s.repo.WithTx(tx).FindAccountByEmail(ctx, email)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		if acct == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		delta, err = s.SetBalanceTx(ctx, tx, acct, Mutation{
			Target:      target,
			Type:        enums.CreditTransactionAdmin,
			Description: description,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"email": email, "target": target, "delta": delta})
		s.logg.Info(logCtx, "admin balance adjustment applied")
	}
	return delta, nil
}
