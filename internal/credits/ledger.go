package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
)

const maxLedgerAttempts = 3

// ErrVersionConflict reports that the account changed between read and write.
var ErrVersionConflict = errors.New("credits: ledger version conflict")

// Mutation overwrites an account balance and records the difference in the log.
type Mutation struct {
	Target      int
	Type        enums.CreditTransactionType
	Description string
	// Fields are extra account columns written in the same guarded update.
	Fields map[string]any
}

// SetBalanceTx moves acct's balance to m.Target when the account still carries
// the ledger version it was read with, then logs target - previous as one
// transaction. The entry is written even when the delta is zero.
func (s *service) SetBalanceTx(ctx context.Context, tx *gorm.DB, acct *models.Account, m Mutation) (int, error) {
	if acct == nil {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if m.Target < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "balance cannot be negative")
	}
	if !m.Type.IsValid() || m.Type == enums.CreditTransactionUsage {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid balance mutation type %q", m.Type))
	}

	updates := make(map[string]any, len(m.Fields)+2)
	for k, v := range m.Fields {
		updates[k] = v
	}
	updates["credits_remaining"] = m.Target
	updates["ledger_version"] = gorm.Expr("ledger_version + 1")

	repo := s.repo.WithTx(tx)
	ok, err := repo.UpdateIfVersion(ctx, acct.ID, acct.LedgerVersion, updates)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update account balance")
	}
	if !ok {
		return 0, ErrVersionConflict
	}

	delta := m.Target - acct.CreditsRemaining
	entry := &models.CreditTransaction{
		AccountID:   acct.ID,
		Amount:      delta,
		Type:        m.Type,
		Description: m.Description,
		CreatedAt:   s.now(),
	}
	if err := repo.InsertTransaction(ctx, entry); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert credit transaction")
	}
	s.metrics.ObserveCredits(string(m.Type), delta)
	return delta, nil
}

// RunLedgerTx runs fn in a transaction and replays it while it fails with
// ErrVersionConflict. fn must re-read every account it mutates.
func (s *service) RunLedgerTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
		err := s.tx.WithTx(ctx, fn)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "ledger version conflict, retrying")
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "account changed concurrently, please retry")
}

// nextResetAt advances current by whole billing periods until it lies after now.
func nextResetAt(current time.Time, period enums.BillingPeriod, now time.Time) time.Time {
	next := period.Advance(current)
	for !next.After(now) {
		next = period.Advance(next)
	}
	return next
}

func periodOf(acct *models.Account) enums.BillingPeriod {
	if acct.BillingPeriod != nil && acct.BillingPeriod.IsValid() {
		return *acct.BillingPeriod
	}
	return enums.BillingPeriodMonthly
}

func refreshDue(acct *models.Account, now time.Time) bool {
	return acct.HasActiveSubscription() &&
		acct.CreditsResetAt != nil &&
		!now.Before(*acct.CreditsResetAt)
}
