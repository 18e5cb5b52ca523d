package credits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/db/dbtest"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*db.Client, Service, *fakeClock) {
	t.Helper()
	client := dbtest.New(t)
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		TransactionRunner: client,
		Logger:            logger.Nop(),
		Now:               clock.Now,
	})
	require.NoError(t, err)
	return client, svc, clock
}

// seedAccount creates an account whose opening balance is backed by one initial transaction.
func seedAccount(t *testing.T, client *db.Client, credits int, mutate func(*models.Account)) *models.Account {
	t.Helper()
	acct := &models.Account{
		Email:            uuid.NewString() + "@example.com",
		CreditsRemaining: credits,
		ReferralCode:     uuid.NewString()[:8],
	}
	if mutate != nil {
		mutate(acct)
	}
	require.NoError(t, client.DB().Create(acct).Error)
	if credits != 0 {
		require.NoError(t, client.DB().Create(&models.CreditTransaction{
			AccountID:   acct.ID,
			Amount:      credits,
			Type:        enums.CreditTransactionInitial,
			Description: "seed",
			CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}).Error)
	}
	return acct
}

func activePaid(tier enums.SubscriptionTier, resetAt time.Time) func(*models.Account) {
	return func(a *models.Account) {
		status := enums.SubscriptionStatusActive
		a.SubscriptionTier = tier
		a.SubscriptionStatus = &status
		a.CreditsResetAt = &resetAt
	}
}

func assertConsistent(t *testing.T, svc Service, id uuid.UUID) *AuditReport {
	t.Helper()
	report, err := svc.Audit(context.Background(), id)
	require.NoError(t, err)
	assert.Truef(t, report.Consistent(), "balance %d != ledger sum %d", report.Balance, report.LedgerSum)
	return report
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{Repo: NewRepository(nil)})
	require.Error(t, err)
}

func TestAllotment(t *testing.T) {
	assert.Equal(t, 5, Allotment(enums.SubscriptionTierFree))
	assert.Equal(t, 25, Allotment(enums.SubscriptionTierPro))
	assert.Equal(t, 50, Allotment(enums.SubscriptionTierPremium))
	assert.Equal(t, 5, Allotment(""))
}

func TestDeductConsumesOneCredit(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 2, nil)

	result, err := svc.Deduct(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, DeductOK, result)

	var reloaded models.Account
	require.NoError(t, client.DB().First(&reloaded, "id = ?", acct.ID).Error)
	assert.Equal(t, 1, reloaded.CreditsRemaining)
	assert.Equal(t, 1, reloaded.TotalUploads)

	history, err := svc.History(context.Background(), acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, enums.CreditTransactionUsage, history[0].Type)
	assert.Equal(t, -1, history[0].Amount)
	assert.Equal(t, UsageDescription, history[0].Description)

	assertConsistent(t, svc, acct.ID)
}

func TestDeductEmptyBalanceIsNotAnError(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 0, nil)

	result, err := svc.Deduct(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, DeductInsufficient, result)
	assert.Equal(t, "insufficient", result.String())

	report := assertConsistent(t, svc, acct.ID)
	assert.Equal(t, 0, report.Balance)
}

func TestDeductUnknownAccount(t *testing.T) {
	_, svc, _ := newTestService(t)

	_, err := svc.Deduct(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestConcurrentDeductsNeverOverspend(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 1, nil)

	const callers = 8
	results := make(chan DeductResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Deduct(context.Background(), acct.ID)
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	ok, insufficient := 0, 0
	for r := range results {
		if r == DeductOK {
			ok++
		} else {
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, insufficient)

	report := assertConsistent(t, svc, acct.ID)
	assert.Equal(t, 0, report.Balance)
}

func TestGrantValidatesInput(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 5, nil)
	ctx := context.Background()

	err := svc.Grant(ctx, acct.ID, 0, enums.CreditTransactionReferral, "zero")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Grant(ctx, acct.ID, -3, enums.CreditTransactionReferral, "negative")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Grant(ctx, acct.ID, 3, enums.CreditTransactionUsage, "usage")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Grant(ctx, uuid.New(), 3, enums.CreditTransactionReferral, "ghost")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, svc.Grant(ctx, acct.ID, 10, enums.CreditTransactionReferral, "Parrainage de nouveau utilisateur"))
	balance, err := svc.CheckBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, balance)
	assertConsistent(t, svc, acct.ID)
}

func TestGrantTxRollsBackWithCaller(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 5, nil)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.GrantTx(context.Background(), tx, acct.ID, 7, enums.CreditTransactionSignup, "bonus"); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "abort")
	})
	require.Error(t, err)

	report := assertConsistent(t, svc, acct.ID)
	assert.Equal(t, 5, report.Balance)
}

func TestCheckBalanceRefreshesDuePaidAccount(t *testing.T) {
	client, svc, clock := newTestService(t)
	resetAt := clock.Now().Add(-24 * time.Hour)
	acct := seedAccount(t, client, 3, activePaid(enums.SubscriptionTierPro, resetAt))
	ctx := context.Background()

	balance, err := svc.CheckBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ProAllotment, balance)

	var reloaded models.Account
	require.NoError(t, client.DB().First(&reloaded, "id = ?", acct.ID).Error)
	require.NotNil(t, reloaded.CreditsResetAt)
	assert.True(t, reloaded.CreditsResetAt.Equal(resetAt.AddDate(0, 1, 0)))

	history, err := svc.History(ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, enums.CreditTransactionMonthlyRefresh, history[0].Type)
	assert.Equal(t, ProAllotment-3, history[0].Amount)

	// a second read in the same period is a no-op
	balance, err = svc.CheckBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, ProAllotment, balance)
	history, err = svc.History(ctx, acct.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assertConsistent(t, svc, acct.ID)
}

func TestRefreshIfDueAnnualPeriodAndLongOverdue(t *testing.T) {
	client, svc, clock := newTestService(t)
	resetAt := clock.Now().AddDate(-2, 0, -1)
	acct := seedAccount(t, client, 0, func(a *models.Account) {
		activePaid(enums.SubscriptionTierPremium, resetAt)(a)
		period := enums.BillingPeriodAnnual
		a.BillingPeriod = &period
	})

	refreshed, err := svc.RefreshIfDue(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, refreshed)

	var reloaded models.Account
	require.NoError(t, client.DB().First(&reloaded, "id = ?", acct.ID).Error)
	assert.Equal(t, PremiumAllotment, reloaded.CreditsRemaining)
	assert.True(t, reloaded.CreditsResetAt.Equal(resetAt.AddDate(3, 0, 0)))
	assert.True(t, reloaded.CreditsResetAt.After(clock.Now()))
	assertConsistent(t, svc, acct.ID)
}

func TestRefreshIfDueIgnoresFreeAndInactiveAccounts(t *testing.T) {
	client, svc, clock := newTestService(t)
	past := clock.Now().Add(-time.Hour)

	free := seedAccount(t, client, 1, func(a *models.Account) {
		a.CreditsResetAt = &past
	})
	canceled := seedAccount(t, client, 1, func(a *models.Account) {
		activePaid(enums.SubscriptionTierPro, past)(a)
		status := enums.SubscriptionStatusCanceled
		a.SubscriptionStatus = &status
	})
	future := seedAccount(t, client, 1, activePaid(enums.SubscriptionTierPro, clock.Now().Add(time.Hour)))

	for _, id := range []uuid.UUID{free.ID, canceled.ID, future.ID} {
		refreshed, err := svc.RefreshIfDue(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, refreshed)
	}
}

func TestConcurrentRefreshGrantsOnce(t *testing.T) {
	client, svc, clock := newTestService(t)
	acct := seedAccount(t, client, 2, activePaid(enums.SubscriptionTierPro, clock.Now().Add(-time.Minute)))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RefreshIfDue(context.Background(), acct.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var refreshes int64
	require.NoError(t, client.DB().Model(&models.CreditTransaction{}).
		Where("account_id = ? AND type = ?", acct.ID, enums.CreditTransactionMonthlyRefresh).
		Count(&refreshes).Error)
	assert.Equal(t, int64(1), refreshes)

	report := assertConsistent(t, svc, acct.ID)
	assert.Equal(t, ProAllotment, report.Balance)
}

func TestRefreshDueSweepsOnlyDueAccounts(t *testing.T) {
	client, svc, clock := newTestService(t)
	due := seedAccount(t, client, 1, activePaid(enums.SubscriptionTierPro, clock.Now().Add(-time.Hour)))
	seedAccount(t, client, 1, activePaid(enums.SubscriptionTierPro, clock.Now().Add(48*time.Hour)))

	count, err := svc.RefreshDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	balance, err := svc.CheckBalance(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, ProAllotment, balance)
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	client, svc, clock := newTestService(t)
	acct := seedAccount(t, client, 0, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Minute)
		require.NoError(t, svc.Grant(ctx, acct.ID, i, enums.CreditTransactionAdmin, "grant"))
	}

	history, err := svc.History(ctx, acct.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].Amount)
	assert.Equal(t, 2, history[1].Amount)
}

func TestAdminSetBalanceLogsDelta(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 5, nil)
	ctx := context.Background()

	delta, err := svc.AdminSetBalance(ctx, "  "+acct.Email+" ", 2, "")
	require.NoError(t, err)
	assert.Equal(t, -3, delta)

	delta, err = svc.AdminSetBalance(ctx, acct.Email, 40, "support")
	require.NoError(t, err)
	assert.Equal(t, 38, delta)

	report := assertConsistent(t, svc, acct.ID)
	assert.Equal(t, 40, report.Balance)

	_, err = svc.AdminSetBalance(ctx, "nobody@example.com", 1, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSetBalanceTxRejectsStaleVersion(t *testing.T) {
	client, svc, _ := newTestService(t)
	acct := seedAccount(t, client, 5, nil)
	ctx := context.Background()

	stale := *acct
	require.NoError(t, svc.Grant(ctx, acct.ID, 1, enums.CreditTransactionAdmin, "bump"))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := svc.SetBalanceTx(ctx, tx, &stale, Mutation{Target: 1, Type: enums.CreditTransactionAdmin})
		return err
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	report := assertConsistent(t, svc, acct.ID)
	assert.Equal(t, 6, report.Balance)
}

func TestNextResetAt(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), nextResetAt(base, enums.BillingPeriodMonthly, now))
	assert.Equal(t, time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC), nextResetAt(base, enums.BillingPeriodAnnual, now))
}
