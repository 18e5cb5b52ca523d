package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/enums"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/outbox"
	"github.com/face10ai/credits-backend/pkg/outbox/payloads"
)

const (
	MessageNoCustomer     = "Aucun compte Stripe trouvé"
	MessageNoSubscription = "Aucun abonnement actif"
	MessageSynced         = "Abonnement synchronisé avec succès!"

	downgradeDescription = "Retour au plan FREE - Abonnement annulé"
	webhookActorSource   = "stripe_webhook"
)

// ApplyResult reports what a webhook event did.
type ApplyResult string

const (
	ApplyApplied   ApplyResult = "applied"
	ApplyDuplicate ApplyResult = "duplicate"
	ApplyIgnored   ApplyResult = "ignored"
)

// SyncResult is the outcome of a manual pull from the provider.
type SyncResult struct {
	Message string                    `json:"message"`
	Synced  bool                      `json:"synced"`
	Granted bool                      `json:"granted"`
	Tier    enums.SubscriptionTier    `json:"tier"`
	Status  *enums.SubscriptionStatus `json:"status,omitempty"`
	Credits int                       `json:"credits"`
}

type ledger interface {
	RunLedgerTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	SetBalanceTx(ctx context.Context, tx *gorm.DB, acct *models.Account, m credits.Mutation) (int, error)
}

// Reconciler converges local subscription state with the billing provider,
// either from pushed webhook events or a user-triggered pull.
type Reconciler interface {
	Apply(ctx context.Context, eventID string, event Event) (ApplyResult, error)
	Sync(ctx context.Context, accountID uuid.UUID) (*SyncResult, error)
	CreateCheckout(ctx context.Context, accountID uuid.UUID, tier, period string) (string, error)
	CreatePortal(ctx context.Context, accountID uuid.UUID) (string, error)
	CancelAtPeriodEnd(ctx context.Context, accountID uuid.UUID) (*time.Time, error)
	PruneProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ReconcilerParams groups dependencies for the reconciler.
type ReconcilerParams struct {
	Repo     Repository
	Ledger   ledger
	Provider Provider
	Catalog  PriceCatalog
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	AppURL   string
	Now      func() time.Time
}

type reconciler struct {
	repo     Repository
	ledger   ledger
	provider Provider
	catalog  PriceCatalog
	outbox   outbox.Emitter
	logg     *logger.Logger
	appURL   string
	clock    func() time.Time
}

// NewReconciler validates dependencies. Provider may be nil when billing is
// not configured; provider-backed operations then fail with a dependency error.
func NewReconciler(params ReconcilerParams) (Reconciler, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("credit ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Now
	if clock == nil {
		clock = time.Now
	}
	return &reconciler{
		repo:     params.Repo,
		ledger:   params.Ledger,
		provider: params.Provider,
		catalog:  params.Catalog,
		outbox:   params.Outbox,
		logg:     params.Logger,
		appURL:   strings.TrimRight(strings.TrimSpace(params.AppURL), "/"),
		clock:    clock,
	}, nil
}

func (r *reconciler) now() time.Time {
	return r.clock().UTC().Truncate(time.Microsecond)
}

var errProviderUnavailable = pkgerrors.New(pkgerrors.CodeDependency, "billing provider is not configured")

// Apply records eventID and applies the event in one transaction. A replayed
// event id is reported as ApplyDuplicate without touching the account.
func (r *reconciler) Apply(ctx context.Context, eventID string, event Event) (ApplyResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if event == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{"event_id": eventID, "event_type": event.Kind()})

	// The renewal period comes from the provider; fetch it before opening the transaction.
	var interval string
	if inv, ok := event.(InvoicePaid); ok && inv.IsRenewal() && inv.SubscriptionID != "" && r.provider != nil {
		sub, err := r.provider.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription")
		}
		if sub != nil {
			interval = sub.Interval
		}
	}

	var result ApplyResult
	err := r.ledger.RunLedgerTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		created, err := repo.MarkEventProcessed(ctx, eventID, event.Kind(), r.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		if !created {
			result = ApplyDuplicate
			return nil
		}

		var applied bool
		switch e := event.(type) {
		case CheckoutCompleted:
			applied, err = r.applyCheckout(logCtx, tx, e)
		case InvoicePaid:
			applied, err = r.applyRenewal(logCtx, tx, e, interval)
		case SubscriptionUpdated:
			applied, err = r.applyUpdated(logCtx, tx, e)
		case SubscriptionDeleted:
			applied, err = r.applyDeleted(logCtx, tx, e)
		}
		if err != nil {
			return err
		}
		result = ApplyIgnored
		if applied {
			result = ApplyApplied
		}
		return nil
	})
	if err != nil {
		r.logg.Error(logCtx, "webhook reconciliation failed", err)
		return "", err
	}
	r.logg.Info(r.logg.WithField(logCtx, "result", string(result)), "webhook event reconciled")
	return result, nil
}

func (r *reconciler) applyCheckout(ctx context.Context, tx *gorm.DB, e CheckoutCompleted) (bool, error) {
	if e.AccountID == uuid.Nil || !e.Tier.IsPaid() {
		r.logg.Warn(ctx, "checkout dropped, metadata missing account or tier")
		return false, nil
	}
	acct, err := r.repo.WithTx(tx).FindAccount(ctx, e.AccountID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if acct == nil {
		r.logg.Warn(ctx, "checkout dropped, unknown account")
		return false, nil
	}
	if e.SubscriptionID != "" && acct.HasActiveSubscription() &&
		acct.StripeSubscriptionID != nil && *acct.StripeSubscriptionID == e.SubscriptionID {
		r.logg.Info(ctx, "checkout already applied to account")
		return false, nil
	}

	now := r.now()
	period := e.Period
	if !period.IsValid() {
		period = enums.BillingPeriodMonthly
	}
	resetAt := period.Advance(now)
	fields := map[string]any{
		"subscription_tier":       e.Tier,
		"subscription_status":     enums.SubscriptionStatusActive,
		"billing_period":          period,
		"subscription_start_date": now,
		"subscription_end_date":   nil,
		"credits_reset_at":        resetAt,
	}
	if e.CustomerID != "" {
		fields["stripe_customer_id"] = e.CustomerID
	}
	if e.SubscriptionID != "" {
		fields["stripe_subscription_id"] = e.SubscriptionID
	}
	allotment := credits.Allotment(e.Tier)
	if _, err := r.ledger.SetBalanceTx(ctx, tx, acct, credits.Mutation{
		Target:      allotment,
		Type:        enums.CreditTransactionSubscription,
		Description: fmt.Sprintf("Crédits %s - Nouvel abonnement", e.Tier),
		Fields:      fields,
	}); err != nil {
		return false, err
	}
	return true, r.emit(ctx, tx, acct.ID, payloads.SubscriptionActivatedEvent{
		AccountID:            acct.ID,
		Tier:                 e.Tier,
		BillingPeriod:        period,
		Credits:              allotment,
		StripeSubscriptionID: e.SubscriptionID,
		CurrentPeriodEnd:     &resetAt,
	})
}

func (r *reconciler) applyRenewal(ctx context.Context, tx *gorm.DB, e InvoicePaid, interval string) (bool, error) {
	if !e.IsRenewal() {
		return false, nil
	}
	acct, err := r.resolveAccount(ctx, tx, e.SubscriptionID, e.CustomerID)
	if err != nil || acct == nil {
		return false, err
	}
	if !acct.SubscriptionTier.IsPaid() {
		r.logg.Warn(ctx, "renewal dropped, account is not on a paid tier")
		return false, nil
	}

	period := enums.BillingPeriodMonthly
	if interval != "" {
		period = enums.BillingPeriodFromInterval(interval)
	} else if acct.BillingPeriod != nil && acct.BillingPeriod.IsValid() {
		period = *acct.BillingPeriod
	}
	next := period.Advance(r.now())
	allotment := credits.Allotment(acct.SubscriptionTier)
	if _, err := r.ledger.SetBalanceTx(ctx, tx, acct, credits.Mutation{
		Target:      allotment,
		Type:        enums.CreditTransactionSubscriptionRenewal,
		Description: fmt.Sprintf("Crédits %s - Renouvellement mensuel", acct.SubscriptionTier),
		Fields: map[string]any{
			"credits_reset_at": next,
			"billing_period":   period,
		},
	}); err != nil {
		return false, err
	}
	return true, r.emit(ctx, tx, acct.ID, payloads.SubscriptionRenewedEvent{
		AccountID:       acct.ID,
		Tier:            acct.SubscriptionTier,
		Credits:         allotment,
		InvoiceID:       e.InvoiceID,
		NextResetAt:     next,
		PreviousBalance: acct.CreditsRemaining,
	})
}

// applyUpdated mirrors provider status and end date. Credits are untouched.
func (r *reconciler) applyUpdated(ctx context.Context, tx *gorm.DB, e SubscriptionUpdated) (bool, error) {
	acct, err := r.resolveAccount(ctx, tx, e.SubscriptionID, e.CustomerID)
	if err != nil || acct == nil {
		return false, err
	}
	if acct.StripeSubscriptionID != nil && e.SubscriptionID != "" && *acct.StripeSubscriptionID != e.SubscriptionID {
		r.logg.Info(ctx, "update ignored, account moved to another subscription")
		return false, nil
	}
	if e.Status.IsTerminal() {
		r.logg.Info(r.logg.WithField(ctx, "subscription_status", e.Status.String()), "subscription ended, awaiting deletion event")
	}
	err = r.repo.WithTx(tx).UpdateFields(ctx, acct.ID, map[string]any{
		"subscription_status":   e.Status,
		"subscription_end_date": e.EndDate(),
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription status")
	}
	return true, nil
}

func (r *reconciler) applyDeleted(ctx context.Context, tx *gorm.DB, e SubscriptionDeleted) (bool, error) {
	acct, err := r.resolveAccount(ctx, tx, e.SubscriptionID, e.CustomerID)
	if err != nil || acct == nil {
		return false, err
	}
	if acct.StripeSubscriptionID != nil && e.SubscriptionID != "" && *acct.StripeSubscriptionID != e.SubscriptionID {
		r.logg.Info(ctx, "deletion ignored, account moved to another subscription")
		return false, nil
	}

	previousTier := acct.SubscriptionTier
	allotment := credits.Allotment(enums.SubscriptionTierFree)
	if _, err := r.ledger.SetBalanceTx(ctx, tx, acct, credits.Mutation{
		Target:      allotment,
		Type:        enums.CreditTransactionDowngrade,
		Description: downgradeDescription,
		Fields: map[string]any{
			"subscription_tier":      enums.SubscriptionTierFree,
			"subscription_status":    enums.SubscriptionStatusCanceled,
			"stripe_subscription_id": nil,
			"subscription_end_date":  r.now(),
			"credits_reset_at":       nil,
			"billing_period":         nil,
		},
	}); err != nil {
		return false, err
	}
	return true, r.emit(ctx, tx, acct.ID, payloads.SubscriptionDowngradedEvent{
		AccountID:            acct.ID,
		PreviousTier:         previousTier,
		Credits:              allotment,
		StripeSubscriptionID: e.SubscriptionID,
	})
}

// resolveAccount prefers the subscription id and falls back to the customer id.
// An unknown account is logged and reported as nil.
func (r *reconciler) resolveAccount(ctx context.Context, tx *gorm.DB, subscriptionID, customerID string) (*models.Account, error) {
	repo := r.repo.WithTx(tx)
	acct, err := repo.FindAccountBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account by subscription")
	}
	if acct == nil {
		acct, err = repo.FindAccountByCustomer(ctx, customerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account by customer")
		}
	}
	if acct == nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"stripe_subscription_id": subscriptionID,
			"stripe_customer_id":     customerID,
		}), "event dropped, no matching account")
	}
	return acct, nil
}

func (r *reconciler) emit(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, event payloads.Event) error {
	err := r.outbox.Emit(ctx, tx, event,
		outbox.CausedBy(accountID, webhookActorSource),
		outbox.OccurredAt(r.now()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit billing event")
	}
	return nil
}

// Sync pulls the active subscription for the account. Credits are granted
// only the first time a reset date is established, so redundant calls are no-ops.
func (r *reconciler) Sync(ctx context.Context, accountID uuid.UUID) (*SyncResult, error) {
	if r.provider == nil {
		return nil, errProviderUnavailable
	}
	acct, err := r.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	logCtx := r.logg.WithAccountID(ctx, accountID.String())

	customerID := ""
	if acct.StripeCustomerID != nil {
		customerID = *acct.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = r.provider.FindCustomerByEmail(ctx, acct.Email)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup provider customer")
		}
	}
	if customerID == "" {
		return unsynced(acct, MessageNoCustomer), nil
	}

	sub, err := r.provider.ActiveSubscription(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list provider subscriptions")
	}
	if sub == nil {
		return unsynced(acct, MessageNoSubscription), nil
	}

	tier, known := r.catalog.TierForPrice(sub.PriceID)
	if !known {
		r.logg.Warn(r.logg.WithField(logCtx, "price_id", sub.PriceID), "unknown price id, defaulting to PRO")
	}
	period := enums.BillingPeriodFromInterval(sub.Interval)
	status := enums.SubscriptionStatusActive
	if parsed, err := enums.ParseSubscriptionStatus(sub.Status); err == nil {
		status = parsed
	}

	var out *SyncResult
	err = r.ledger.RunLedgerTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		current, err := repo.FindAccount(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		fields := map[string]any{
			"subscription_tier":      tier,
			"subscription_status":    status,
			"billing_period":         period,
			"stripe_customer_id":     customerID,
			"stripe_subscription_id": sub.ID,
			"subscription_end_date":  sub.CancelAt,
		}
		if !sub.Created.IsZero() {
			fields["subscription_start_date"] = sub.Created
		}

		out = &SyncResult{Message: MessageSynced, Synced: true, Tier: tier, Status: &status, Credits: current.CreditsRemaining}
		if current.CreditsResetAt != nil {
			if err := repo.UpdateFields(ctx, current.ID, fields); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
			}
			return nil
		}

		now := r.now()
		resetAt := period.Advance(now)
		if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			resetAt = sub.CurrentPeriodEnd.UTC()
		}
		fields["credits_reset_at"] = resetAt
		allotment := credits.Allotment(tier)
		if _, err := r.ledger.SetBalanceTx(ctx, tx, current, credits.Mutation{
			Target:      allotment,
			Type:        enums.CreditTransactionSubscription,
			Description: fmt.Sprintf("Crédits %s - Synchronisation", tier),
			Fields:      fields,
		}); err != nil {
			return err
		}
		out.Granted = true
		out.Credits = allotment
		return r.emit(ctx, tx, current.ID, payloads.SubscriptionActivatedEvent{
			AccountID:            current.ID,
			Tier:                 tier,
			BillingPeriod:        period,
			Credits:              allotment,
			StripeSubscriptionID: sub.ID,
			CurrentPeriodEnd:     &resetAt,
		})
	})
	if err != nil {
		return nil, err
	}
	r.logg.Info(r.logg.WithFields(logCtx, map[string]any{"tier": tier.String(), "granted": out.Granted}), "subscription synced")
	return out, nil
}

func unsynced(acct *models.Account, message string) *SyncResult {
	return &SyncResult{
		Message: message,
		Tier:    acct.SubscriptionTier,
		Status:  acct.SubscriptionStatus,
		Credits: acct.CreditsRemaining,
	}
}

// CreateCheckout opens a hosted checkout for a paid tier. Period defaults to annual.
func (r *reconciler) CreateCheckout(ctx context.Context, accountID uuid.UUID, rawTier, rawPeriod string) (string, error) {
	tier, err := enums.ParseSubscriptionTier(rawTier)
	if err != nil || !tier.IsPaid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "tier must be PRO or PREMIUM")
	}
	period := enums.BillingPeriodAnnual
	if strings.TrimSpace(rawPeriod) != "" {
		if period, err = enums.ParseBillingPeriod(rawPeriod); err != nil {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "billing period must be monthly or annual")
		}
	}
	if r.provider == nil {
		return "", errProviderUnavailable
	}
	priceID, err := r.catalog.PriceID(tier, period)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve price")
	}
	acct, err := r.loadAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	req := CheckoutRequest{
		AccountID:  acct.ID.String(),
		Email:      acct.Email,
		PriceID:    priceID,
		Tier:       tier,
		Period:     period,
		SuccessURL: r.appURL + "/dashboard?subscription=success",
		CancelURL:  r.appURL + "/pricing?subscription=canceled",
	}
	if acct.StripeCustomerID != nil {
		req.CustomerID = *acct.StripeCustomerID
	}
	sess, err := r.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"account_id": acct.ID.String(),
		"tier":       tier.String(),
		"period":     period.String(),
	}), "checkout session created")
	return sess.URL, nil
}

func (r *reconciler) CreatePortal(ctx context.Context, accountID uuid.UUID) (string, error) {
	if r.provider == nil {
		return "", errProviderUnavailable
	}
	acct, err := r.loadAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acct.StripeCustomerID == nil || *acct.StripeCustomerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "no subscription found for this account")
	}
	sess, err := r.provider.CreatePortalSession(ctx, *acct.StripeCustomerID, r.appURL+"/dashboard")
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create portal session")
	}
	return sess.URL, nil
}

// CancelAtPeriodEnd asks the provider to stop renewing and returns the date access ends.
func (r *reconciler) CancelAtPeriodEnd(ctx context.Context, accountID uuid.UUID) (*time.Time, error) {
	if r.provider == nil {
		return nil, errProviderUnavailable
	}
	acct, err := r.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.StripeSubscriptionID == nil || *acct.StripeSubscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription found")
	}
	sub, err := r.provider.CancelAtPeriodEnd(ctx, *acct.StripeSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	endsAt := sub.CurrentPeriodEnd
	err = r.repo.UpdateFields(ctx, acct.ID, map[string]any{
		"subscription_status":   enums.SubscriptionStatusCanceled,
		"subscription_end_date": endsAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription status")
	}
	r.logg.Info(r.logg.WithAccountID(ctx, acct.ID.String()), "subscription set to cancel at period end")
	return endsAt, nil
}

func (r *reconciler) PruneProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}
	deleted, err := r.repo.DeleteProcessedBefore(ctx, r.now().Add(-olderThan))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "prune webhook events")
	}
	return deleted, nil
}

func (r *reconciler) loadAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	acct, err := r.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if acct == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return acct, nil
}
