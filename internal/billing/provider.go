package billing

import (
	"context"
	"time"

	"github.com/face10ai/credits-backend/pkg/enums"
)

// CheckoutRequest is what the provider needs to open a hosted subscription checkout.
type CheckoutRequest struct {
	AccountID  string
	Email      string
	CustomerID string
	PriceID    string
	Tier       enums.SubscriptionTier
	Period     enums.BillingPeriod
	SuccessURL string
	CancelURL  string
}

// ProviderSession is a hosted page the client is redirected to.
type ProviderSession struct {
	ID  string
	URL string
}

// ProviderSubscription is the subset of a provider subscription the reconciler reads.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	Interval          string
	Created           time.Time
	CurrentPeriodEnd  *time.Time
	CancelAt          *time.Time
	CancelAtPeriodEnd bool
}

// Provider is the billing provider API surface used here. The Stripe
// implementation lives in stripe_provider.go; tests use a fake.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*ProviderSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*ProviderSession, error)
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	ActiveSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}
