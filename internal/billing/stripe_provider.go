package billing

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	billingportalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	stripesubscription "github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/face10ai/credits-backend/pkg/stripe"
)

type stripeProvider struct{}

// NewStripeProvider returns a Provider backed by the global Stripe key set by pkg/stripe.NewClient.
func NewStripeProvider(api *pkgstripe.Client) Provider {
	if api == nil {
		return nil
	}
	return &stripeProvider{}
}

func (p *stripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*ProviderSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID:        stripe.String(req.AccountID),
		SuccessURL:               stripe.String(req.SuccessURL),
		CancelURL:                stripe.String(req.CancelURL),
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionAuto)),
		Metadata: map[string]string{
			"userId":        req.AccountID,
			"tier":          req.Tier.String(),
			"billingPeriod": req.Period.String(),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, err
	}
	return &ProviderSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *stripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*ProviderSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := billingportalsession.New(params)
	if err != nil {
		return nil, err
	}
	return &ProviderSession{ID: sess.ID, URL: sess.URL}, nil
}

// FindCustomerByEmail returns the first customer registered with email, or "".
func (p *stripeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(strings.TrimSpace(email))}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := customer.List(params)
	for iter.Next() {
		if c := iter.Customer(); c != nil {
			return c.ID, nil
		}
	}
	return "", iter.Err()
}

// ActiveSubscription returns the customer's first active subscription, or nil.
func (p *stripeProvider) ActiveSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := stripesubscription.List(params)
	for iter.Next() {
		if sub := iter.Subscription(); sub != nil {
			return fromStripeSubscription(sub), nil
		}
	}
	return nil, iter.Err()
}

func (p *stripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := stripesubscription.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

func (p *stripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	sub, err := stripesubscription.Update(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

func fromStripeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          unixTime(sub.CancelAt),
	}
	if sub.Created > 0 {
		out.Created = time.Unix(sub.Created, 0).UTC()
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out
}
