package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/face10ai/credits-backend/pkg/enums"
)

const renewalBillingReason = "subscription_cycle"

// Event is a decoded provider webhook. Exactly one of the concrete types below.
type Event interface {
	Kind() string
}

// CheckoutCompleted starts a paid subscription.
type CheckoutCompleted struct {
	SessionID      string
	AccountID      uuid.UUID
	Tier           enums.SubscriptionTier
	Period         enums.BillingPeriod
	CustomerID     string
	SubscriptionID string
}

// InvoicePaid is a successful invoice; only cycle invoices renew credits.
type InvoicePaid struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	BillingReason  string
}

// IsRenewal reports whether the invoice closes a billing cycle.
func (e InvoicePaid) IsRenewal() bool { return e.BillingReason == renewalBillingReason }

// SubscriptionUpdated mirrors provider status and scheduled end.
type SubscriptionUpdated struct {
	SubscriptionID    string
	CustomerID        string
	Status            enums.SubscriptionStatus
	CancelAt          *time.Time
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// EndDate is the date the subscription stops, when one is scheduled.
func (e SubscriptionUpdated) EndDate() *time.Time {
	if e.CancelAt != nil {
		return e.CancelAt
	}
	if e.CancelAtPeriodEnd {
		return e.CurrentPeriodEnd
	}
	return nil
}

// SubscriptionDeleted ends a subscription and returns the account to FREE.
type SubscriptionDeleted struct {
	SubscriptionID string
	CustomerID     string
}

// Unhandled is any event type the reconciler ignores.
type Unhandled struct {
	Type string
}

func (CheckoutCompleted) Kind() string   { return string(stripe.EventTypeCheckoutSessionCompleted) }
func (InvoicePaid) Kind() string         { return string(stripe.EventTypeInvoicePaymentSucceeded) }
func (SubscriptionUpdated) Kind() string { return string(stripe.EventTypeCustomerSubscriptionUpdated) }
func (SubscriptionDeleted) Kind() string { return string(stripe.EventTypeCustomerSubscriptionDeleted) }
func (u Unhandled) Kind() string         { return u.Type }

type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          json.RawMessage   `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID            string          `json:"id"`
	Customer      json.RawMessage `json:"customer"`
	BillingReason string          `json:"billing_reason"`
	Subscription  json.RawMessage `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type subscriptionPayload struct {
	ID                string          `json:"id"`
	Customer          json.RawMessage `json:"customer"`
	Status            string          `json:"status"`
	CancelAt          int64           `json:"cancel_at"`
	CancelAtPeriodEnd bool            `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64           `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// DecodeEvent turns a verified provider event into one of the Event variants.
// Malformed payloads of handled types are errors; unknown types are Unhandled.
func DecodeEvent(event stripe.Event) (Event, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	raw := event.Data.Raw

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var p checkoutSessionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return decodeCheckout(p), nil

	case stripe.EventTypeInvoicePaymentSucceeded:
		var p invoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		subID := objectID(p.Subscription)
		if subID == "" && p.Parent != nil && p.Parent.SubscriptionDetails != nil {
			subID = objectID(p.Parent.SubscriptionDetails.Subscription)
		}
		return InvoicePaid{
			InvoiceID:      p.ID,
			CustomerID:     objectID(p.Customer),
			SubscriptionID: subID,
			BillingReason:  p.BillingReason,
		}, nil

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var p subscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		status, err := enums.ParseSubscriptionStatus(p.Status)
		if err != nil {
			return nil, err
		}
		periodEnd := p.CurrentPeriodEnd
		if len(p.Items.Data) > 0 && p.Items.Data[0].CurrentPeriodEnd > 0 {
			periodEnd = p.Items.Data[0].CurrentPeriodEnd
		}
		return SubscriptionUpdated{
			SubscriptionID:    p.ID,
			CustomerID:        objectID(p.Customer),
			Status:            status,
			CancelAt:          unixTime(p.CancelAt),
			CancelAtPeriodEnd: p.CancelAtPeriodEnd,
			CurrentPeriodEnd:  unixTime(periodEnd),
		}, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var p subscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return SubscriptionDeleted{SubscriptionID: p.ID, CustomerID: objectID(p.Customer)}, nil
	}

	return Unhandled{Type: string(event.Type)}, nil
}

// decodeCheckout reads the account from metadata, falling back to the
// client reference. Missing or invalid values are left zero for the reconciler to drop.
func decodeCheckout(p checkoutSessionPayload) CheckoutCompleted {
	out := CheckoutCompleted{
		SessionID:      p.ID,
		CustomerID:     objectID(p.Customer),
		SubscriptionID: objectID(p.Subscription),
		Period:         enums.BillingPeriodMonthly,
	}
	rawAccount := strings.TrimSpace(p.Metadata["userId"])
	if rawAccount == "" {
		rawAccount = strings.TrimSpace(p.ClientReferenceID)
	}
	if id, err := uuid.Parse(rawAccount); err == nil {
		out.AccountID = id
	}
	if tier, err := enums.ParseSubscriptionTier(p.Metadata["tier"]); err == nil {
		out.Tier = tier
	}
	if period, err := enums.ParseBillingPeriod(p.Metadata["billingPeriod"]); err == nil {
		out.Period = period
	}
	return out
}

// objectID accepts either an id string or an expanded object carrying "id".
func objectID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
