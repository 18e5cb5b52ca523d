package enums

import "fmt"

// SubscriptionStatus is the provider's subscription state, stored verbatim.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

type statusTraits struct {
	// terminal statuses never become active again on the same subscription
	terminal bool
	// provider still expects payment for the current period
	billing bool
}

var subscriptionStatusTraits = map[SubscriptionStatus]statusTraits{
	SubscriptionStatusTrialing:          {billing: true},
	SubscriptionStatusActive:            {billing: true},
	SubscriptionStatusPastDue:           {billing: true},
	SubscriptionStatusCanceled:          {terminal: true},
	SubscriptionStatusIncomplete:        {},
	SubscriptionStatusIncompleteExpired: {terminal: true},
	SubscriptionStatusUnpaid:            {},
	SubscriptionStatusPaused:            {},
}

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool {
	_, ok := subscriptionStatusTraits[s]
	return ok
}

// IsTerminal reports whether the subscription can no longer renew.
func (s SubscriptionStatus) IsTerminal() bool {
	return subscriptionStatusTraits[s].terminal
}

// IsBilling reports whether the provider is still collecting for the subscription.
func (s SubscriptionStatus) IsBilling() bool {
	return subscriptionStatusTraits[s].billing
}

func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid subscription status %q", value)
	}
	return s, nil
}
