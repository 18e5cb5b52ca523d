package enums

import (
	"fmt"
	"strings"
)

// SubscriptionTier is the plan an account is billed on.
type SubscriptionTier string

const (
	SubscriptionTierFree    SubscriptionTier = "FREE"
	SubscriptionTierPro     SubscriptionTier = "PRO"
	SubscriptionTierPremium SubscriptionTier = "PREMIUM"
)

var validSubscriptionTiers = []SubscriptionTier{
	SubscriptionTierFree,
	SubscriptionTierPro,
	SubscriptionTierPremium,
}

// String implements fmt.Stringer.
func (t SubscriptionTier) String() string {
	return string(t)
}

// IsValid reports whether the value is a known tier.
func (t SubscriptionTier) IsValid() bool {
	for _, candidate := range validSubscriptionTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsPaid reports whether the tier is billed through the payment provider.
func (t SubscriptionTier) IsPaid() bool {
	return t == SubscriptionTierPro || t == SubscriptionTierPremium
}

// ParseSubscriptionTier converts raw input (case-insensitive) into a SubscriptionTier.
func ParseSubscriptionTier(value string) (SubscriptionTier, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validSubscriptionTiers {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription tier %q", value)
}
