package credits

import "github.com/face10ai/credits-backend/pkg/enums"

// Credits granted per billing period for each tier.
const (
	FreeAllotment    = 5
	ProAllotment     = 25
	PremiumAllotment = 50
)

// Allotment returns the fixed per-period credit allotment for tier.
func Allotment(tier enums.SubscriptionTier) int {
	switch tier {
	case enums.SubscriptionTierPro:
		return ProAllotment
	case enums.SubscriptionTierPremium:
		return PremiumAllotment
	default:
		return FreeAllotment
	}
}
