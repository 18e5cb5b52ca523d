package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/enums"
)

func testCatalog() PriceCatalog {
	return NewPriceCatalog(config.StripeConfig{
		ProPriceID:           "price_pro_m",
		ProAnnualPriceID:     "price_pro_y",
		PremiumPriceID:       "price_premium_m",
		PremiumAnnualPriceID: "price_premium_y",
	})
}

func TestPlansCarryAllotmentsAndDiscounts(t *testing.T) {
	plans := Plans()
	require.Len(t, plans, 3)

	assert.Equal(t, enums.SubscriptionTierFree, plans[0].Tier)
	assert.Equal(t, 5, plans[0].Credits)
	assert.True(t, plans[0].Discount().IsZero())

	assert.Equal(t, 25, plans[1].Credits)
	assert.Equal(t, "30", plans[1].Discount().String())
	assert.Equal(t, 50, plans[2].Credits)
	assert.Equal(t, "30", plans[2].Discount().String())
}

func TestPriceCatalogLookups(t *testing.T) {
	catalog := testCatalog()

	id, err := catalog.PriceID(enums.SubscriptionTierPremium, enums.BillingPeriodAnnual)
	require.NoError(t, err)
	assert.Equal(t, "price_premium_y", id)

	_, err = catalog.PriceID(enums.SubscriptionTierFree, enums.BillingPeriodMonthly)
	require.Error(t, err)

	_, err = NewPriceCatalog(config.StripeConfig{}).PriceID(enums.SubscriptionTierPro, enums.BillingPeriodMonthly)
	require.Error(t, err)

	tier, known := catalog.TierForPrice("price_premium_m")
	assert.True(t, known)
	assert.Equal(t, enums.SubscriptionTierPremium, tier)

	tier, known = catalog.TierForPrice("price_legacy")
	assert.False(t, known)
	assert.Equal(t, enums.SubscriptionTierPro, tier)
}
