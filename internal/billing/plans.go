package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/enums"
)

// Plan describes a tier as sold on the pricing page.
type Plan struct {
	Tier         enums.SubscriptionTier `json:"tier"`
	Name         string                 `json:"name"`
	Credits      int                    `json:"credits"`
	MonthlyPrice decimal.Decimal        `json:"monthly_price"`
	ListPrice    decimal.Decimal        `json:"list_price"`
	Currency     string                 `json:"currency"`
}

// Discount returns the percentage saved against the list price, rounded to the unit.
func (p Plan) Discount() decimal.Decimal {
	if p.ListPrice.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).
		Sub(p.MonthlyPrice.Div(p.ListPrice)).
		Mul(decimal.NewFromInt(100)).
		Round(0)
}

// Plans lists the tiers in display order.
func Plans() []Plan {
	return []Plan{
		{
			Tier:         enums.SubscriptionTierFree,
			Name:         "Gratuit",
			Credits:      credits.Allotment(enums.SubscriptionTierFree),
			MonthlyPrice: decimal.Zero,
			ListPrice:    decimal.Zero,
			Currency:     "EUR",
		},
		{
			Tier:         enums.SubscriptionTierPro,
			Name:         "Pro",
			Credits:      credits.Allotment(enums.SubscriptionTierPro),
			MonthlyPrice: decimal.RequireFromString("6.99"),
			ListPrice:    decimal.RequireFromString("9.99"),
			Currency:     "EUR",
		},
		{
			Tier:         enums.SubscriptionTierPremium,
			Name:         "Premium",
			Credits:      credits.Allotment(enums.SubscriptionTierPremium),
			MonthlyPrice: decimal.RequireFromString("13.99"),
			ListPrice:    decimal.RequireFromString("19.99"),
			Currency:     "EUR",
		},
	}
}

// PriceCatalog maps tiers and billing periods to provider price ids.
type PriceCatalog struct {
	prices map[enums.SubscriptionTier]map[enums.BillingPeriod]string
}

func NewPriceCatalog(cfg config.StripeConfig) PriceCatalog {
	return PriceCatalog{prices: map[enums.SubscriptionTier]map[enums.BillingPeriod]string{
		enums.SubscriptionTierPro: {
			enums.BillingPeriodMonthly: strings.TrimSpace(cfg.ProPriceID),
			enums.BillingPeriodAnnual:  strings.TrimSpace(cfg.ProAnnualPriceID),
		},
		enums.SubscriptionTierPremium: {
			enums.BillingPeriodMonthly: strings.TrimSpace(cfg.PremiumPriceID),
			enums.BillingPeriodAnnual:  strings.TrimSpace(cfg.PremiumAnnualPriceID),
		},
	}}
}

// PriceID returns the configured price for a paid tier and period.
func (c PriceCatalog) PriceID(tier enums.SubscriptionTier, period enums.BillingPeriod) (string, error) {
	byPeriod, ok := c.prices[tier]
	if !ok {
		return "", fmt.Errorf("tier %q cannot be purchased", tier)
	}
	id := byPeriod[period]
	if id == "" {
		return "", fmt.Errorf("no price configured for %s %s", tier, period)
	}
	return id, nil
}

// TierForPrice resolves a price id. Unknown ids fall back to PRO with known=false.
func (c PriceCatalog) TierForPrice(priceID string) (tier enums.SubscriptionTier, known bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID != "" {
		for t, byPeriod := range c.prices {
			for _, id := range byPeriod {
				if id == priceID {
					return t, true
				}
			}
		}
	}
	return enums.SubscriptionTierPro, false
}
