package enums

import (
	"fmt"
	"strings"
	"time"
)

// BillingPeriod defines how often a paid plan renews.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodAnnual  BillingPeriod = "annual"
)

var validBillingPeriods = []BillingPeriod{
	BillingPeriodMonthly,
	BillingPeriodAnnual,
}

// String implements fmt.Stringer.
func (b BillingPeriod) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingPeriod.
func (b BillingPeriod) IsValid() bool {
	for _, candidate := range validBillingPeriods {
		if candidate == b {
			return true
		}
	}
	return false
}

// Advance returns t moved forward by one period. Unknown periods advance monthly.
func (b BillingPeriod) Advance(t time.Time) time.Time {
	if b == BillingPeriodAnnual {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// ParseBillingPeriod converts raw input into a BillingPeriod.
func ParseBillingPeriod(value string) (BillingPeriod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validBillingPeriods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period %q", value)
}

// BillingPeriodFromInterval maps a provider price interval (month, year) to a BillingPeriod.
func BillingPeriodFromInterval(interval string) BillingPeriod {
	if strings.EqualFold(strings.TrimSpace(interval), "year") {
		return BillingPeriodAnnual
	}
	return BillingPeriodMonthly
}
