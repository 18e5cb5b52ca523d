package enums

import "fmt"

// CreditTransactionType classifies a ledger entry.
type CreditTransactionType string

const (
	CreditTransactionInitial             CreditTransactionType = "initial"
	CreditTransactionSignup              CreditTransactionType = "signup"
	CreditTransactionUsage               CreditTransactionType = "usage"
	CreditTransactionReferral            CreditTransactionType = "referral"
	CreditTransactionSubscription        CreditTransactionType = "subscription"
	CreditTransactionSubscriptionRenewal CreditTransactionType = "subscription_renewal"
	CreditTransactionMonthlyRefresh      CreditTransactionType = "monthly_refresh"
	CreditTransactionAdmin               CreditTransactionType = "admin"
	CreditTransactionDowngrade           CreditTransactionType = "downgrade"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionInitial,
	CreditTransactionSignup,
	CreditTransactionUsage,
	CreditTransactionReferral,
	CreditTransactionSubscription,
	CreditTransactionSubscriptionRenewal,
	CreditTransactionMonthlyRefresh,
	CreditTransactionAdmin,
	CreditTransactionDowngrade,
}

// String implements fmt.Stringer.
func (t CreditTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known transaction type.
func (t CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditTransactionType converts raw input into a CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
