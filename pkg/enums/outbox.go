package enums

// OutboxAggregateType is the kind of row an outbox event is keyed on.
type OutboxAggregateType string

const (
	AggregateAccount  OutboxAggregateType = "account"
	AggregateReferral OutboxAggregateType = "referral"
)

// OutboxEventType names a domain event relayed to Pub/Sub.
type OutboxEventType string

const (
	EventSubscriptionActivated  OutboxEventType = "subscription_activated"
	EventSubscriptionRenewed    OutboxEventType = "subscription_renewed"
	EventSubscriptionDowngraded OutboxEventType = "subscription_downgraded"
	EventReferralRewarded       OutboxEventType = "referral_rewarded"
)

var (
	aggregateTypes = map[OutboxAggregateType]struct{}{
		AggregateAccount:  {},
		AggregateReferral: {},
	}
	outboxEventTypes = map[OutboxEventType]struct{}{
		EventSubscriptionActivated:  {},
		EventSubscriptionRenewed:    {},
		EventSubscriptionDowngraded: {},
		EventReferralRewarded:       {},
	}
)

func (a OutboxAggregateType) IsValid() bool {
	_, ok := aggregateTypes[a]
	return ok
}

func (e OutboxEventType) IsValid() bool {
	_, ok := outboxEventTypes[e]
	return ok
}
