package billing

import (
	"github.com/chatcpg/backend/internal/domain/shared"
)

// Domain event types recorded by subscription transitions
const (
	DomainEventSubscriptionActivated  = "billing.subscription.activated"
	DomainEventSubscriptionPastDue    = "billing.subscription.past_due"
	DomainEventSubscriptionUnpaid     = "billing.subscription.unpaid"
	DomainEventSubscriptionCanceled   = "billing.subscription.canceled"
	DomainEventSubscriptionTierChange = "billing.subscription.tier_changed"
)

const subscriptionAggregateType = "subscription"

// SubscriptionStatusChanged records one state machine transition. The
// reconciler drains and publishes these after the mutation commits.
type SubscriptionStatusChanged struct {
	shared.BaseDomainEvent
	From SubscriptionStatus
	To   SubscriptionStatus
}

func newStatusChanged(sub *Subscription, eventType string, from SubscriptionStatus) *SubscriptionStatusChanged {
	return &SubscriptionStatusChanged{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, subscriptionAggregateType, sub.ID, sub.AccountID),
		From:            from,
		To:              sub.Status,
	}
}

// SubscriptionTierChanged records a plan change reported by the processor
type SubscriptionTierChanged struct {
	shared.BaseDomainEvent
	From Tier
	To   Tier
}

func newTierChanged(sub *Subscription, from Tier) *SubscriptionTierChanged {
	return &SubscriptionTierChanged{
		BaseDomainEvent: shared.NewBaseDomainEvent(DomainEventSubscriptionTierChange, subscriptionAggregateType, sub.ID, sub.AccountID),
		From:            from,
		To:              sub.Tier,
	}
}
