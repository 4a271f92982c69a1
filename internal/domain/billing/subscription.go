package billing

import (
	"time"

	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// SubscriptionStatus represents the billing state of a subscription
type SubscriptionStatus string

const (
	// StatusIncomplete is the initial state of a newly created paid subscription,
	// before the first payment confirms
	StatusIncomplete SubscriptionStatus = "incomplete"

	// StatusTrialing indicates an active trial period
	StatusTrialing SubscriptionStatus = "trialing"

	// StatusActive indicates a paid-up subscription
	StatusActive SubscriptionStatus = "active"

	// StatusPastDue indicates a failed renewal payment still within the retry window
	StatusPastDue SubscriptionStatus = "past_due"

	// StatusUnpaid indicates the processor exhausted payment retries
	StatusUnpaid SubscriptionStatus = "unpaid"

	// StatusCanceled is terminal. Reactivation starts a new lifecycle with a
	// new external subscription id, never a transition out of canceled.
	StatusCanceled SubscriptionStatus = "canceled"
)

// String returns the string representation of SubscriptionStatus
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is valid
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue, StatusUnpaid, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal returns true if no transition can leave this status
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCanceled
}

// Subscription is the authoritative record of an account's billing state,
// one row per account. It is mutated only through the transition methods
// below, driven by the event reconciler; request handlers read it only.
type Subscription struct {
	shared.AccountAggregateRoot
	Tier                   Tier
	Status                 SubscriptionStatus
	ExternalSubscriptionID string // empty for free tier
	ExternalCustomerID     string
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
}

// NewFreeSubscription creates the implicit free-tier row for an account
// that has never subscribed
func NewFreeSubscription(accountID uuid.UUID) *Subscription {
	return &Subscription{
		AccountAggregateRoot: shared.NewAccountAggregateRoot(accountID),
		Tier:                 TierFree,
		Status:               StatusActive,
	}
}

// NewPaidSubscription creates an incomplete paid subscription awaiting its
// first payment confirmation
func NewPaidSubscription(accountID uuid.UUID, tier Tier, externalSubscriptionID string) (*Subscription, error) {
	if !tier.IsPaid() {
		return nil, shared.NewDomainError("INVALID_TIER", "Paid subscription requires a paid tier")
	}
	if externalSubscriptionID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Paid subscription requires an external subscription ID")
	}
	return &Subscription{
		AccountAggregateRoot:   shared.NewAccountAggregateRoot(accountID),
		Tier:                   tier,
		Status:                 StatusIncomplete,
		ExternalSubscriptionID: externalSubscriptionID,
	}, nil
}

// IsFree returns true if the subscription is on the free tier
func (s *Subscription) IsFree() bool {
	return s.Tier == TierFree
}

// EffectiveStatus resolves the status as of now. A subscription flagged to
// cancel at period end whose period has elapsed reads as canceled even if
// the deletion event has not arrived yet.
func (s *Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.Status != StatusCanceled && s.CancelAtPeriodEnd &&
		s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd) {
		return StatusCanceled
	}
	return s.Status
}

// EffectiveTier resolves the tier as of now, falling back to free once the
// subscription reads as canceled or unpaid
func (s *Subscription) EffectiveTier(now time.Time) Tier {
	switch s.EffectiveStatus(now) {
	case StatusCanceled, StatusUnpaid:
		return TierFree
	default:
		return s.Tier
	}
}

// Activate transitions to active on a confirmed payment. Legal from
// incomplete (first invoice), trialing, past_due (recovery), and active
// itself (renewal).
func (s *Subscription) Activate(periodEnd time.Time) error {
	switch s.Status {
	case StatusIncomplete, StatusTrialing, StatusPastDue, StatusActive:
		from := s.Status
		s.Status = StatusActive
		s.CurrentPeriodEnd = &periodEnd
		s.Touch()
		s.AddDomainEvent(newStatusChanged(s, DomainEventSubscriptionActivated, from))
		return nil
	default:
		return shared.NewDomainError("INVALID_STATE", "Cannot activate a "+s.Status.String()+" subscription")
	}
}

// MarkPastDue transitions to past_due on a failed renewal payment
func (s *Subscription) MarkPastDue() error {
	switch s.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		from := s.Status
		s.Status = StatusPastDue
		s.Touch()
		s.AddDomainEvent(newStatusChanged(s, DomainEventSubscriptionPastDue, from))
		return nil
	default:
		return shared.NewDomainError("INVALID_STATE", "Cannot mark a "+s.Status.String()+" subscription past due")
	}
}

// MarkUnpaid transitions to unpaid when the processor reports retry exhaustion
func (s *Subscription) MarkUnpaid() error {
	switch s.Status {
	case StatusPastDue, StatusActive, StatusIncomplete:
		from := s.Status
		s.Status = StatusUnpaid
		s.Touch()
		s.AddDomainEvent(newStatusChanged(s, DomainEventSubscriptionUnpaid, from))
		return nil
	default:
		return shared.NewDomainError("INVALID_STATE", "Cannot mark a "+s.Status.String()+" subscription unpaid")
	}
}

// Cancel transitions to the terminal canceled state from any non-canceled state
func (s *Subscription) Cancel() error {
	if s.Status == StatusCanceled {
		return shared.NewDomainError("INVALID_STATE", "Subscription is already canceled")
	}
	from := s.Status
	s.Status = StatusCanceled
	s.CancelAtPeriodEnd = false
	s.Touch()
	s.AddDomainEvent(newStatusChanged(s, DomainEventSubscriptionCanceled, from))
	return nil
}

// ScheduleCancellation flags the subscription to lapse at the end of the
// current period instead of immediately
func (s *Subscription) ScheduleCancellation() error {
	if s.Status == StatusCanceled {
		return shared.NewDomainError("INVALID_STATE", "Subscription is already canceled")
	}
	s.CancelAtPeriodEnd = true
	s.Touch()
	return nil
}

// ChangeTier updates the tier, used when the processor reports a plan change
func (s *Subscription) ChangeTier(tier Tier) error {
	if !tier.IsValid() {
		return shared.NewDomainError("INVALID_TIER", "Invalid subscription tier")
	}
	if s.Status == StatusCanceled {
		return shared.NewDomainError("INVALID_STATE", "Cannot change tier of a canceled subscription")
	}
	from := s.Tier
	s.Tier = tier
	s.Touch()
	if from != tier {
		s.AddDomainEvent(newTierChanged(s, from))
	}
	return nil
}

// AttachExternal binds the subscription to a processor subscription and
// customer, replacing the free-tier placeholder identifiers
func (s *Subscription) AttachExternal(subscriptionID, customerID string) {
	s.ExternalSubscriptionID = subscriptionID
	s.ExternalCustomerID = customerID
	s.Touch()
}
