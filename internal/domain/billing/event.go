package billing

import (
	"time"

	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Processor event types the reconciler understands. Anything else is
// recorded in the audit trail and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ApplyStatus records how the reconciler disposed of an event
type ApplyStatus string

const (
	// ApplyStatusApplied means the event changed subscription or payment state
	ApplyStatusApplied ApplyStatus = "applied"

	// ApplyStatusIgnored means the event type is unhandled, kept for
	// forward compatibility
	ApplyStatusIgnored ApplyStatus = "ignored"

	// ApplyStatusOrphaned means the event referenced no known subscription
	ApplyStatusOrphaned ApplyStatus = "orphaned"

	// ApplyStatusRejected means the event was malformed or out of order
	ApplyStatusRejected ApplyStatus = "rejected"
)

// String returns the string representation of ApplyStatus
func (s ApplyStatus) String() string {
	return string(s)
}

// SubscriptionEvent is one row of the append-only audit trail. The unique
// constraint on ExternalEventID is the idempotency gate: a redelivered event
// loses the insert race and reads back the stored disposition instead of
// reapplying the transition.
type SubscriptionEvent struct {
	shared.BaseEntity
	ExternalEventID string
	EventType       string
	AccountID       *uuid.UUID // nil when the event could not be matched to an account
	PayloadSnapshot []byte
	ApplyStatus     ApplyStatus
	ApplyMessage    string
	ReceivedAt      time.Time
}

// NewSubscriptionEvent creates an audit row for an inbound processor event
func NewSubscriptionEvent(externalEventID, eventType string, payload []byte) (*SubscriptionEvent, error) {
	if externalEventID == "" {
		return nil, shared.ErrInvalidEvent
	}
	if eventType == "" {
		return nil, shared.ErrInvalidEvent
	}
	return &SubscriptionEvent{
		BaseEntity:      shared.NewBaseEntity(),
		ExternalEventID: externalEventID,
		EventType:       eventType,
		PayloadSnapshot: payload,
		ReceivedAt:      time.Now(),
	}, nil
}

// Disposed marks the event with its final disposition
func (e *SubscriptionEvent) Disposed(status ApplyStatus, message string, accountID *uuid.UUID) {
	e.ApplyStatus = status
	e.ApplyMessage = message
	e.AccountID = accountID
	e.Touch()
}

// ReconcileResult is what Apply returns to the boundary. Duplicate deliveries
// return the original disposition with Duplicate set.
type ReconcileResult struct {
	ExternalEventID string      `json:"external_event_id"`
	EventType       string      `json:"event_type"`
	Status          ApplyStatus `json:"status"`
	Message         string      `json:"message,omitempty"`
	Duplicate       bool        `json:"duplicate"`
}

// ResultFromEvent rebuilds the reconcile result recorded on an audit row
func ResultFromEvent(e *SubscriptionEvent, duplicate bool) ReconcileResult {
	return ReconcileResult{
		ExternalEventID: e.ExternalEventID,
		EventType:       e.EventType,
		Status:          e.ApplyStatus,
		Message:         e.ApplyMessage,
		Duplicate:       duplicate,
	}
}
