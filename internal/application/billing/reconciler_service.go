package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// ReconcilerService applies verified payment-processor events to the
// subscription state machine and the payment ledger, exactly once per
// external event id. It is the only writer of Subscription rows.
type ReconcilerService struct {
	eventRepo        billing.SubscriptionEventRepository
	subscriptionRepo billing.SubscriptionRepository
	paymentRepo      billing.PaymentRecordRepository
	idempotency      shared.IdempotencyStore // optional fast path, may be nil
	idempotencyTTL   time.Duration
	logger           *zap.Logger
}

// NewReconcilerService creates a new ReconcilerService. The idempotency
// store is an optional cache in front of the database gate and may be nil;
// the unique constraint on external_event_id stays authoritative either way.
func NewReconcilerService(
	eventRepo billing.SubscriptionEventRepository,
	subscriptionRepo billing.SubscriptionRepository,
	paymentRepo billing.PaymentRecordRepository,
	idempotency shared.IdempotencyStore,
	logger *zap.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		eventRepo:        eventRepo,
		subscriptionRepo: subscriptionRepo,
		paymentRepo:      paymentRepo,
		idempotency:      idempotency,
		idempotencyTTL:   shared.DefaultIdempotencyConfig().TTL,
		logger:           logger,
	}
}

// Apply reconciles one verified processor event. Redelivered events return
// the originally recorded result without reapplying the transition; a
// malformed event is recorded as rejected and reported via the result, not
// as an error, so the webhook boundary can still acknowledge receipt.
func (s *ReconcilerService) Apply(ctx context.Context, event stripe.Event) (*billing.ReconcileResult, error) {
	if s.idempotency != nil {
		processed, err := s.idempotency.IsProcessed(ctx, event.ID)
		if err != nil {
			s.logger.Warn("Idempotency store check failed, falling through to database gate",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else if processed {
			stored, err := s.eventRepo.FindByExternalID(ctx, event.ID)
			if err == nil {
				result := billing.ResultFromEvent(stored, true)
				return &result, nil
			}
			// Cache says processed but the row is missing; trust the database
		}
	}

	audit, err := billing.NewSubscriptionEvent(event.ID, string(event.Type), event.Data.Raw)
	if err != nil {
		// No usable identity means no audit row to key, so the event cannot be
		// recorded. Report it rejected rather than erroring: a 5xx would make
		// the processor redeliver a payload that can never apply.
		s.logger.Warn("Rejecting event without id or type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return &billing.ReconcileResult{
			ExternalEventID: event.ID,
			EventType:       string(event.Type),
			Status:          billing.ApplyStatusRejected,
			Message:         "event is missing its id or type",
		}, nil
	}

	stored, inserted, err := s.eventRepo.InsertIfAbsent(ctx, audit)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.logger.Info("Duplicate event delivery, returning recorded result",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("status", stored.ApplyStatus.String()))
		result := billing.ResultFromEvent(stored, true)
		return &result, nil
	}

	status, message, accountID := s.dispatch(ctx, event)

	audit.Disposed(status, message, accountID)
	if err := s.eventRepo.UpdateDisposition(ctx, audit); err != nil {
		s.logger.Error("Failed to record event disposition",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}

	if s.idempotency != nil {
		if _, err := s.idempotency.MarkProcessed(ctx, event.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to mark event in idempotency store",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	if status == billing.ApplyStatusRejected {
		s.logger.Warn("Processor event rejected",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("reason", message))
	}

	result := billing.ResultFromEvent(audit, false)
	return &result, nil
}

// PaymentHistory returns the payment ledger for an account, ordered per the
// caller's sort spec, newest first by default
func (s *ReconcilerService) PaymentHistory(ctx context.Context, accountID uuid.UUID, sort billing.SortSpec, limit int) ([]*billing.PaymentRecord, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}
	return s.paymentRepo.ListByAccount(ctx, accountID, sort, limit)
}

// RecentEvents returns the newest audit rows for operator inspection
func (s *ReconcilerService) RecentEvents(ctx context.Context, limit int) ([]*billing.SubscriptionEvent, error) {
	return s.eventRepo.ListRecent(ctx, limit)
}

// publishDomainEvents drains the transition events an aggregate recorded
// during a locked mutation and publishes them to the log stream. Draining
// inside the mutation keeps redeliveries from ever double-publishing.
func (s *ReconcilerService) publishDomainEvents(sub *billing.Subscription) {
	for _, ev := range sub.GetDomainEvents() {
		s.logger.Info("Domain event",
			zap.String("domain_event_id", ev.EventID().String()),
			zap.String("domain_event_type", ev.EventType()),
			zap.String("aggregate_type", ev.AggregateType()),
			zap.String("aggregate_id", ev.AggregateID().String()),
			zap.String("account_id", ev.AccountID().String()),
			zap.Time("occurred_at", ev.OccurredAt()))
	}
	sub.ClearDomainEvents()
}

// dispatch routes one event to its handler and converts the outcome into
// an audit disposition. It never returns an error: failures become
// rejected or orphaned dispositions.
func (s *ReconcilerService) dispatch(ctx context.Context, event stripe.Event) (billing.ApplyStatus, string, *uuid.UUID) {
	switch string(event.Type) {
	case billing.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case billing.EventPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, event)
	case billing.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, event)
	case billing.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		s.logger.Debug("Unhandled event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return billing.ApplyStatusIgnored, "Event type not handled", nil
	}
}

// handleCheckoutCompleted binds a finished checkout to its account and
// activates the paid subscription. The account id travels in the session's
// client_reference_id, set by BeginCheckout.
func (s *ReconcilerService) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (billing.ApplyStatus, string, *uuid.UUID) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return billing.ApplyStatusRejected, "Malformed checkout session payload", nil
	}

	accountID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return billing.ApplyStatusRejected, "Checkout session has no usable client reference", nil
	}

	externalSubscriptionID := ""
	if session.Subscription != nil {
		externalSubscriptionID = session.Subscription.ID
	}
	if externalSubscriptionID == "" {
		return billing.ApplyStatusRejected, "Checkout session has no subscription reference", &accountID
	}

	externalCustomerID := ""
	if session.Customer != nil {
		externalCustomerID = session.Customer.ID
	}

	tier, err := billing.ParseTier(session.Metadata["tier"])
	if err != nil || !tier.IsPaid() {
		return billing.ApplyStatusRejected, "Checkout session has no valid paid tier", &accountID
	}

	if err := s.ensureSubscriptionRow(ctx, accountID); err != nil {
		return billing.ApplyStatusRejected, "Failed to prepare subscription row: " + err.Error(), &accountID
	}

	err = s.subscriptionRepo.WithAccountLock(ctx, accountID, func(ctx context.Context, sub *billing.Subscription) error {
		if sub.Status == billing.StatusCanceled {
			// Reactivation is a new lifecycle, never a transition out of canceled
			return shared.NewDomainError("INVALID_STATE", "Subscription is canceled; checkout must create a new lifecycle")
		}
		if err := sub.ChangeTier(tier); err != nil {
			return err
		}
		sub.AttachExternal(externalSubscriptionID, externalCustomerID)
		// Provisional period end until the subscription.updated event arrives
		if err := sub.Activate(time.Now().AddDate(0, 1, 0)); err != nil {
			return err
		}
		s.publishDomainEvents(sub)
		return nil
	})
	if err != nil {
		return billing.ApplyStatusRejected, err.Error(), &accountID
	}

	s.logger.Info("Checkout completed, subscription activated",
		zap.String("account_id", accountID.String()),
		zap.String("subscription_id", externalSubscriptionID),
		zap.String("tier", tier.String()))
	return billing.ApplyStatusApplied, "Subscription activated", &accountID
}

// handlePaymentSucceeded records the payment and activates the subscription,
// covering both the first invoice and renewals including past_due recovery
func (s *ReconcilerService) handlePaymentSucceeded(ctx context.Context, event stripe.Event) (billing.ApplyStatus, string, *uuid.UUID) {
	invoice, status, message := s.parseInvoice(event)
	if invoice == nil {
		return status, message, nil
	}

	sub, found := s.locateSubscription(ctx, invoice)
	if !found {
		s.logger.Warn("Payment succeeded for unknown subscription",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", invoice.ID))
		return billing.ApplyStatusOrphaned, "No subscription matches the invoice", nil
	}
	accountID := sub.AccountID

	if status, message, ok := s.recordPayment(ctx, invoice, accountID, billing.PaymentStatusSucceeded); !ok {
		return status, message, &accountID
	}

	periodEnd := time.Unix(invoice.PeriodEnd, 0)
	if invoice.PeriodEnd <= 0 {
		periodEnd = time.Now().AddDate(0, 1, 0)
	}

	err := s.subscriptionRepo.WithAccountLock(ctx, accountID, func(ctx context.Context, sub *billing.Subscription) error {
		if err := sub.Activate(periodEnd); err != nil {
			return err
		}
		s.publishDomainEvents(sub)
		return nil
	})
	if err != nil {
		return billing.ApplyStatusRejected, err.Error(), &accountID
	}

	s.logger.Info("Payment succeeded, subscription active",
		zap.String("account_id", accountID.String()),
		zap.String("invoice_id", invoice.ID))
	return billing.ApplyStatusApplied, "Payment recorded, subscription active", &accountID
}

// handlePaymentFailed records the failed payment and marks the subscription
// past due. A failed event arriving after the same payment already succeeded
// is an out-of-order anomaly: recorded, never applied.
func (s *ReconcilerService) handlePaymentFailed(ctx context.Context, event stripe.Event) (billing.ApplyStatus, string, *uuid.UUID) {
	invoice, status, message := s.parseInvoice(event)
	if invoice == nil {
		return status, message, nil
	}

	sub, found := s.locateSubscription(ctx, invoice)
	if !found {
		s.logger.Warn("Payment failed for unknown subscription",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", invoice.ID))
		return billing.ApplyStatusOrphaned, "No subscription matches the invoice", nil
	}
	accountID := sub.AccountID

	if status, message, ok := s.recordPayment(ctx, invoice, accountID, billing.PaymentStatusFailed); !ok {
		return status, message, &accountID
	}

	err := s.subscriptionRepo.WithAccountLock(ctx, accountID, func(ctx context.Context, sub *billing.Subscription) error {
		if err := sub.MarkPastDue(); err != nil {
			return err
		}
		s.publishDomainEvents(sub)
		return nil
	})
	if err != nil {
		return billing.ApplyStatusRejected, err.Error(), &accountID
	}

	s.logger.Warn("Payment failed, subscription past due",
		zap.String("account_id", accountID.String()),
		zap.String("invoice_id", invoice.ID))
	return billing.ApplyStatusApplied, "Payment failure recorded, subscription past due", &accountID
}

// handleSubscriptionUpdated syncs tier, status, period end, and the
// cancel-at-period-end flag from the processor's view of the subscription
func (s *ReconcilerService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) (billing.ApplyStatus, string, *uuid.UUID) {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil || remote.ID == "" {
		return billing.ApplyStatusRejected, "Malformed subscription payload", nil
	}

	sub, err := s.subscriptionRepo.FindByExternalID(ctx, remote.ID)
	if err == shared.ErrNotFound && remote.Customer != nil && remote.Customer.ID != "" {
		sub, err = s.subscriptionRepo.FindByExternalCustomerID(ctx, remote.Customer.ID)
	}
	if err != nil {
		if err == shared.ErrNotFound {
			s.logger.Warn("Subscription update for unknown subscription",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", remote.ID))
			return billing.ApplyStatusOrphaned, "No subscription matches the external id", nil
		}
		return billing.ApplyStatusRejected, err.Error(), nil
	}
	accountID := sub.AccountID

	err = s.subscriptionRepo.WithAccountLock(ctx, accountID, func(ctx context.Context, sub *billing.Subscription) error {
		if tier, err := billing.ParseTier(remote.Metadata["tier"]); err == nil && tier != sub.Tier {
			if err := sub.ChangeTier(tier); err != nil {
				return err
			}
		}
		sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
		if err := s.applyProcessorStatus(sub, &remote); err != nil {
			return err
		}
		s.publishDomainEvents(sub)
		return nil
	})
	if err != nil {
		return billing.ApplyStatusRejected, err.Error(), &accountID
	}

	return billing.ApplyStatusApplied, "Subscription synced with processor state", &accountID
}

// handleSubscriptionDeleted drives the subscription to its terminal state
func (s *ReconcilerService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (billing.ApplyStatus, string, *uuid.UUID) {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil || remote.ID == "" {
		return billing.ApplyStatusRejected, "Malformed subscription payload", nil
	}

	sub, err := s.subscriptionRepo.FindByExternalID(ctx, remote.ID)
	if err != nil {
		if err == shared.ErrNotFound {
			s.logger.Warn("Subscription deletion for unknown subscription",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", remote.ID))
			return billing.ApplyStatusOrphaned, "No subscription matches the external id", nil
		}
		return billing.ApplyStatusRejected, err.Error(), nil
	}
	accountID := sub.AccountID

	err = s.subscriptionRepo.WithAccountLock(ctx, accountID, func(ctx context.Context, sub *billing.Subscription) error {
		if err := sub.Cancel(); err != nil {
			return err
		}
		s.publishDomainEvents(sub)
		return nil
	})
	if err != nil {
		return billing.ApplyStatusRejected, err.Error(), &accountID
	}

	s.logger.Info("Subscription canceled",
		zap.String("account_id", accountID.String()),
		zap.String("subscription_id", remote.ID))
	return billing.ApplyStatusApplied, "Subscription canceled", &accountID
}

// parseInvoice unmarshals an invoice-bearing event. A nil invoice return
// carries the rejection disposition.
func (s *ReconcilerService) parseInvoice(event stripe.Event) (*stripe.Invoice, billing.ApplyStatus, string) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil || invoice.ID == "" {
		return nil, billing.ApplyStatusRejected, "Malformed invoice payload"
	}
	return &invoice, "", ""
}

// locateSubscription resolves the invoice's subscription by external
// subscription id, falling back to the customer id
func (s *ReconcilerService) locateSubscription(ctx context.Context, invoice *stripe.Invoice) (*billing.Subscription, bool) {
	if invoice.Subscription != nil && invoice.Subscription.ID != "" {
		if sub, err := s.subscriptionRepo.FindByExternalID(ctx, invoice.Subscription.ID); err == nil {
			return sub, true
		}
	}
	if invoice.Customer != nil && invoice.Customer.ID != "" {
		if sub, err := s.subscriptionRepo.FindByExternalCustomerID(ctx, invoice.Customer.ID); err == nil {
			return sub, true
		}
	}
	return nil, false
}

// recordPayment upserts the ledger row for the invoice. The unique
// constraint on external_payment_id absorbs redeliveries; an illegal status
// transition on the stored row reports ok=false with the anomaly recorded.
func (s *ReconcilerService) recordPayment(ctx context.Context, invoice *stripe.Invoice, accountID uuid.UUID, status billing.PaymentStatus) (billing.ApplyStatus, string, bool) {
	amount := decimal.NewFromInt(invoice.AmountDue).Div(decimal.NewFromInt(100))
	if status == billing.PaymentStatusSucceeded {
		amount = decimal.NewFromInt(invoice.AmountPaid).Div(decimal.NewFromInt(100))
	}

	occurredAt := time.Unix(invoice.Created, 0)
	if invoice.Created <= 0 {
		occurredAt = time.Now()
	}

	record, err := billing.NewPaymentRecord(accountID, invoice.ID, amount, string(invoice.Currency), status, occurredAt)
	if err != nil {
		return billing.ApplyStatusRejected, err.Error(), false
	}

	if _, _, err := s.paymentRepo.Upsert(ctx, record); err != nil {
		if domainErr, ok := err.(*shared.DomainError); ok {
			s.logger.Warn("Out-of-order payment event recorded but not applied",
				zap.String("payment_id", invoice.ID),
				zap.String("reason", domainErr.Message))
			return billing.ApplyStatusRejected, domainErr.Message, false
		}
		return billing.ApplyStatusRejected, err.Error(), false
	}
	return "", "", true
}

// applyProcessorStatus maps the processor's subscription status onto the
// local state machine
func (s *ReconcilerService) applyProcessorStatus(sub *billing.Subscription, remote *stripe.Subscription) error {
	var periodEnd time.Time
	if remote.CurrentPeriodEnd > 0 {
		periodEnd = time.Unix(remote.CurrentPeriodEnd, 0)
	} else if sub.CurrentPeriodEnd != nil {
		periodEnd = *sub.CurrentPeriodEnd
	} else {
		periodEnd = time.Now().AddDate(0, 1, 0)
	}

	switch remote.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return sub.Activate(periodEnd)
	case stripe.SubscriptionStatusPastDue:
		return sub.MarkPastDue()
	case stripe.SubscriptionStatusUnpaid:
		return sub.MarkUnpaid()
	case stripe.SubscriptionStatusCanceled:
		return sub.Cancel()
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
		// Nothing to apply; the subscription stays where it is until
		// payment confirms or the processor deletes it
		sub.CurrentPeriodEnd = &periodEnd
		return nil
	default:
		return shared.NewDomainError("INVALID_EVENT", "Unrecognized processor subscription status: "+string(remote.Status))
	}
}

// ensureSubscriptionRow guarantees an account has a subscription row to
// lock, creating the free-tier placeholder when this is the account's first
// billing interaction. The unique constraint on account_id absorbs the race
// between two concurrent first events.
func (s *ReconcilerService) ensureSubscriptionRow(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.subscriptionRepo.FindByAccount(ctx, accountID)
	if err == nil {
		return nil
	}
	if err != shared.ErrNotFound {
		return err
	}
	if err := s.subscriptionRepo.Save(ctx, billing.NewFreeSubscription(accountID)); err != nil && err != shared.ErrAlreadyExists {
		return err
	}
	return nil
}
