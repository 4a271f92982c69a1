package billing

import (
	"context"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutParams describes a checkout session request to the processor
type CheckoutParams struct {
	AccountID uuid.UUID
	Tier      billing.Tier
	Period    billing.BillingPeriod
}

// CheckoutSessionDTO is the processor's checkout reference handed back to
// the caller for redirection
type CheckoutSessionDTO struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalSessionDTO is the processor's billing portal reference
type PortalSessionDTO struct {
	URL string `json:"url"`
}

// PaymentGateway abstracts the processor operations the checkout flow needs
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSessionDTO, error)
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSessionDTO, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}

// CheckoutService passes checkout and portal initiation through to the
// payment processor. It never mutates Subscription rows; only the
// reconciler does, once the processor confirms.
type CheckoutService struct {
	gateway          PaymentGateway
	planRepo         billing.SubscriptionPlanRepository
	subscriptionRepo billing.SubscriptionRepository
	logger           *zap.Logger
}

// NewCheckoutService creates a new CheckoutService
func NewCheckoutService(
	gateway PaymentGateway,
	planRepo billing.SubscriptionPlanRepository,
	subscriptionRepo billing.SubscriptionRepository,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		gateway:          gateway,
		planRepo:         planRepo,
		subscriptionRepo: subscriptionRepo,
		logger:           logger,
	}
}

// ListPlans returns the seeded plan catalog
func (s *CheckoutService) ListPlans(ctx context.Context) ([]*billing.SubscriptionPlan, error) {
	return s.planRepo.FindAll(ctx)
}

// BeginCheckout opens a checkout session for upgrading the account to a
// paid tier
func (s *CheckoutService) BeginCheckout(ctx context.Context, accountID uuid.UUID, tier billing.Tier, period billing.BillingPeriod) (*CheckoutSessionDTO, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}
	if !tier.IsPaid() {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Checkout requires a paid tier")
	}
	if !period.IsValid() {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Invalid billing period")
	}

	// The tier must exist in the catalog before we send anyone to pay for it
	if _, err := s.planRepo.FindByTier(ctx, tier); err != nil {
		if err == shared.ErrNotFound {
			return nil, shared.NewDomainError("NOT_FOUND", "No plan exists for tier "+tier.String())
		}
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		AccountID: accountID,
		Tier:      tier,
		Period:    period,
	})
	if err != nil {
		s.logger.Error("Failed to create checkout session",
			zap.String("account_id", accountID.String()),
			zap.String("tier", tier.String()),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Checkout session created",
		zap.String("account_id", accountID.String()),
		zap.String("tier", tier.String()),
		zap.String("session_id", session.SessionID))
	return session, nil
}

// BeginPortalSession opens the processor's billing portal for an account
// that already has a billing profile
func (s *CheckoutService) BeginPortalSession(ctx context.Context, accountID uuid.UUID) (*PortalSessionDTO, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}

	subscription, err := s.subscriptionRepo.FindByAccount(ctx, accountID)
	if err != nil {
		if err == shared.ErrNotFound {
			return nil, shared.NewDomainError("INVALID_STATE", "Account has no billing profile")
		}
		return nil, err
	}
	if subscription.ExternalCustomerID == "" {
		return nil, shared.NewDomainError("INVALID_STATE", "Account has no billing profile")
	}

	portal, err := s.gateway.CreatePortalSession(ctx, subscription.ExternalCustomerID)
	if err != nil {
		s.logger.Error("Failed to create portal session",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		return nil, err
	}
	return portal, nil
}

// CancelSubscription asks the processor to stop renewal at the end of the
// current period. The local row is untouched here; the reconciler applies
// the resulting subscription.updated event.
func (s *CheckoutService) CancelSubscription(ctx context.Context, accountID uuid.UUID) error {
	if accountID == uuid.Nil {
		return shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}

	subscription, err := s.subscriptionRepo.FindByAccount(ctx, accountID)
	if err != nil {
		if err == shared.ErrNotFound {
			return shared.NewDomainError("INVALID_STATE", "Account has no active subscription")
		}
		return err
	}
	if subscription.ExternalSubscriptionID == "" {
		return shared.NewDomainError("INVALID_STATE", "Account has no active subscription")
	}

	if err := s.gateway.CancelAtPeriodEnd(ctx, subscription.ExternalSubscriptionID); err != nil {
		s.logger.Error("Failed to cancel subscription with processor",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		return err
	}

	s.logger.Info("Subscription cancellation scheduled",
		zap.String("account_id", accountID.String()),
		zap.String("subscription_id", subscription.ExternalSubscriptionID))
	return nil
}
