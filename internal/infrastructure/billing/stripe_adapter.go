package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	appbilling "github.com/chatcpg/backend/internal/application/billing"
)

// StripeAdapter implements the payment gateway against the Stripe API.
// Checkout sessions carry the account ID in ClientReferenceID and the target
// tier in metadata so the reconciler can link processor events back to an
// account without any processor-side lookup.
type StripeAdapter struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(config *StripeConfig, logger *zap.Logger) (*StripeAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Initialize Stripe client
	config.InitStripeClient()

	return &StripeAdapter{
		config: config,
		logger: logger,
	}, nil
}

// CreateCheckoutSession opens a Stripe Checkout session for a paid tier
func (a *StripeAdapter) CreateCheckoutSession(ctx context.Context, params appbilling.CheckoutParams) (*appbilling.CheckoutSessionDTO, error) {
	a.logger.Debug("Creating Stripe checkout session",
		zap.String("account_id", params.AccountID.String()),
		zap.String("tier", params.Tier.String()),
		zap.String("period", string(params.Period)))

	priceID, err := a.config.GetPriceID(params.Tier, params.Period)
	if err != nil {
		return nil, err
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(params.AccountID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(a.config.SuccessURL),
		CancelURL:  stripe.String(a.config.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"tier": params.Tier.String(),
			},
		},
	}
	sessionParams.Metadata = map[string]string{
		"tier": params.Tier.String(),
	}

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		a.logger.Error("Failed to create Stripe checkout session",
			zap.String("account_id", params.AccountID.String()),
			zap.String("tier", params.Tier.String()),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	a.logger.Info("Created Stripe checkout session",
		zap.String("account_id", params.AccountID.String()),
		zap.String("session_id", sess.ID))

	return &appbilling.CheckoutSessionDTO{
		SessionID: sess.ID,
		URL:       sess.URL,
	}, nil
}

// CreatePortalSession opens a Stripe billing portal session for an existing customer
func (a *StripeAdapter) CreatePortalSession(ctx context.Context, customerID string) (*appbilling.PortalSessionDTO, error) {
	a.logger.Debug("Creating Stripe portal session", zap.String("customer_id", customerID))

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(a.config.PortalReturnURL),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		a.logger.Error("Failed to create Stripe portal session",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create portal session: %w", err)
	}

	return &appbilling.PortalSessionDTO{
		URL: sess.URL,
	}, nil
}

// CancelAtPeriodEnd schedules a Stripe subscription to stop renewing. The
// local row stays untouched until the resulting subscription.updated event
// comes back through the webhook.
func (a *StripeAdapter) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	a.logger.Debug("Scheduling Stripe subscription cancellation",
		zap.String("subscription_id", subscriptionID))

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}

	if _, err := subscription.Update(subscriptionID, params); err != nil {
		a.logger.Error("Failed to schedule Stripe subscription cancellation",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}
	return nil
}

// VerifyWebhookEvent checks the Stripe-Signature header against the raw payload
// and returns the parsed event. A payload that fails verification never reaches
// the reconciler.
func (a *StripeAdapter) VerifyWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	// Events are pinned to the Stripe account's API version, which rarely
	// matches the SDK's pinned version exactly. The signature check is what
	// matters here.
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe: webhook signature verification failed: %w", err)
	}
	return event, nil
}

// Ensure StripeAdapter satisfies the gateway the checkout flow depends on
var _ appbilling.PaymentGateway = (*StripeAdapter)(nil)
