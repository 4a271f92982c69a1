package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v81"

	domain "github.com/chatcpg/backend/internal/domain/billing"
)

// StripeConfig holds configuration for Stripe integration
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`

	// WebhookSecret is the secret for verifying webhook signatures
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode" mapstructure:"is_test_mode"`

	// DefaultCurrency is the default currency for subscriptions (e.g., "usd")
	DefaultCurrency string `json:"default_currency" mapstructure:"default_currency"`

	// PriceIDs maps "<tier>_<period>" keys to Stripe Price IDs,
	// e.g. "pro_monthly" -> "price_xxx"
	PriceIDs map[string]string `json:"price_ids" mapstructure:"price_ids"`

	// SuccessURL is the URL to redirect after successful checkout
	SuccessURL string `json:"success_url" mapstructure:"success_url"`

	// CancelURL is the URL to redirect after cancelled checkout
	CancelURL string `json:"cancel_url" mapstructure:"cancel_url"`

	// PortalReturnURL is the return URL from the Stripe billing portal
	PortalReturnURL string `json:"portal_return_url" mapstructure:"portal_return_url"`
}

// DefaultStripeConfig returns a default configuration for development/testing
func DefaultStripeConfig() *StripeConfig {
	return &StripeConfig{
		IsTestMode:      true,
		DefaultCurrency: "usd",
		PriceIDs: map[string]string{
			"pro_monthly":        "price_pro_monthly",
			"pro_yearly":         "price_pro_yearly",
			"enterprise_monthly": "price_ent_monthly",
			"enterprise_yearly":  "price_ent_yearly",
		},
	}
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	// Validate key format
	if c.IsTestMode {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_test" {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
	} else {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_live" {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}

	if c.DefaultCurrency == "" {
		return fmt.Errorf("stripe: default currency is required")
	}

	return nil
}

// GetPriceID returns the Stripe Price ID for a tier and billing period.
// The free tier never has a price; checkout only handles paid tiers.
func (c *StripeConfig) GetPriceID(tier domain.Tier, period domain.BillingPeriod) (string, error) {
	if !tier.IsPaid() {
		return "", fmt.Errorf("stripe: tier %s has no price", tier)
	}

	key := fmt.Sprintf("%s_%s", tier, period)
	priceID, exists := c.PriceIDs[key]
	if !exists || priceID == "" {
		return "", fmt.Errorf("stripe: no price ID configured for %s", key)
	}
	return priceID, nil
}

// InitStripeClient initializes the Stripe client with the configured API key
func (c *StripeConfig) InitStripeClient() {
	stripe.Key = c.SecretKey
}
