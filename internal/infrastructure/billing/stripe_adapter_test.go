package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	appbilling "github.com/chatcpg/backend/internal/application/billing"
	domain "github.com/chatcpg/backend/internal/domain/billing"
)

// mockBackend implements stripe.Backend for testing
type mockBackend struct {
	handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)
}

func (m *mockBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	data, err := m.handler(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

// testConfig returns a valid test configuration
func testConfig() *StripeConfig {
	return &StripeConfig{
		SecretKey:       "sk_test_123456789",
		WebhookSecret:   "whsec_test_123456789",
		IsTestMode:      true,
		DefaultCurrency: "usd",
		PriceIDs: map[string]string{
			"pro_monthly":        "price_pro_monthly_test",
			"pro_yearly":         "price_pro_yearly_test",
			"enterprise_monthly": "price_ent_monthly_test",
			"enterprise_yearly":  "price_ent_yearly_test",
		},
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing/cancel",
		PortalReturnURL: "https://app.example.com/billing",
	}
}

// testLogger returns a no-op logger for testing
func testLogger() *zap.Logger {
	return zap.NewNop()
}

// setupMockBackend sets up a mock Stripe backend for testing
func setupMockBackend(handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)) func() {
	mock := &mockBackend{handler: handler}
	stripe.SetBackend(stripe.APIBackend, mock)
	return func() {
		// Reset to default backend after test
		stripe.SetBackend(stripe.APIBackend, nil)
	}
}

// ============================================================================
// NewStripeAdapter Tests
// ============================================================================

func TestNewStripeAdapter_Success(t *testing.T) {
	config := testConfig()
	logger := testLogger()

	adapter, err := NewStripeAdapter(config, logger)

	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestNewStripeAdapter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      *StripeConfig
		expectedErr string
	}{
		{
			name: "missing secret key",
			config: &StripeConfig{
				IsTestMode:      true,
				DefaultCurrency: "usd",
			},
			expectedErr: "secret key is required",
		},
		{
			name: "test mode with live key",
			config: &StripeConfig{
				SecretKey:       "sk_live_123456789",
				IsTestMode:      true,
				DefaultCurrency: "usd",
			},
			expectedErr: "test mode enabled but secret key is not a test key",
		},
		{
			name: "live mode with test key",
			config: &StripeConfig{
				SecretKey:       "sk_test_123456789",
				IsTestMode:      false,
				DefaultCurrency: "usd",
			},
			expectedErr: "live mode enabled but secret key is not a live key",
		},
		{
			name: "missing currency",
			config: &StripeConfig{
				SecretKey:  "sk_test_123456789",
				IsTestMode: true,
			},
			expectedErr: "default currency is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewStripeAdapter(tt.config, testLogger())

			assert.Error(t, err)
			assert.Nil(t, adapter)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

// ============================================================================
// CreateCheckoutSession Tests
// ============================================================================

func TestCreateCheckoutSession_Success(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "POST" && path == "/v1/checkout/sessions" {
			return json.Marshal(&stripe.CheckoutSession{
				ID:  "cs_test123",
				URL: "https://checkout.stripe.com/c/pay/cs_test123",
			})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})
	defer cleanup()

	output, err := adapter.CreateCheckoutSession(context.Background(), appbilling.CheckoutParams{
		AccountID: uuid.New(),
		Tier:      domain.TierPro,
		Period:    domain.BillingPeriodMonthly,
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_test123", output.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test123", output.URL)
}

func TestCreateCheckoutSession_YearlyPeriod(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "POST" && path == "/v1/checkout/sessions" {
			return json.Marshal(&stripe.CheckoutSession{
				ID:  "cs_yearly123",
				URL: "https://checkout.stripe.com/c/pay/cs_yearly123",
			})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})
	defer cleanup()

	output, err := adapter.CreateCheckoutSession(context.Background(), appbilling.CheckoutParams{
		AccountID: uuid.New(),
		Tier:      domain.TierEnterprise,
		Period:    domain.BillingPeriodYearly,
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_yearly123", output.SessionID)
}

func TestCreateCheckoutSession_FreeTier(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	output, err := adapter.CreateCheckoutSession(context.Background(), appbilling.CheckoutParams{
		AccountID: uuid.New(),
		Tier:      domain.TierFree,
		Period:    domain.BillingPeriodMonthly,
	})

	assert.Error(t, err)
	assert.Nil(t, output)
	assert.Contains(t, err.Error(), "has no price")
}

func TestCreateCheckoutSession_MissingPriceID(t *testing.T) {
	config := testConfig()
	delete(config.PriceIDs, "pro_monthly")
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	output, err := adapter.CreateCheckoutSession(context.Background(), appbilling.CheckoutParams{
		AccountID: uuid.New(),
		Tier:      domain.TierPro,
		Period:    domain.BillingPeriodMonthly,
	})

	assert.Error(t, err)
	assert.Nil(t, output)
	assert.Contains(t, err.Error(), "no price ID configured for pro_monthly")
}

func TestCreateCheckoutSession_StripeError(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{
			Code: stripe.ErrorCode("invalid_request_error"),
			Msg:  "No such price",
		}
	})
	defer cleanup()

	output, err := adapter.CreateCheckoutSession(context.Background(), appbilling.CheckoutParams{
		AccountID: uuid.New(),
		Tier:      domain.TierPro,
		Period:    domain.BillingPeriodMonthly,
	})

	assert.Error(t, err)
	assert.Nil(t, output)
	assert.Contains(t, err.Error(), "failed to create checkout session")
}

// ============================================================================
// CreatePortalSession Tests
// ============================================================================

func TestCreatePortalSession_Success(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "POST" && path == "/v1/billing_portal/sessions" {
			return json.Marshal(&stripe.BillingPortalSession{
				ID:  "bps_test123",
				URL: "https://billing.stripe.com/p/session/bps_test123",
			})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})
	defer cleanup()

	output, err := adapter.CreatePortalSession(context.Background(), "cus_test123")

	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/bps_test123", output.URL)
}

func TestCreatePortalSession_Error(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{
			Code: stripe.ErrorCodeResourceMissing,
			Msg:  "No such customer",
		}
	})
	defer cleanup()

	output, err := adapter.CreatePortalSession(context.Background(), "cus_nonexistent")

	assert.Error(t, err)
	assert.Nil(t, output)
	assert.Contains(t, err.Error(), "failed to create portal session")
}

// ============================================================================
// CancelAtPeriodEnd Tests
// ============================================================================

func TestCancelAtPeriodEnd_Success(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "POST" && path == "/v1/subscriptions/sub_test123" {
			return json.Marshal(&stripe.Subscription{
				ID:                "sub_test123",
				CancelAtPeriodEnd: true,
			})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})
	defer cleanup()

	err = adapter.CancelAtPeriodEnd(context.Background(), "sub_test123")
	assert.NoError(t, err)
}

func TestCancelAtPeriodEnd_Error(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{
			Code: stripe.ErrorCodeResourceMissing,
			Msg:  "No such subscription",
		}
	})
	defer cleanup()

	err = adapter.CancelAtPeriodEnd(context.Background(), "sub_nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to cancel subscription")
}

// ============================================================================
// VerifyWebhookEvent Tests
// ============================================================================

// signPayload builds a Stripe-Signature header for the given payload
func signPayload(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%x", at.Unix(), sig)
}

func TestVerifyWebhookEvent_ValidSignature(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_test123","type":"invoice.payment_succeeded","data":{"object":{"id":"in_test123"}}}`)
	header := signPayload(payload, config.WebhookSecret, time.Now())

	event, err := adapter.VerifyWebhookEvent(payload, header)

	require.NoError(t, err)
	assert.Equal(t, "evt_test123", event.ID)
	assert.Equal(t, stripe.EventType("invoice.payment_succeeded"), event.Type)
}

func TestVerifyWebhookEvent_InvalidSignature(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_test123","type":"invoice.payment_succeeded"}`)
	header := signPayload(payload, "whsec_wrong_secret", time.Now())

	_, err = adapter.VerifyWebhookEvent(payload, header)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "webhook signature verification failed")
}

func TestVerifyWebhookEvent_TamperedPayload(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_test123","type":"invoice.payment_succeeded"}`)
	header := signPayload(payload, config.WebhookSecret, time.Now())
	tampered := []byte(`{"id":"evt_attacker","type":"invoice.payment_succeeded"}`)

	_, err = adapter.VerifyWebhookEvent(tampered, header)

	assert.Error(t, err)
}

func TestVerifyWebhookEvent_StaleTimestamp(t *testing.T) {
	config := testConfig()
	adapter, err := NewStripeAdapter(config, testLogger())
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_test123","type":"invoice.payment_succeeded"}`)
	header := signPayload(payload, config.WebhookSecret, time.Now().Add(-24*time.Hour))

	_, err = adapter.VerifyWebhookEvent(payload, header)

	assert.Error(t, err)
}

// ============================================================================
// StripeConfig Tests
// ============================================================================

func TestStripeConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      *StripeConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid test config",
			config:      testConfig(),
			expectError: false,
		},
		{
			name: "valid live config",
			config: &StripeConfig{
				SecretKey:       "sk_live_123456789",
				IsTestMode:      false,
				DefaultCurrency: "usd",
			},
			expectError: false,
		},
		{
			name: "missing secret key",
			config: &StripeConfig{
				IsTestMode:      true,
				DefaultCurrency: "usd",
			},
			expectError: true,
			errorMsg:    "secret key is required",
		},
		{
			name: "missing currency",
			config: &StripeConfig{
				SecretKey:  "sk_test_123456789",
				IsTestMode: true,
			},
			expectError: true,
			errorMsg:    "default currency is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStripeConfig_GetPriceID(t *testing.T) {
	config := testConfig()

	tests := []struct {
		name        string
		tier        domain.Tier
		period      domain.BillingPeriod
		expected    string
		expectError bool
		errorMsg    string
	}{
		{
			name:     "pro monthly",
			tier:     domain.TierPro,
			period:   domain.BillingPeriodMonthly,
			expected: "price_pro_monthly_test",
		},
		{
			name:     "pro yearly",
			tier:     domain.TierPro,
			period:   domain.BillingPeriodYearly,
			expected: "price_pro_yearly_test",
		},
		{
			name:     "enterprise monthly",
			tier:     domain.TierEnterprise,
			period:   domain.BillingPeriodMonthly,
			expected: "price_ent_monthly_test",
		},
		{
			name:        "free tier has no price",
			tier:        domain.TierFree,
			period:      domain.BillingPeriodMonthly,
			expectError: true,
			errorMsg:    "has no price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priceID, err := config.GetPriceID(tt.tier, tt.period)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, priceID)
			}
		})
	}
}

func TestStripeConfig_GetPriceID_EmptyPriceID(t *testing.T) {
	config := testConfig()
	config.PriceIDs["pro_monthly"] = ""

	priceID, err := config.GetPriceID(domain.TierPro, domain.BillingPeriodMonthly)

	assert.Error(t, err)
	assert.Empty(t, priceID)
	assert.Contains(t, err.Error(), "no price ID configured")
}

func TestDefaultStripeConfig(t *testing.T) {
	config := DefaultStripeConfig()

	assert.True(t, config.IsTestMode)
	assert.Equal(t, "usd", config.DefaultCurrency)
	assert.Contains(t, config.PriceIDs, "pro_monthly")
	assert.Contains(t, config.PriceIDs, "pro_yearly")
	assert.Contains(t, config.PriceIDs, "enterprise_monthly")
	assert.Contains(t, config.PriceIDs, "enterprise_yearly")
}
