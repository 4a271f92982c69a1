package billing

import (
	"fmt"

	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Tier represents a subscription level
type Tier string

const (
	// TierFree is the default tier for accounts that never subscribed
	TierFree Tier = "free"

	// TierPro is the standard paid tier
	TierPro Tier = "pro"

	// TierEnterprise is the top tier with mostly unlimited quotas
	TierEnterprise Tier = "enterprise"
)

// String returns the string representation of Tier
func (t Tier) String() string {
	return string(t)
}

// IsValid returns true if the tier is valid
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// IsPaid returns true if the tier requires an external subscription
func (t Tier) IsPaid() bool {
	return t == TierPro || t == TierEnterprise
}

// ParseTier parses a string into a Tier
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid tier: %s", s)
	}
	return t, nil
}

// UnlimitedLimit is the sentinel limit value meaning no cap
const UnlimitedLimit int64 = -1

// SubscriptionPlan is a static catalog entry describing one tier.
// The catalog is seeded once and immutable at runtime.
type SubscriptionPlan struct {
	shared.BaseEntity
	Tier         Tier
	Name         string
	Description  string
	PriceMonthly decimal.Decimal
	PriceYearly  decimal.Decimal
	Currency     string
	Limits       map[Resource]int64
	IsPopular    bool
}

// NewSubscriptionPlan creates a plan catalog entry
func NewSubscriptionPlan(tier Tier, name string, priceMonthly, priceYearly decimal.Decimal, limits map[Resource]int64) (*SubscriptionPlan, error) {
	if !tier.IsValid() {
		return nil, shared.NewDomainError("INVALID_TIER", "Invalid subscription tier")
	}
	for resource, limit := range limits {
		if !resource.IsValid() {
			return nil, shared.NewDomainError("INVALID_RESOURCE", fmt.Sprintf("Unknown resource in plan limits: %s", resource))
		}
		if limit < UnlimitedLimit {
			return nil, shared.NewDomainError("INVALID_LIMIT", "Limit must be -1 (unlimited) or non-negative")
		}
	}

	return &SubscriptionPlan{
		BaseEntity:   shared.NewBaseEntity(),
		Tier:         tier,
		Name:         name,
		PriceMonthly: priceMonthly,
		PriceYearly:  priceYearly,
		Currency:     "usd",
		Limits:       limits,
		IsPopular:    false,
	}, nil
}

// Limit returns the limit for a resource, defaulting to zero for resources
// the plan does not name
func (p *SubscriptionPlan) Limit(resource Resource) int64 {
	limit, ok := p.Limits[resource]
	if !ok {
		return 0
	}
	return limit
}

// IsUnlimited returns true if the plan has no cap on the resource
func (p *SubscriptionPlan) IsUnlimited(resource Resource) bool {
	return p.Limit(resource) == UnlimitedLimit
}

// IsFree returns true if the plan costs nothing
func (p *SubscriptionPlan) IsFree() bool {
	return p.PriceMonthly.IsZero() && p.PriceYearly.IsZero()
}

// DefaultPlans returns the built-in plan catalog used for seeding
func DefaultPlans() []*SubscriptionPlan {
	const (
		mib = int64(1024 * 1024)
		gib = 1024 * mib
	)

	free, _ := NewSubscriptionPlan(TierFree, "Free",
		decimal.Zero, decimal.Zero,
		map[Resource]int64{
			ResourceConversations:      10,
			ResourceFileUploads:        5,
			ResourceKnowledgeBaseBytes: 10 * mib,
		})
	free.Description = "Get started with basic chat and document features"

	pro, _ := NewSubscriptionPlan(TierPro, "Pro",
		decimal.NewFromFloat(29.99), decimal.NewFromFloat(299.99),
		map[Resource]int64{
			ResourceConversations:      100,
			ResourceFileUploads:        50,
			ResourceKnowledgeBaseBytes: 100 * mib,
		})
	pro.Description = "For professionals who need more capacity"
	pro.IsPopular = true

	enterprise, _ := NewSubscriptionPlan(TierEnterprise, "Enterprise",
		decimal.NewFromFloat(99.99), decimal.NewFromFloat(999.99),
		map[Resource]int64{
			ResourceConversations:      UnlimitedLimit,
			ResourceFileUploads:        UnlimitedLimit,
			ResourceKnowledgeBaseBytes: gib,
		})
	enterprise.Description = "Unlimited conversations and uploads for teams"

	return []*SubscriptionPlan{free, pro, enterprise}
}

// BillingPeriod represents the charge cadence chosen at checkout
type BillingPeriod string

const (
	// BillingPeriodMonthly charges every month
	BillingPeriodMonthly BillingPeriod = "monthly"

	// BillingPeriodYearly charges every year
	BillingPeriodYearly BillingPeriod = "yearly"
)

// String returns the string representation of BillingPeriod
func (b BillingPeriod) String() string {
	return string(b)
}

// IsValid returns true if the billing period is valid
func (b BillingPeriod) IsValid() bool {
	return b == BillingPeriodMonthly || b == BillingPeriodYearly
}

// ParseBillingPeriod parses a string into a BillingPeriod
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	b := BillingPeriod(s)
	if !b.IsValid() {
		return "", fmt.Errorf("invalid billing period: %s", s)
	}
	return b, nil
}
