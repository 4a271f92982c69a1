package billing

import (
	"context"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UsageReportDTO is the post-increment snapshot returned to the caller
type UsageReportDTO struct {
	AccountID   uuid.UUID `json:"account_id"`
	Resource    string    `json:"resource"`
	Delta       int64     `json:"delta"`
	Used        int64     `json:"used"`
	Clamped     bool      `json:"clamped,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// UsageDetailDTO describes one resource's consumption against its limit
type UsageDetailDTO struct {
	Resource    string  `json:"resource"`
	DisplayName string  `json:"display_name"`
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	Unlimited   bool    `json:"unlimited"`
	Remaining   int64   `json:"remaining"`
	Percentage  float64 `json:"percentage"`
	Unit        string  `json:"unit"`
	Formatted   string  `json:"formatted"`
}

// SubscriptionInfoDTO is the subscription slice of the usage summary
type SubscriptionInfoDTO struct {
	Tier              string     `json:"tier"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// UsageSummaryDTO aggregates all resource usage for an account plus its
// subscription state
type UsageSummaryDTO struct {
	AccountID    uuid.UUID                 `json:"account_id"`
	PeriodStart  time.Time                 `json:"period_start"`
	PeriodEnd    time.Time                 `json:"period_end"`
	Resources    map[string]UsageDetailDTO `json:"resources"`
	Subscription SubscriptionInfoDTO       `json:"subscription"`
}

// UsageService is the usage ledger's application facade. Reports go through
// the repository's atomic increment; quota checks are advisory reads against
// the immutable quota table.
type UsageService struct {
	periodRepo       billing.UsagePeriodRepository
	entryRepo        billing.UsageEntryRepository
	subscriptionRepo billing.SubscriptionRepository
	quotaTable       *billing.QuotaTable
	logger           *zap.Logger
}

// NewUsageService creates a new UsageService
func NewUsageService(
	periodRepo billing.UsagePeriodRepository,
	entryRepo billing.UsageEntryRepository,
	subscriptionRepo billing.SubscriptionRepository,
	quotaTable *billing.QuotaTable,
	logger *zap.Logger,
) *UsageService {
	return &UsageService{
		periodRepo:       periodRepo,
		entryRepo:        entryRepo,
		subscriptionRepo: subscriptionRepo,
		quotaTable:       quotaTable,
		logger:           logger,
	}
}

// Report records consumption against the account's current period and
// returns the post-increment snapshot. The counter update is a single
// storage-level atomic increment, so concurrent reports never undercount.
func (s *UsageService) Report(ctx context.Context, accountID uuid.UUID, resource billing.Resource, delta int64) (*UsageReportDTO, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}
	if err := billing.ValidateDelta(resource, delta); err != nil {
		return nil, err
	}

	period, clamped, err := s.periodRepo.Increment(ctx, accountID, resource, delta, time.Now())
	if err != nil {
		s.logger.Error("Failed to record usage",
			zap.String("account_id", accountID.String()),
			zap.String("resource", resource.String()),
			zap.Int64("delta", delta),
			zap.Error(err))
		return nil, err
	}

	if clamped {
		s.logger.Warn("Usage decrement clamped at zero",
			zap.String("account_id", accountID.String()),
			zap.String("resource", resource.String()),
			zap.Int64("delta", delta))
	}

	// The audit entry is best effort; the counter is the source of truth
	entry := billing.NewUsageEntry(accountID, resource, delta)
	if err := s.entryRepo.Save(ctx, entry); err != nil {
		s.logger.Warn("Failed to save usage audit entry",
			zap.String("account_id", accountID.String()),
			zap.String("resource", resource.String()),
			zap.Error(err))
	}

	return &UsageReportDTO{
		AccountID:   accountID,
		Resource:    resource.String(),
		Delta:       delta,
		Used:        period.Counter(resource),
		Clamped:     clamped,
		PeriodStart: period.PeriodStart,
		PeriodEnd:   period.PeriodEnd,
	}, nil
}

// Peek returns the current counter for a resource without mutating it.
// The current period row is created lazily if this is the first touch
// of a new month.
func (s *UsageService) Peek(ctx context.Context, accountID uuid.UUID, resource billing.Resource) (int64, error) {
	if accountID == uuid.Nil {
		return 0, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}
	if !resource.IsValid() {
		return 0, shared.NewDomainError("INVALID_ARGUMENT", "Unknown resource")
	}

	period, err := s.periodRepo.GetOrCreateCurrent(ctx, accountID, time.Now())
	if err != nil {
		return 0, err
	}
	return period.Counter(resource), nil
}

// CheckQuota evaluates whether the account may consume one more unit of the
// resource. Advisory only: two racing callers can both pass with one unit
// left, and the overshoot is bounded by the number of racers.
func (s *UsageService) CheckQuota(ctx context.Context, accountID uuid.UUID, resource billing.Resource) (*billing.QuotaCheckResult, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}
	if !resource.IsValid() {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Unknown resource")
	}

	now := time.Now()
	tier := s.resolveTier(ctx, accountID, now)

	period, err := s.periodRepo.GetOrCreateCurrent(ctx, accountID, now)
	if err != nil {
		return nil, err
	}

	result := s.quotaTable.Check(tier, resource, period.Counter(resource))
	return &result, nil
}

// GetUsageSummary returns all resource counters against the account's
// effective limits plus its subscription state
func (s *UsageService) GetUsageSummary(ctx context.Context, accountID uuid.UUID) (*UsageSummaryDTO, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}

	now := time.Now()

	subscription, err := s.subscriptionRepo.FindByAccount(ctx, accountID)
	if err != nil {
		if err != shared.ErrNotFound {
			return nil, err
		}
		// Accounts that never subscribed read as free tier
		subscription = billing.NewFreeSubscription(accountID)
	}

	period, err := s.periodRepo.GetOrCreateCurrent(ctx, accountID, now)
	if err != nil {
		return nil, err
	}

	tier := subscription.EffectiveTier(now)
	summary := &UsageSummaryDTO{
		AccountID:   accountID,
		PeriodStart: period.PeriodStart,
		PeriodEnd:   period.PeriodEnd,
		Resources:   make(map[string]UsageDetailDTO, len(billing.AllResources())),
		Subscription: SubscriptionInfoDTO{
			Tier:              tier.String(),
			Status:            subscription.EffectiveStatus(now).String(),
			CurrentPeriodEnd:  subscription.CurrentPeriodEnd,
			CancelAtPeriodEnd: subscription.CancelAtPeriodEnd,
		},
	}

	for _, resource := range billing.AllResources() {
		used := period.Counter(resource)
		check := s.quotaTable.Check(tier, resource, used)
		summary.Resources[resource.String()] = UsageDetailDTO{
			Resource:    resource.String(),
			DisplayName: resource.DisplayName(),
			Used:        used,
			Limit:       check.Limit,
			Unlimited:   check.Unlimited,
			Remaining:   check.Remaining(),
			Percentage:  check.Percentage,
			Unit:        resource.Unit().String(),
			Formatted:   resource.Unit().FormatValue(used),
		}
	}

	return summary, nil
}

// ListHistory returns past usage periods for an account, ordered per the
// caller's sort spec, newest first by default
func (s *UsageService) ListHistory(ctx context.Context, accountID uuid.UUID, sort billing.SortSpec, limit int) ([]*billing.UsagePeriod, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ARGUMENT", "Account ID cannot be empty")
	}
	return s.periodRepo.ListByAccount(ctx, accountID, sort, limit)
}

// resolveTier reads the account's effective tier, falling back to free for
// accounts without a subscription row
func (s *UsageService) resolveTier(ctx context.Context, accountID uuid.UUID, now time.Time) billing.Tier {
	subscription, err := s.subscriptionRepo.FindByAccount(ctx, accountID)
	if err != nil {
		if err != shared.ErrNotFound {
			s.logger.Warn("Failed to resolve subscription tier, assuming free",
				zap.String("account_id", accountID.String()),
				zap.Error(err))
		}
		return billing.TierFree
	}
	return subscription.EffectiveTier(now)
}
