package billing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/chatcpg/backend/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newQuotaTable() *billing.QuotaTable {
	return billing.NewQuotaTable(billing.DefaultPlans())
}

func newTestPeriod(accountID uuid.UUID, conversations int64) *billing.UsagePeriod {
	period := billing.NewUsagePeriod(accountID, time.Now())
	period.ConversationsUsed = conversations
	return period
}

func TestUsageService_Report(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("records usage and returns snapshot", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		entryRepo := new(MockUsageEntryRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, entryRepo, subRepo, newQuotaTable(), zap.NewNop())

		periodRepo.On("Increment", ctx, accountID, billing.ResourceConversations, int64(1), mock.AnythingOfType("time.Time")).
			Return(newTestPeriod(accountID, 6), false, nil)
		entryRepo.On("Save", ctx, mock.AnythingOfType("*billing.UsageEntry")).Return(nil)

		result, err := service.Report(ctx, accountID, billing.ResourceConversations, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(6), result.Used)
		assert.False(t, result.Clamped)
		periodRepo.AssertExpectations(t)
		entryRepo.AssertExpectations(t)
	})

	t.Run("surfaces clamping", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		entryRepo := new(MockUsageEntryRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, entryRepo, subRepo, newQuotaTable(), zap.NewNop())

		period := billing.NewUsagePeriod(accountID, time.Now())
		periodRepo.On("Increment", ctx, accountID, billing.ResourceKnowledgeBaseBytes, int64(-4096), mock.AnythingOfType("time.Time")).
			Return(period, true, nil)
		entryRepo.On("Save", ctx, mock.AnythingOfType("*billing.UsageEntry")).Return(nil)

		result, err := service.Report(ctx, accountID, billing.ResourceKnowledgeBaseBytes, -4096)
		require.NoError(t, err)
		assert.True(t, result.Clamped)
		assert.Equal(t, int64(0), result.Used)
	})

	t.Run("audit entry failure does not fail the report", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		entryRepo := new(MockUsageEntryRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, entryRepo, subRepo, newQuotaTable(), zap.NewNop())

		periodRepo.On("Increment", ctx, accountID, billing.ResourceFileUploads, int64(1), mock.AnythingOfType("time.Time")).
			Return(newTestPeriod(accountID, 0), false, nil)
		entryRepo.On("Save", ctx, mock.AnythingOfType("*billing.UsageEntry")).Return(assert.AnError)

		_, err := service.Report(ctx, accountID, billing.ResourceFileUploads, 1)
		assert.NoError(t, err)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		service := NewUsageService(new(MockUsagePeriodRepository), new(MockUsageEntryRepository), new(MockSubscriptionRepository), newQuotaTable(), zap.NewNop())

		_, err := service.Report(ctx, uuid.Nil, billing.ResourceConversations, 1)
		assert.Error(t, err)

		_, err = service.Report(ctx, accountID, billing.Resource("api_calls"), 1)
		assert.Error(t, err)

		_, err = service.Report(ctx, accountID, billing.ResourceConversations, -1)
		assert.Error(t, err)

		_, err = service.Report(ctx, accountID, billing.ResourceConversations, 0)
		assert.Error(t, err)
	})
}

func TestUsageService_CheckQuota(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("free tier within limit", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, new(MockUsageEntryRepository), subRepo, newQuotaTable(), zap.NewNop())

		subRepo.On("FindByAccount", ctx, accountID).Return(nil, shared.ErrNotFound)
		periodRepo.On("GetOrCreateCurrent", ctx, accountID, mock.AnythingOfType("time.Time")).
			Return(newTestPeriod(accountID, 9), nil)

		result, err := service.CheckQuota(ctx, accountID, billing.ResourceConversations)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(10), result.Limit)
		assert.Equal(t, int64(9), result.Used)
	})

	t.Run("exhausted free tier denies", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, new(MockUsageEntryRepository), subRepo, newQuotaTable(), zap.NewNop())

		subRepo.On("FindByAccount", ctx, accountID).Return(nil, shared.ErrNotFound)
		periodRepo.On("GetOrCreateCurrent", ctx, accountID, mock.AnythingOfType("time.Time")).
			Return(newTestPeriod(accountID, 10), nil)

		result, err := service.CheckQuota(ctx, accountID, billing.ResourceConversations)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	})

	t.Run("enterprise tier is unlimited", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, new(MockUsageEntryRepository), subRepo, newQuotaTable(), zap.NewNop())

		sub := billing.NewFreeSubscription(accountID)
		sub.Tier = billing.TierEnterprise
		subRepo.On("FindByAccount", ctx, accountID).Return(sub, nil)
		periodRepo.On("GetOrCreateCurrent", ctx, accountID, mock.AnythingOfType("time.Time")).
			Return(newTestPeriod(accountID, 100000), nil)

		result, err := service.CheckQuota(ctx, accountID, billing.ResourceConversations)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, result.Unlimited)
	})

	t.Run("unpaid subscription falls back to free limits", func(t *testing.T) {
		periodRepo := new(MockUsagePeriodRepository)
		subRepo := new(MockSubscriptionRepository)
		service := NewUsageService(periodRepo, new(MockUsageEntryRepository), subRepo, newQuotaTable(), zap.NewNop())

		sub := billing.NewFreeSubscription(accountID)
		sub.Tier = billing.TierPro
		sub.Status = billing.StatusUnpaid
		subRepo.On("FindByAccount", ctx, accountID).Return(sub, nil)
		periodRepo.On("GetOrCreateCurrent", ctx, accountID, mock.AnythingOfType("time.Time")).
			Return(newTestPeriod(accountID, 50), nil)

		result, err := service.CheckQuota(ctx, accountID, billing.ResourceConversations)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(10), result.Limit)
	})
}

func TestUsageService_GetUsageSummary(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	periodRepo := new(MockUsagePeriodRepository)
	subRepo := new(MockSubscriptionRepository)
	service := NewUsageService(periodRepo, new(MockUsageEntryRepository), subRepo, newQuotaTable(), zap.NewNop())

	sub := billing.NewFreeSubscription(accountID)
	sub.Tier = billing.TierPro
	subRepo.On("FindByAccount", ctx, accountID).Return(sub, nil)

	period := newTestPeriod(accountID, 42)
	period.KnowledgeBaseBytesUsed = 1 << 20
	periodRepo.On("GetOrCreateCurrent", ctx, accountID, mock.AnythingOfType("time.Time")).Return(period, nil)

	summary, err := service.GetUsageSummary(ctx, accountID)
	require.NoError(t, err)

	assert.Equal(t, "pro", summary.Subscription.Tier)
	assert.Len(t, summary.Resources, 3)

	conversations := summary.Resources["conversations"]
	assert.Equal(t, int64(42), conversations.Used)
	assert.Equal(t, int64(100), conversations.Limit)
	assert.Equal(t, int64(58), conversations.Remaining)
	assert.InDelta(t, 42.0, conversations.Percentage, 0.001)

	kb := summary.Resources["knowledge_base_bytes"]
	assert.Equal(t, "1.00 MB", kb.Formatted)
}

// The check/report pair is deliberately not an admission gate: racers that
// all pass a check with one unit left each get to report. The overshoot is
// bounded by the racer count and the counter itself never loses an update.
func TestUsageService_CheckThenReportOvershootIsBounded(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&persistence.UsagePeriodModel{},
		&persistence.UsageEntryModel{},
		&persistence.SubscriptionModel{},
	))

	service := NewUsageService(
		persistence.NewUsagePeriodRepository(db),
		persistence.NewUsageEntryRepository(db),
		persistence.NewSubscriptionRepository(db),
		newQuotaTable(),
		zap.NewNop(),
	)

	accountID := uuid.New()
	ctx := context.Background()

	// Burn the free tier down to one remaining conversation
	for i := 0; i < 9; i++ {
		_, err := service.Report(ctx, accountID, billing.ResourceConversations, 1)
		require.NoError(t, err)
	}

	const racers = 8
	var reported int64
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			check, err := service.CheckQuota(context.Background(), accountID, billing.ResourceConversations)
			assert.NoError(t, err)
			if check.Allowed {
				_, err := service.Report(context.Background(), accountID, billing.ResourceConversations, 1)
				assert.NoError(t, err)
				atomic.AddInt64(&reported, 1)
			}
		}()
	}
	wg.Wait()

	used, err := service.Peek(ctx, accountID, billing.ResourceConversations)
	require.NoError(t, err)

	// At least one racer got through, and the overshoot never exceeds the
	// racer count
	assert.GreaterOrEqual(t, reported, int64(1))
	assert.Equal(t, int64(9)+reported, used)
	assert.LessOrEqual(t, used, int64(9+racers))

	// The ledger is now full: a fresh check denies
	check, err := service.CheckQuota(ctx, accountID, billing.ResourceConversations)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}
