package persistence

import (
	"context"
	"testing"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupPlanTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&SubscriptionPlanModel{}))
	return db
}

func TestSubscriptionPlanRepository_SeedAndFindAll(t *testing.T) {
	repo := NewSubscriptionPlanRepository(setupPlanTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Seed(ctx, billing.DefaultPlans()))

	plans, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	// Catalog is ordered by monthly price
	assert.Equal(t, billing.TierFree, plans[0].Tier)
	assert.Equal(t, billing.TierPro, plans[1].Tier)
	assert.Equal(t, billing.TierEnterprise, plans[2].Tier)
	assert.True(t, plans[1].IsPopular)
	assert.Equal(t, billing.UnlimitedLimit, plans[2].Limit(billing.ResourceConversations))
}

func TestSubscriptionPlanRepository_SeedIsIdempotent(t *testing.T) {
	repo := NewSubscriptionPlanRepository(setupPlanTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Seed(ctx, billing.DefaultPlans()))

	// An operator raised the pro conversation limit in place
	require.NoError(t, repo.db.Model(&SubscriptionPlanModel{}).
		Where("tier = ?", string(billing.TierPro)).
		Update("conversations_limit", 500).Error)

	require.NoError(t, repo.Seed(ctx, billing.DefaultPlans()))

	pro, err := repo.FindByTier(ctx, billing.TierPro)
	require.NoError(t, err)
	assert.Equal(t, int64(500), pro.Limit(billing.ResourceConversations))

	plans, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestSubscriptionPlanRepository_StoredCatalogDrivesQuotaTable(t *testing.T) {
	repo := NewSubscriptionPlanRepository(setupPlanTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Seed(ctx, billing.DefaultPlans()))

	// Operator override applied directly to the stored catalog
	require.NoError(t, repo.db.Model(&SubscriptionPlanModel{}).
		Where("tier = ?", string(billing.TierFree)).
		Update("conversations_limit", 25).Error)

	plans, err := repo.FindAll(ctx)
	require.NoError(t, err)

	// A quota table built from the stored catalog enforces the override
	table := billing.NewQuotaTable(plans)
	result := table.Check(billing.TierFree, billing.ResourceConversations, 20)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(25), result.Limit)

	result = table.Check(billing.TierFree, billing.ResourceConversations, 25)
	assert.False(t, result.Allowed)
}

func TestSubscriptionPlanRepository_FindByTier(t *testing.T) {
	repo := NewSubscriptionPlanRepository(setupPlanTestDB(t))
	ctx := context.Background()

	_, err := repo.FindByTier(ctx, billing.TierPro)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, repo.Seed(ctx, billing.DefaultPlans()))

	free, err := repo.FindByTier(ctx, billing.TierFree)
	require.NoError(t, err)
	assert.True(t, free.PriceMonthly.IsZero())
	assert.Equal(t, int64(10), free.Limit(billing.ResourceConversations))
}
