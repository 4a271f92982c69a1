package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupUsagePeriodTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Single connection keeps concurrent test writers off SQLite's lock errors.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&UsagePeriodModel{}))
	return db
}

func TestUsagePeriodRepository_GetOrCreateCurrent(t *testing.T) {
	db := setupUsagePeriodTestDB(t)
	repo := NewUsagePeriodRepository(db)
	ctx := context.Background()
	accountID := uuid.New()
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	t.Run("creates the period lazily", func(t *testing.T) {
		period, err := repo.GetOrCreateCurrent(ctx, accountID, now)

		require.NoError(t, err)
		assert.Equal(t, accountID, period.AccountID)
		assert.Equal(t, int64(0), period.ConversationsUsed)
		assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), period.PeriodStart.UTC())
	})

	t.Run("returns the same row on repeat calls", func(t *testing.T) {
		first, err := repo.GetOrCreateCurrent(ctx, accountID, now)
		require.NoError(t, err)

		second, err := repo.GetOrCreateCurrent(ctx, accountID, now.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("a new month gets a fresh row", func(t *testing.T) {
		march, err := repo.GetOrCreateCurrent(ctx, accountID, now)
		require.NoError(t, err)

		april, err := repo.GetOrCreateCurrent(ctx, accountID, now.AddDate(0, 1, 0))
		require.NoError(t, err)

		assert.NotEqual(t, march.ID, april.ID)
		assert.Equal(t, time.April, april.PeriodStart.Month())
	})
}

func TestUsagePeriodRepository_Increment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	t.Run("returns the post-increment snapshot", func(t *testing.T) {
		repo := NewUsagePeriodRepository(setupUsagePeriodTestDB(t))
		accountID := uuid.New()

		period, clamped, err := repo.Increment(ctx, accountID, billing.ResourceConversations, 1, now)

		require.NoError(t, err)
		assert.False(t, clamped)
		assert.Equal(t, int64(1), period.ConversationsUsed)

		period, _, err = repo.Increment(ctx, accountID, billing.ResourceConversations, 1, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), period.ConversationsUsed)
	})

	t.Run("rollover increments a fresh period, not the stale one", func(t *testing.T) {
		repo := NewUsagePeriodRepository(setupUsagePeriodTestDB(t))
		accountID := uuid.New()

		_, _, err := repo.Increment(ctx, accountID, billing.ResourceConversations, 5, now)
		require.NoError(t, err)

		nextMonth := now.AddDate(0, 1, 0)
		period, _, err := repo.Increment(ctx, accountID, billing.ResourceConversations, 1, nextMonth)
		require.NoError(t, err)

		assert.Equal(t, int64(1), period.ConversationsUsed)

		stale, err := repo.FindByAccountAndStart(ctx, accountID, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, int64(5), stale.ConversationsUsed)
	})

	t.Run("no lost updates under concurrent reports", func(t *testing.T) {
		repo := NewUsagePeriodRepository(setupUsagePeriodTestDB(t))
		accountID := uuid.New()

		const workers = 20
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, _, err := repo.Increment(ctx, accountID, billing.ResourceConversations, 1, now)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		period, err := repo.GetOrCreateCurrent(ctx, accountID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), period.ConversationsUsed)
	})

	t.Run("knowledge base bytes decrement clamps at zero", func(t *testing.T) {
		repo := NewUsagePeriodRepository(setupUsagePeriodTestDB(t))
		accountID := uuid.New()

		_, _, err := repo.Increment(ctx, accountID, billing.ResourceKnowledgeBaseBytes, 1024, now)
		require.NoError(t, err)

		period, clamped, err := repo.Increment(ctx, accountID, billing.ResourceKnowledgeBaseBytes, -512, now)
		require.NoError(t, err)
		assert.False(t, clamped)
		assert.Equal(t, int64(512), period.KnowledgeBaseBytesUsed)

		period, clamped, err = repo.Increment(ctx, accountID, billing.ResourceKnowledgeBaseBytes, -4096, now)
		require.NoError(t, err)
		assert.True(t, clamped)
		assert.Equal(t, int64(0), period.KnowledgeBaseBytesUsed)
	})

	t.Run("exact decrement to zero is not a clamp", func(t *testing.T) {
		repo := NewUsagePeriodRepository(setupUsagePeriodTestDB(t))
		accountID := uuid.New()

		_, _, err := repo.Increment(ctx, accountID, billing.ResourceKnowledgeBaseBytes, 1024, now)
		require.NoError(t, err)

		period, clamped, err := repo.Increment(ctx, accountID, billing.ResourceKnowledgeBaseBytes, -1024, now)
		require.NoError(t, err)
		assert.False(t, clamped)
		assert.Equal(t, int64(0), period.KnowledgeBaseBytesUsed)
	})
}

func TestUsagePeriodRepository_ListByAccount(t *testing.T) {
	repo := NewUsagePeriodRepository(setupUsagePeriodTestDB(t))
	ctx := context.Background()
	accountID := uuid.New()

	for month := time.January; month <= time.March; month++ {
		at := time.Date(2026, month, 10, 0, 0, 0, 0, time.UTC)
		_, err := repo.GetOrCreateCurrent(ctx, accountID, at)
		require.NoError(t, err)
	}

	t.Run("defaults to newest period first", func(t *testing.T) {
		periods, err := repo.ListByAccount(ctx, accountID, billing.SortSpec{}, 2)
		require.NoError(t, err)
		require.Len(t, periods, 2)
		assert.Equal(t, time.March, periods[0].PeriodStart.Month())
		assert.Equal(t, time.February, periods[1].PeriodStart.Month())
	})

	t.Run("honours an ascending sort on period_start", func(t *testing.T) {
		periods, err := repo.ListByAccount(ctx, accountID, billing.SortSpec{By: "period_start", Direction: "asc"}, 10)
		require.NoError(t, err)
		require.Len(t, periods, 3)
		assert.Equal(t, time.January, periods[0].PeriodStart.Month())
		assert.Equal(t, time.March, periods[2].PeriodStart.Month())
	})

	t.Run("an unknown sort column falls back to the default", func(t *testing.T) {
		periods, err := repo.ListByAccount(ctx, accountID, billing.SortSpec{By: "period_start; DROP TABLE usage_periods"}, 10)
		require.NoError(t, err)
		require.Len(t, periods, 3)
		assert.Equal(t, time.March, periods[0].PeriodStart.Month())
	})
}
