package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSubscriptionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&SubscriptionModel{}))
	return db
}

func TestSubscriptionRepository_SaveAndFind(t *testing.T) {
	repo := NewSubscriptionRepository(setupSubscriptionTestDB(t))
	ctx := context.Background()
	accountID := uuid.New()

	sub, err := billing.NewPaidSubscription(accountID, billing.TierPro, "sub_abc")
	require.NoError(t, err)
	sub.ExternalCustomerID = "cus_abc"
	require.NoError(t, repo.Save(ctx, sub))

	t.Run("by account", func(t *testing.T) {
		found, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, billing.TierPro, found.Tier)
		assert.Equal(t, billing.StatusIncomplete, found.Status)
	})

	t.Run("by external subscription id", func(t *testing.T) {
		found, err := repo.FindByExternalID(ctx, "sub_abc")
		require.NoError(t, err)
		assert.Equal(t, accountID, found.AccountID)
	})

	t.Run("by external customer id", func(t *testing.T) {
		found, err := repo.FindByExternalCustomerID(ctx, "cus_abc")
		require.NoError(t, err)
		assert.Equal(t, accountID, found.AccountID)
	})

	t.Run("missing account is NotFound", func(t *testing.T) {
		_, err := repo.FindByAccount(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("empty external id never matches free-tier rows", func(t *testing.T) {
		free := billing.NewFreeSubscription(uuid.New())
		require.NoError(t, repo.Save(ctx, free))

		_, err := repo.FindByExternalID(ctx, "")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestSubscriptionRepository_UpdateOptimisticLock(t *testing.T) {
	repo := NewSubscriptionRepository(setupSubscriptionTestDB(t))
	ctx := context.Background()
	accountID := uuid.New()

	sub, err := billing.NewPaidSubscription(accountID, billing.TierPro, "sub_abc")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sub))

	t.Run("update bumps the version", func(t *testing.T) {
		fresh, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)
		require.NoError(t, fresh.Activate(time.Now().AddDate(0, 1, 0)))

		require.NoError(t, repo.Update(ctx, fresh))

		stored, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
		assert.Equal(t, fresh.Version, stored.Version)
	})

	t.Run("stale version loses", func(t *testing.T) {
		stale, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)

		current, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)
		require.NoError(t, current.MarkPastDue())
		require.NoError(t, repo.Update(ctx, current))

		require.NoError(t, stale.MarkPastDue())
		err = repo.Update(ctx, stale)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})
}

func TestSubscriptionRepository_WithAccountLock(t *testing.T) {
	repo := NewSubscriptionRepository(setupSubscriptionTestDB(t))
	ctx := context.Background()
	accountID := uuid.New()

	sub, err := billing.NewPaidSubscription(accountID, billing.TierPro, "sub_abc")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sub))

	t.Run("persists mutations made under the lock", func(t *testing.T) {
		periodEnd := time.Now().AddDate(0, 1, 0)
		err := repo.WithAccountLock(ctx, accountID, func(ctx context.Context, s *billing.Subscription) error {
			return s.Activate(periodEnd)
		})
		require.NoError(t, err)

		stored, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
		require.NotNil(t, stored.CurrentPeriodEnd)
	})

	t.Run("fn error rolls the transaction back", func(t *testing.T) {
		err := repo.WithAccountLock(ctx, accountID, func(ctx context.Context, s *billing.Subscription) error {
			_ = s.Cancel()
			return shared.ErrInvalidState
		})
		assert.ErrorIs(t, err, shared.ErrInvalidState)

		stored, err := repo.FindByAccount(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
	})

	t.Run("unknown account is NotFound", func(t *testing.T) {
		err := repo.WithAccountLock(ctx, uuid.New(), func(ctx context.Context, s *billing.Subscription) error {
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
