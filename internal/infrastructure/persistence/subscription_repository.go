package persistence

import (
	"context"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionModel is the GORM model for the one-per-account subscription row
type SubscriptionModel struct {
	ID                     uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AccountID              uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	Tier                   string     `gorm:"type:varchar(20);not null;default:'free'"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'active'"`
	ExternalSubscriptionID string     `gorm:"type:varchar(255);index"`
	ExternalCustomerID     string     `gorm:"type:varchar(255);index"`
	CurrentPeriodEnd       *time.Time `gorm:""`
	CancelAtPeriodEnd      bool       `gorm:"not null;default:false"`
	Version                int        `gorm:"not null;default:1"`
	CreatedAt              time.Time  `gorm:"autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionModel) ToEntity() *billing.Subscription {
	return &billing.Subscription{
		AccountAggregateRoot: shared.AccountAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        m.ID,
					CreatedAt: m.CreatedAt,
					UpdatedAt: m.UpdatedAt,
				},
				Version: m.Version,
			},
			AccountID: m.AccountID,
		},
		Tier:                   billing.Tier(m.Tier),
		Status:                 billing.SubscriptionStatus(m.Status),
		ExternalSubscriptionID: m.ExternalSubscriptionID,
		ExternalCustomerID:     m.ExternalCustomerID,
		CurrentPeriodEnd:       m.CurrentPeriodEnd,
		CancelAtPeriodEnd:      m.CancelAtPeriodEnd,
	}
}

// SubscriptionModelFromEntity creates a model from a domain entity
func SubscriptionModelFromEntity(e *billing.Subscription) *SubscriptionModel {
	return &SubscriptionModel{
		ID:                     e.ID,
		AccountID:              e.AccountID,
		Tier:                   string(e.Tier),
		Status:                 string(e.Status),
		ExternalSubscriptionID: e.ExternalSubscriptionID,
		ExternalCustomerID:     e.ExternalCustomerID,
		CurrentPeriodEnd:       e.CurrentPeriodEnd,
		CancelAtPeriodEnd:      e.CancelAtPeriodEnd,
		Version:                e.Version,
		CreatedAt:              e.CreatedAt,
		UpdatedAt:              e.UpdatedAt,
	}
}

// SubscriptionRepository implements the billing.SubscriptionRepository interface
type SubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

var _ billing.SubscriptionRepository = (*SubscriptionRepository)(nil)

// FindByAccount retrieves the subscription for an account
func (r *SubscriptionRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	return r.findOne(ctx, "account_id = ?", accountID)
}

// FindByExternalID retrieves a subscription by the processor's id
func (r *SubscriptionRepository) FindByExternalID(ctx context.Context, externalSubscriptionID string) (*billing.Subscription, error) {
	if externalSubscriptionID == "" {
		return nil, shared.ErrNotFound
	}
	return r.findOne(ctx, "external_subscription_id = ?", externalSubscriptionID)
}

// FindByExternalCustomerID retrieves a subscription by the processor's customer id
func (r *SubscriptionRepository) FindByExternalCustomerID(ctx context.Context, externalCustomerID string) (*billing.Subscription, error) {
	if externalCustomerID == "" {
		return nil, shared.ErrNotFound
	}
	return r.findOne(ctx, "external_customer_id = ?", externalCustomerID)
}

func (r *SubscriptionRepository) findOne(ctx context.Context, query string, arg interface{}) (*billing.Subscription, error) {
	var model SubscriptionModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Save inserts a new subscription row
func (r *SubscriptionRepository) Save(ctx context.Context, subscription *billing.Subscription) error {
	model := SubscriptionModelFromEntity(subscription)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).
		Create(model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrAlreadyExists
	}
	return nil
}

// Update persists subscription mutations with an optimistic version check.
// A lost race surfaces as ErrConcurrencyConflict so the caller can retry
// against fresh state instead of silently overwriting.
func (r *SubscriptionRepository) Update(ctx context.Context, subscription *billing.Subscription) error {
	model := SubscriptionModelFromEntity(subscription)

	res := r.db.WithContext(ctx).
		Model(&SubscriptionModel{}).
		Where("id = ? AND version = ?", model.ID, model.Version).
		Updates(map[string]interface{}{
			"tier":                     model.Tier,
			"status":                   model.Status,
			"external_subscription_id": model.ExternalSubscriptionID,
			"external_customer_id":     model.ExternalCustomerID,
			"current_period_end":       model.CurrentPeriodEnd,
			"cancel_at_period_end":     model.CancelAtPeriodEnd,
			"version":                  model.Version + 1,
			"updated_at":               time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	subscription.IncrementVersion()
	return nil
}

// WithAccountLock runs fn while holding a row lock on the account's
// subscription, serializing concurrent event application per account.
// Mutations fn makes to the entity are persisted when fn returns nil.
func (r *SubscriptionRepository) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, subscription *billing.Subscription) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("account_id = ?", accountID)
		// SQLite has no FOR UPDATE; its single-writer model serializes anyway.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var model SubscriptionModel
		if err := query.First(&model).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return shared.ErrNotFound
			}
			return err
		}

		subscription := model.ToEntity()
		if err := fn(ctx, subscription); err != nil {
			return err
		}

		updated := SubscriptionModelFromEntity(subscription)
		return tx.Model(&SubscriptionModel{}).
			Where("id = ?", updated.ID).
			Updates(map[string]interface{}{
				"tier":                     updated.Tier,
				"status":                   updated.Status,
				"external_subscription_id": updated.ExternalSubscriptionID,
				"external_customer_id":     updated.ExternalCustomerID,
				"current_period_end":       updated.CurrentPeriodEnd,
				"cancel_at_period_end":     updated.CancelAtPeriodEnd,
				"version":                  gorm.Expr("version + 1"),
				"updated_at":               time.Now(),
			}).Error
	})
}
