package persistence

import (
	"context"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionPlanModel is the GORM model for the seeded plan catalog
type SubscriptionPlanModel struct {
	ID                      uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Tier                    string          `gorm:"type:varchar(20);not null;uniqueIndex"`
	Name                    string          `gorm:"type:varchar(100);not null"`
	Description             string          `gorm:"type:text"`
	PriceMonthly            decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	PriceYearly             decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Currency                string          `gorm:"type:varchar(3);not null;default:'usd'"`
	ConversationsLimit      int64           `gorm:"not null"`
	FileUploadsLimit        int64           `gorm:"not null"`
	KnowledgeBaseBytesLimit int64           `gorm:"not null"`
	IsPopular               bool            `gorm:"not null;default:false"`
	CreatedAt               time.Time       `gorm:"autoCreateTime"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (SubscriptionPlanModel) TableName() string {
	return "subscription_plans"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionPlanModel) ToEntity() *billing.SubscriptionPlan {
	return &billing.SubscriptionPlan{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Tier:         billing.Tier(m.Tier),
		Name:         m.Name,
		Description:  m.Description,
		PriceMonthly: m.PriceMonthly,
		PriceYearly:  m.PriceYearly,
		Currency:     m.Currency,
		Limits: map[billing.Resource]int64{
			billing.ResourceConversations:      m.ConversationsLimit,
			billing.ResourceFileUploads:        m.FileUploadsLimit,
			billing.ResourceKnowledgeBaseBytes: m.KnowledgeBaseBytesLimit,
		},
		IsPopular: m.IsPopular,
	}
}

// SubscriptionPlanModelFromEntity creates a model from a domain entity
func SubscriptionPlanModelFromEntity(e *billing.SubscriptionPlan) *SubscriptionPlanModel {
	return &SubscriptionPlanModel{
		ID:                      e.ID,
		Tier:                    string(e.Tier),
		Name:                    e.Name,
		Description:             e.Description,
		PriceMonthly:            e.PriceMonthly,
		PriceYearly:             e.PriceYearly,
		Currency:                e.Currency,
		ConversationsLimit:      e.Limit(billing.ResourceConversations),
		FileUploadsLimit:        e.Limit(billing.ResourceFileUploads),
		KnowledgeBaseBytesLimit: e.Limit(billing.ResourceKnowledgeBaseBytes),
		IsPopular:               e.IsPopular,
		CreatedAt:               e.CreatedAt,
		UpdatedAt:               e.UpdatedAt,
	}
}

// SubscriptionPlanRepository implements the billing.SubscriptionPlanRepository interface
type SubscriptionPlanRepository struct {
	db *gorm.DB
}

// NewSubscriptionPlanRepository creates a new plan repository
func NewSubscriptionPlanRepository(db *gorm.DB) *SubscriptionPlanRepository {
	return &SubscriptionPlanRepository{db: db}
}

var _ billing.SubscriptionPlanRepository = (*SubscriptionPlanRepository)(nil)

// FindAll returns the full catalog ordered by monthly price
func (r *SubscriptionPlanRepository) FindAll(ctx context.Context) ([]*billing.SubscriptionPlan, error) {
	var models []SubscriptionPlanModel
	if err := r.db.WithContext(ctx).
		Order("price_monthly ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	plans := make([]*billing.SubscriptionPlan, len(models))
	for i := range models {
		plans[i] = models[i].ToEntity()
	}
	return plans, nil
}

// FindByTier retrieves one catalog entry
func (r *SubscriptionPlanRepository) FindByTier(ctx context.Context, tier billing.Tier) (*billing.SubscriptionPlan, error) {
	var model SubscriptionPlanModel
	if err := r.db.WithContext(ctx).
		Where("tier = ?", string(tier)).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Seed inserts the catalog entries that are not already present. Existing
// rows are left untouched so operators can tweak the catalog in place.
func (r *SubscriptionPlanRepository) Seed(ctx context.Context, plans []*billing.SubscriptionPlan) error {
	for _, plan := range plans {
		model := SubscriptionPlanModelFromEntity(plan)
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tier"}},
				DoNothing: true,
			}).
			Create(model).Error; err != nil {
			return err
		}
	}
	return nil
}
