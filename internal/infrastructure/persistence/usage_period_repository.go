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

// UsagePeriodModel is the GORM model for per-account monthly usage counters
type UsagePeriodModel struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID              uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_periods_account_start"`
	PeriodStart            time.Time `gorm:"not null;uniqueIndex:idx_usage_periods_account_start"`
	PeriodEnd              time.Time `gorm:"not null"`
	ConversationsUsed      int64     `gorm:"not null;default:0"`
	FileUploadsUsed        int64     `gorm:"not null;default:0"`
	KnowledgeBaseBytesUsed int64     `gorm:"not null;default:0"`
	Version                int       `gorm:"not null;default:1"`
	CreatedAt              time.Time `gorm:"autoCreateTime"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsagePeriodModel) TableName() string {
	return "usage_periods"
}

// ToEntity converts the model to a domain entity
func (m *UsagePeriodModel) ToEntity() *billing.UsagePeriod {
	return &billing.UsagePeriod{
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
		PeriodStart:            m.PeriodStart,
		PeriodEnd:              m.PeriodEnd,
		ConversationsUsed:      m.ConversationsUsed,
		FileUploadsUsed:        m.FileUploadsUsed,
		KnowledgeBaseBytesUsed: m.KnowledgeBaseBytesUsed,
	}
}

// UsagePeriodModelFromEntity creates a model from a domain entity
func UsagePeriodModelFromEntity(e *billing.UsagePeriod) *UsagePeriodModel {
	return &UsagePeriodModel{
		ID:                     e.ID,
		AccountID:              e.AccountID,
		PeriodStart:            e.PeriodStart,
		PeriodEnd:              e.PeriodEnd,
		ConversationsUsed:      e.ConversationsUsed,
		FileUploadsUsed:        e.FileUploadsUsed,
		KnowledgeBaseBytesUsed: e.KnowledgeBaseBytesUsed,
		Version:                e.Version,
		CreatedAt:              e.CreatedAt,
		UpdatedAt:              e.UpdatedAt,
	}
}

// counterColumn maps a resource to its counter column
func counterColumn(resource billing.Resource) string {
	switch resource {
	case billing.ResourceConversations:
		return "conversations_used"
	case billing.ResourceFileUploads:
		return "file_uploads_used"
	case billing.ResourceKnowledgeBaseBytes:
		return "knowledge_base_bytes_used"
	default:
		return ""
	}
}

// UsagePeriodRepository implements the billing.UsagePeriodRepository interface
type UsagePeriodRepository struct {
	db *gorm.DB
}

// NewUsagePeriodRepository creates a new usage period repository
func NewUsagePeriodRepository(db *gorm.DB) *UsagePeriodRepository {
	return &UsagePeriodRepository{db: db}
}

var _ billing.UsagePeriodRepository = (*UsagePeriodRepository)(nil)

// GetOrCreateCurrent returns the open period for the account, lazily creating
// the current month's row. The unique index on (account_id, period_start) plus
// ON CONFLICT DO NOTHING keeps concurrent callers down to one row per month;
// losers of the insert race re-read the winner's row.
func (r *UsagePeriodRepository) GetOrCreateCurrent(ctx context.Context, accountID uuid.UUID, now time.Time) (*billing.UsagePeriod, error) {
	start, _ := billing.PeriodBounds(now)

	var model UsagePeriodModel
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND period_start = ?", accountID, start).
		First(&model).Error
	if err == nil {
		return model.ToEntity(), nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	fresh := UsagePeriodModelFromEntity(billing.NewUsagePeriod(accountID, now))
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(fresh).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND period_start = ?", accountID, start).
		First(&model).Error; err != nil {
		return nil, err
	}
	return model.ToEntity(), nil
}

// Increment atomically adds delta to the resource counter of the current period
// and returns the post-increment snapshot. The increment is a single UPDATE at
// the storage layer, never a read-modify-write in application code, so
// concurrent reports cannot undercount.
func (r *UsagePeriodRepository) Increment(ctx context.Context, accountID uuid.UUID, resource billing.Resource, delta int64, now time.Time) (*billing.UsagePeriod, bool, error) {
	column := counterColumn(resource)
	if column == "" {
		return nil, false, shared.ErrInvalidInput
	}

	// Lazy rollover: make sure the current month's row exists before touching it.
	if _, err := r.GetOrCreateCurrent(ctx, accountID, now); err != nil {
		return nil, false, err
	}
	start, _ := billing.PeriodBounds(now)

	if delta < 0 {
		return r.decrementClamped(ctx, accountID, column, delta, start)
	}

	// UPDATE ... RETURNING: the snapshot is the row this statement produced,
	// not a later re-read that could include concurrent racers' increments.
	var model UsagePeriodModel
	res := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("account_id = ? AND period_start = ?", accountID, start).
		Update(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, shared.ErrNotFound
	}
	return model.ToEntity(), false, nil
}

// decrementClamped applies a negative delta without letting the counter go
// below zero. Two conditional single-row UPDATEs cover the cases; each
// re-evaluates its guard under the row lock, so the result is always
// max(0, current + delta) even when increments race in between attempts.
func (r *UsagePeriodRepository) decrementClamped(ctx context.Context, accountID uuid.UUID, column string, delta int64, start time.Time) (*billing.UsagePeriod, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var model UsagePeriodModel
		res := r.db.WithContext(ctx).
			Model(&model).
			Clauses(clause.Returning{}).
			Where("account_id = ? AND period_start = ? AND "+column+" + ? >= 0", accountID, start, delta).
			Update(column, gorm.Expr(column+" + ?", delta))
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected > 0 {
			return model.ToEntity(), false, nil
		}

		model = UsagePeriodModel{}
		res = r.db.WithContext(ctx).
			Model(&model).
			Clauses(clause.Returning{}).
			Where("account_id = ? AND period_start = ? AND "+column+" + ? < 0", accountID, start, delta).
			Update(column, int64(0))
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected > 0 {
			return model.ToEntity(), true, nil
		}
		// Neither guard matched: a concurrent write moved the counter between
		// the two statements. Retry from the top.
	}
	return nil, false, shared.ErrConcurrencyConflict
}

// FindByAccountAndStart retrieves one period row
func (r *UsagePeriodRepository) FindByAccountAndStart(ctx context.Context, accountID uuid.UUID, periodStart time.Time) (*billing.UsagePeriod, error) {
	var model UsagePeriodModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND period_start = ?", accountID, periodStart).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByAccount returns historical periods. The sort spec is validated
// against the usage period column allow list; newest first by default.
func (r *UsagePeriodRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, sort billing.SortSpec, limit int) ([]*billing.UsagePeriod, error) {
	if limit <= 0 {
		limit = 12
	}

	var models []UsagePeriodModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order(usagePeriodOrderClause(sort.By, sort.Direction)).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	periods := make([]*billing.UsagePeriod, len(models))
	for i := range models {
		periods[i] = models[i].ToEntity()
	}
	return periods, nil
}
