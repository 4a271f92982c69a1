package persistence

import (
	"context"
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageEntryModel is the GORM model for the append-only usage audit log
type UsageEntryModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID  uuid.UUID `gorm:"type:uuid;not null;index:idx_usage_entries_account_recorded"`
	Resource   string    `gorm:"type:varchar(50);not null"`
	Delta      int64     `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null;index:idx_usage_entries_account_recorded"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageEntryModel) TableName() string {
	return "usage_entries"
}

// ToEntity converts the model to a domain entity
func (m *UsageEntryModel) ToEntity() *billing.UsageEntry {
	return &billing.UsageEntry{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		AccountID:  m.AccountID,
		Resource:   billing.Resource(m.Resource),
		Delta:      m.Delta,
		RecordedAt: m.RecordedAt,
	}
}

// UsageEntryModelFromEntity creates a model from a domain entity
func UsageEntryModelFromEntity(e *billing.UsageEntry) *UsageEntryModel {
	return &UsageEntryModel{
		ID:         e.ID,
		AccountID:  e.AccountID,
		Resource:   string(e.Resource),
		Delta:      e.Delta,
		RecordedAt: e.RecordedAt,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// UsageEntryRepository implements the billing.UsageEntryRepository interface
type UsageEntryRepository struct {
	db *gorm.DB
}

// NewUsageEntryRepository creates a new usage entry repository
func NewUsageEntryRepository(db *gorm.DB) *UsageEntryRepository {
	return &UsageEntryRepository{db: db}
}

var _ billing.UsageEntryRepository = (*UsageEntryRepository)(nil)

// Save appends one audit entry
func (r *UsageEntryRepository) Save(ctx context.Context, entry *billing.UsageEntry) error {
	model := UsageEntryModelFromEntity(entry)
	return r.db.WithContext(ctx).Create(model).Error
}

// ListByAccount returns audit entries for an account within a time range
func (r *UsageEntryRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, start, end time.Time, limit int) ([]*billing.UsageEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []UsageEntryModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("recorded_at >= ? AND recorded_at <= ?", start, end).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]*billing.UsageEntry, len(models))
	for i := range models {
		entries[i] = models[i].ToEntity()
	}
	return entries, nil
}
