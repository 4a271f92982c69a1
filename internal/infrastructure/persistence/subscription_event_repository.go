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

// SubscriptionEventModel is the GORM model for the append-only audit trail
type SubscriptionEventModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ExternalEventID string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	EventType       string     `gorm:"type:varchar(100);not null;index"`
	AccountID       *uuid.UUID `gorm:"type:uuid;index"`
	PayloadSnapshot []byte     `gorm:"type:jsonb"`
	ApplyStatus     string     `gorm:"type:varchar(20)"`
	ApplyMessage    string     `gorm:"type:text"`
	ReceivedAt      time.Time  `gorm:"not null"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (SubscriptionEventModel) TableName() string {
	return "subscription_events"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionEventModel) ToEntity() *billing.SubscriptionEvent {
	return &billing.SubscriptionEvent{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ExternalEventID: m.ExternalEventID,
		EventType:       m.EventType,
		AccountID:       m.AccountID,
		PayloadSnapshot: m.PayloadSnapshot,
		ApplyStatus:     billing.ApplyStatus(m.ApplyStatus),
		ApplyMessage:    m.ApplyMessage,
		ReceivedAt:      m.ReceivedAt,
	}
}

// SubscriptionEventModelFromEntity creates a model from a domain entity
func SubscriptionEventModelFromEntity(e *billing.SubscriptionEvent) *SubscriptionEventModel {
	return &SubscriptionEventModel{
		ID:              e.ID,
		ExternalEventID: e.ExternalEventID,
		EventType:       e.EventType,
		AccountID:       e.AccountID,
		PayloadSnapshot: e.PayloadSnapshot,
		ApplyStatus:     string(e.ApplyStatus),
		ApplyMessage:    e.ApplyMessage,
		ReceivedAt:      e.ReceivedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// SubscriptionEventRepository implements the billing.SubscriptionEventRepository interface
type SubscriptionEventRepository struct {
	db *gorm.DB
}

// NewSubscriptionEventRepository creates a new subscription event repository
func NewSubscriptionEventRepository(db *gorm.DB) *SubscriptionEventRepository {
	return &SubscriptionEventRepository{db: db}
}

var _ billing.SubscriptionEventRepository = (*SubscriptionEventRepository)(nil)

// InsertIfAbsent atomically inserts the event row unless one with the same
// external_event_id exists. This single insert-or-detect-conflict statement
// is the idempotency gate: under parallel delivery of the same event exactly
// one caller wins, and losers read back the winner's row.
func (r *SubscriptionEventRepository) InsertIfAbsent(ctx context.Context, event *billing.SubscriptionEvent) (*billing.SubscriptionEvent, bool, error) {
	model := SubscriptionEventModelFromEntity(event)

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(model)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return model.ToEntity(), true, nil
	}

	stored, err := r.FindByExternalID(ctx, event.ExternalEventID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// UpdateDisposition records the apply outcome on an event row
func (r *SubscriptionEventRepository) UpdateDisposition(ctx context.Context, event *billing.SubscriptionEvent) error {
	return r.db.WithContext(ctx).
		Model(&SubscriptionEventModel{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"apply_status":  string(event.ApplyStatus),
			"apply_message": event.ApplyMessage,
			"account_id":    event.AccountID,
			"updated_at":    time.Now(),
		}).Error
}

// FindByExternalID retrieves an audit row by the processor's event id
func (r *SubscriptionEventRepository) FindByExternalID(ctx context.Context, externalEventID string) (*billing.SubscriptionEvent, error) {
	var model SubscriptionEventModel
	if err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalEventID).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListRecent returns the newest audit rows for operator inspection
func (r *SubscriptionEventRepository) ListRecent(ctx context.Context, limit int) ([]*billing.SubscriptionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []SubscriptionEventModel
	if err := r.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*billing.SubscriptionEvent, len(models))
	for i := range models {
		events[i] = models[i].ToEntity()
	}
	return events, nil
}
