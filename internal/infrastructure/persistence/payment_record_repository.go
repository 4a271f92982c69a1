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

// PaymentRecordModel is the GORM model for the append-only payment ledger
type PaymentRecordModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AccountID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExternalPaymentID string          `gorm:"type:varchar(255);not null;uniqueIndex"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'usd'"`
	Status            string          `gorm:"type:varchar(20);not null"`
	OccurredAt        time.Time       `gorm:"not null"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PaymentRecordModel) TableName() string {
	return "payment_records"
}

// ToEntity converts the model to a domain entity
func (m *PaymentRecordModel) ToEntity() *billing.PaymentRecord {
	return &billing.PaymentRecord{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		AccountID:         m.AccountID,
		ExternalPaymentID: m.ExternalPaymentID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Status:            billing.PaymentStatus(m.Status),
		OccurredAt:        m.OccurredAt,
	}
}

// PaymentRecordModelFromEntity creates a model from a domain entity
func PaymentRecordModelFromEntity(e *billing.PaymentRecord) *PaymentRecordModel {
	return &PaymentRecordModel{
		ID:                e.ID,
		AccountID:         e.AccountID,
		ExternalPaymentID: e.ExternalPaymentID,
		Amount:            e.Amount,
		Currency:          e.Currency,
		Status:            string(e.Status),
		OccurredAt:        e.OccurredAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// PaymentRecordRepository implements the billing.PaymentRecordRepository interface
type PaymentRecordRepository struct {
	db *gorm.DB
}

// NewPaymentRecordRepository creates a new payment record repository
func NewPaymentRecordRepository(db *gorm.DB) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db}
}

var _ billing.PaymentRecordRepository = (*PaymentRecordRepository)(nil)

// Upsert inserts the record or, when the external payment id already exists,
// applies a status-only transition to the stored row. Amount and currency are
// write-once: the unique index plus ON CONFLICT DO NOTHING makes the first
// insert win, and later deliveries can only move the status.
func (r *PaymentRecordRepository) Upsert(ctx context.Context, record *billing.PaymentRecord) (*billing.PaymentRecord, bool, error) {
	model := PaymentRecordModelFromEntity(record)

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_payment_id"}},
			DoNothing: true,
		}).
		Create(model)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return model.ToEntity(), true, nil
	}

	// Lost the insert race or the id was seen before: transition status only.
	stored, err := r.FindByExternalID(ctx, record.ExternalPaymentID)
	if err != nil {
		return nil, false, err
	}

	if err := stored.TransitionStatus(record.Status); err != nil {
		return stored, false, err
	}

	update := r.db.WithContext(ctx).
		Model(&PaymentRecordModel{}).
		Where("external_payment_id = ?", stored.ExternalPaymentID).
		Updates(map[string]interface{}{
			"status":     string(stored.Status),
			"updated_at": time.Now(),
		})
	if update.Error != nil {
		return nil, false, update.Error
	}
	return stored, false, nil
}

// FindByExternalID retrieves a payment by the processor's id
func (r *PaymentRecordRepository) FindByExternalID(ctx context.Context, externalPaymentID string) (*billing.PaymentRecord, error) {
	var model PaymentRecordModel
	if err := r.db.WithContext(ctx).
		Where("external_payment_id = ?", externalPaymentID).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByAccount returns payment history for an account. The sort spec is
// validated against the payment column allow list; newest first by default.
func (r *PaymentRecordRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, sort billing.SortSpec, limit int) ([]*billing.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []PaymentRecordModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order(paymentOrderClause(sort.By, sort.Direction)).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*billing.PaymentRecord, len(models))
	for i := range models {
		records[i] = models[i].ToEntity()
	}
	return records, nil
}
