package billing

import (
	"time"

	"github.com/chatcpg/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the state of a payment attempt
type PaymentStatus string

const (
	// PaymentStatusPending indicates the payment was initiated but not settled
	PaymentStatusPending PaymentStatus = "pending"

	// PaymentStatusSucceeded indicates a settled payment
	PaymentStatusSucceeded PaymentStatus = "succeeded"

	// PaymentStatusFailed indicates a declined or errored payment
	PaymentStatusFailed PaymentStatus = "failed"

	// PaymentStatusRefunded indicates a settled payment that was refunded
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsValid returns true if the payment status is valid
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentRecord is an append-only ledger entry for one payment attempt,
// keyed by the processor's payment id. Amount and currency are write-once;
// later events for the same id may only move the status.
type PaymentRecord struct {
	shared.BaseEntity
	AccountID         uuid.UUID
	ExternalPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Status            PaymentStatus
	OccurredAt        time.Time
}

// NewPaymentRecord creates a ledger entry for a payment attempt
func NewPaymentRecord(accountID uuid.UUID, externalPaymentID string, amount decimal.Decimal, currency string, status PaymentStatus, occurredAt time.Time) (*PaymentRecord, error) {
	if externalPaymentID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "External payment ID cannot be empty")
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Invalid payment status")
	}
	if currency == "" {
		currency = "usd"
	}
	return &PaymentRecord{
		BaseEntity:        shared.NewBaseEntity(),
		AccountID:         accountID,
		ExternalPaymentID: externalPaymentID,
		Amount:            amount,
		Currency:          currency,
		Status:            status,
		OccurredAt:        occurredAt,
	}, nil
}

// TransitionStatus moves the payment to a new status. failed arriving after
// succeeded is an out-of-order delivery, not a real reversal: it is rejected
// so the caller can record the anomaly without applying it.
func (p *PaymentRecord) TransitionStatus(next PaymentStatus) error {
	if !next.IsValid() {
		return shared.NewDomainError("INVALID_INPUT", "Invalid payment status")
	}
	if p.Status == next {
		return nil
	}
	if p.Status == PaymentStatusSucceeded && next == PaymentStatusFailed {
		return shared.NewDomainError("INVALID_STATE", "Payment already succeeded; failed event is out of order")
	}
	if p.Status == PaymentStatusRefunded {
		return shared.NewDomainError("INVALID_STATE", "Refunded payment status is final")
	}
	p.Status = next
	p.Touch()
	return nil
}
