package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayment(t *testing.T, status PaymentStatus) *PaymentRecord {
	t.Helper()
	record, err := NewPaymentRecord(uuid.New(), "pi_123", decimal.NewFromFloat(29.99), "usd", status, time.Now())
	require.NoError(t, err)
	return record
}

func TestNewPaymentRecord(t *testing.T) {
	t.Run("creates a ledger entry", func(t *testing.T) {
		record := newPayment(t, PaymentStatusPending)

		assert.Equal(t, "pi_123", record.ExternalPaymentID)
		assert.Equal(t, "29.99", record.Amount.String())
		assert.Equal(t, "usd", record.Currency)
		assert.Equal(t, PaymentStatusPending, record.Status)
	})

	t.Run("defaults empty currency to usd", func(t *testing.T) {
		record, err := NewPaymentRecord(uuid.New(), "pi_456", decimal.Zero, "", PaymentStatusPending, time.Now())

		require.NoError(t, err)
		assert.Equal(t, "usd", record.Currency)
	})

	t.Run("rejects empty external id", func(t *testing.T) {
		record, err := NewPaymentRecord(uuid.New(), "", decimal.Zero, "usd", PaymentStatusPending, time.Now())

		assert.Error(t, err)
		assert.Nil(t, record)
	})

	t.Run("rejects invalid status", func(t *testing.T) {
		record, err := NewPaymentRecord(uuid.New(), "pi_789", decimal.Zero, "usd", PaymentStatus("voided"), time.Now())

		assert.Error(t, err)
		assert.Nil(t, record)
	})
}

func TestPaymentTransitionStatus(t *testing.T) {
	t.Run("pending settles to succeeded", func(t *testing.T) {
		record := newPayment(t, PaymentStatusPending)

		require.NoError(t, record.TransitionStatus(PaymentStatusSucceeded))
		assert.Equal(t, PaymentStatusSucceeded, record.Status)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		record := newPayment(t, PaymentStatusSucceeded)

		require.NoError(t, record.TransitionStatus(PaymentStatusSucceeded))
		assert.Equal(t, PaymentStatusSucceeded, record.Status)
	})

	t.Run("failed after succeeded is rejected as out of order", func(t *testing.T) {
		record := newPayment(t, PaymentStatusSucceeded)

		err := record.TransitionStatus(PaymentStatusFailed)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of order")
		assert.Equal(t, PaymentStatusSucceeded, record.Status)
	})

	t.Run("succeeded can refund", func(t *testing.T) {
		record := newPayment(t, PaymentStatusSucceeded)

		require.NoError(t, record.TransitionStatus(PaymentStatusRefunded))
		assert.Equal(t, PaymentStatusRefunded, record.Status)
	})

	t.Run("refunded is final", func(t *testing.T) {
		record := newPayment(t, PaymentStatusSucceeded)
		require.NoError(t, record.TransitionStatus(PaymentStatusRefunded))

		assert.Error(t, record.TransitionStatus(PaymentStatusSucceeded))
	})
}
