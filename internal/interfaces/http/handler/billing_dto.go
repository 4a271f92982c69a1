package handler

import (
	"time"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReportUsageRequest is the body for POST /usage
type ReportUsageRequest struct {
	Resource string `json:"resource" binding:"required"`
	Delta    int64  `json:"delta" binding:"required"`
}

// CheckoutRequest is the body for POST /checkout
type CheckoutRequest struct {
	Tier   string `json:"tier" binding:"required"`
	Period string `json:"period" binding:"required"`
}

// CancelResponse acknowledges a scheduled cancellation
type CancelResponse struct {
	Message string `json:"message"`
}

// PlanResponse is one catalog entry in GET /plans
type PlanResponse struct {
	ID           uuid.UUID        `json:"id"`
	Tier         string           `json:"tier"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	PriceMonthly decimal.Decimal  `json:"price_monthly"`
	PriceYearly  decimal.Decimal  `json:"price_yearly"`
	Currency     string           `json:"currency"`
	Limits       map[string]int64 `json:"limits"`
	IsPopular    bool             `json:"is_popular"`
}

func toPlanResponse(plan *billing.SubscriptionPlan) PlanResponse {
	limits := make(map[string]int64, len(plan.Limits))
	for resource, limit := range plan.Limits {
		limits[resource.String()] = limit
	}
	return PlanResponse{
		ID:           plan.ID,
		Tier:         plan.Tier.String(),
		Name:         plan.Name,
		Description:  plan.Description,
		PriceMonthly: plan.PriceMonthly,
		PriceYearly:  plan.PriceYearly,
		Currency:     plan.Currency,
		Limits:       limits,
		IsPopular:    plan.IsPopular,
	}
}

// PaymentResponse is one entry in GET /payments
type PaymentResponse struct {
	ID                uuid.UUID       `json:"id"`
	ExternalPaymentID string          `json:"external_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

func toPaymentResponse(payment *billing.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:                payment.ID,
		ExternalPaymentID: payment.ExternalPaymentID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Status:            payment.Status.String(),
		OccurredAt:        payment.OccurredAt,
	}
}

// UsagePeriodResponse is one entry in GET /usage/history
type UsagePeriodResponse struct {
	PeriodStart            time.Time `json:"period_start"`
	PeriodEnd              time.Time `json:"period_end"`
	ConversationsUsed      int64     `json:"conversations_used"`
	FileUploadsUsed        int64     `json:"file_uploads_used"`
	KnowledgeBaseBytesUsed int64     `json:"knowledge_base_bytes_used"`
}

func toUsagePeriodResponse(period *billing.UsagePeriod) UsagePeriodResponse {
	return UsagePeriodResponse{
		PeriodStart:            period.PeriodStart,
		PeriodEnd:              period.PeriodEnd,
		ConversationsUsed:      period.ConversationsUsed,
		FileUploadsUsed:        period.FileUploadsUsed,
		KnowledgeBaseBytesUsed: period.KnowledgeBaseBytesUsed,
	}
}
