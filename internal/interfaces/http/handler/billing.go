package handler

import (
	"strconv"

	billingapp "github.com/chatcpg/backend/internal/application/billing"
	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/chatcpg/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// History list limits when the client does not ask for a specific page size
const (
	defaultPaymentHistoryLimit = 50
	defaultUsageHistoryLimit   = 12
)

// sortSpecFromQuery reads the optional sort and order query parameters.
// Values are validated against per-table allow lists in persistence.
func sortSpecFromQuery(c *gin.Context) billing.SortSpec {
	return billing.SortSpec{
		By:        c.Query("sort"),
		Direction: c.Query("order"),
	}
}

// limitFromQuery reads the optional limit query parameter
func limitFromQuery(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

// BillingHandler handles usage, quota, plan, and checkout HTTP requests
type BillingHandler struct {
	BaseHandler
	usageService    *billingapp.UsageService
	checkoutService *billingapp.CheckoutService
	reconciler      *billingapp.ReconcilerService
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(
	usageService *billingapp.UsageService,
	checkoutService *billingapp.CheckoutService,
	reconciler *billingapp.ReconcilerService,
) *BillingHandler {
	return &BillingHandler{
		usageService:    usageService,
		checkoutService: checkoutService,
		reconciler:      reconciler,
	}
}

// ListPlans returns the subscription plan catalog. Public, no auth.
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans, err := h.checkoutService.ListPlans(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]PlanResponse, 0, len(plans))
	for _, plan := range plans {
		resp = append(resp, toPlanResponse(plan))
	}
	h.Success(c, resp)
}

// GetUsageSummary returns the account's per-resource usage against its
// effective limits plus the subscription state
func (h *BillingHandler) GetUsageSummary(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	summary, err := h.usageService.GetUsageSummary(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// CheckQuota evaluates whether the account may consume one more unit of a
// resource. Advisory: the response reports allowed=false with 200, never 429,
// so callers can render an upgrade prompt.
func (h *BillingHandler) CheckQuota(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	resource, err := billing.ParseResource(c.Param("resource"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.usageService.CheckQuota(c.Request.Context(), accountID, resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ReportUsage records consumption against the account's current period
func (h *BillingHandler) ReportUsage(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	var req ReportUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	resource, err := billing.ParseResource(req.Resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	report, err := h.usageService.Report(c.Request.Context(), accountID, resource, req.Delta)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// ListPayments returns the account's payment history, newest first
func (h *BillingHandler) ListPayments(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	limit, ok := limitFromQuery(c, defaultPaymentHistoryLimit)
	if !ok {
		h.BadRequest(c, "limit must be a positive integer")
		return
	}

	payments, err := h.reconciler.PaymentHistory(c.Request.Context(), accountID, sortSpecFromQuery(c), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]PaymentResponse, 0, len(payments))
	for _, payment := range payments {
		resp = append(resp, toPaymentResponse(payment))
	}
	h.Success(c, resp)
}

// ListUsageHistory returns the account's past usage periods, newest first
// unless the sort parameters say otherwise
func (h *BillingHandler) ListUsageHistory(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	limit, ok := limitFromQuery(c, defaultUsageHistoryLimit)
	if !ok {
		h.BadRequest(c, "limit must be a positive integer")
		return
	}

	periods, err := h.usageService.ListHistory(c.Request.Context(), accountID, sortSpecFromQuery(c), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]UsagePeriodResponse, 0, len(periods))
	for _, period := range periods {
		resp = append(resp, toUsagePeriodResponse(period))
	}
	h.Success(c, resp)
}

// BeginCheckout opens a processor checkout session for a paid tier
func (h *BillingHandler) BeginCheckout(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	tier, err := billing.ParseTier(req.Tier)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	period, err := billing.ParseBillingPeriod(req.Period)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	session, err := h.checkoutService.BeginCheckout(c.Request.Context(), accountID, tier, period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, session)
}

// BeginPortalSession opens the processor's billing portal for the account
func (h *BillingHandler) BeginPortalSession(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	portal, err := h.checkoutService.BeginPortalSession(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, portal)
}

// CancelSubscription schedules the account's subscription to stop renewing
// at the end of the current period. The local row changes only when the
// processor's subscription.updated event is reconciled.
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	accountID, err := getAccountID(c)
	if err != nil {
		h.Unauthorized(c, "Account identification required")
		return
	}

	if err := h.checkoutService.CancelSubscription(c.Request.Context(), accountID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CancelResponse{Message: "Subscription will be canceled at the end of the current period"})
}
