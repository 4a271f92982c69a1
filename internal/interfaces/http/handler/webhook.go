package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/chatcpg/backend/internal/domain/billing"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// Maximum webhook payload size (64KB - Stripe webhooks are typically small)
const maxWebhookPayloadSize = 65536

// WebhookVerifier checks a raw payload against its signature header and
// returns the parsed processor event
type WebhookVerifier interface {
	VerifyWebhookEvent(payload []byte, signature string) (stripe.Event, error)
}

// EventApplier reconciles one verified processor event
type EventApplier interface {
	Apply(ctx context.Context, event stripe.Event) (*billing.ReconcileResult, error)
}

// WebhookHandler receives payment-processor events. The endpoint is called
// by the processor and authenticates with the signature header, not a
// bearer token.
type WebhookHandler struct {
	BaseHandler
	verifier   WebhookVerifier
	reconciler EventApplier
	logger     *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(verifier WebhookVerifier, reconciler EventApplier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger,
	}
}

// WebhookResponse is the acknowledgement returned to the processor
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleProcessorEvent verifies and reconciles one inbound event. A payload
// that fails signature verification is acknowledged with 200 and never
// persisted; the failure is logged for operators instead of surfaced to the
// caller, so a probing sender learns nothing about why it was dropped.
// Reconcile outcomes, including rejected events, are also acknowledged to
// stop the processor redelivering something that will never apply.
func (h *WebhookHandler) HandleProcessorEvent(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	event, err := h.verifier.VerifyWebhookEvent(payload, signature)
	if err != nil {
		h.logger.Error("Webhook signature verification failed, event dropped",
			zap.String("remote_addr", c.ClientIP()),
			zap.Int("payload_bytes", len(payload)),
			zap.Error(err))
		c.JSON(http.StatusOK, WebhookResponse{Received: true})
		return
	}

	result, err := h.reconciler.Apply(c.Request.Context(), event)
	if err != nil {
		// Storage-level failures are the one case worth a retry from the
		// processor side
		h.logger.Error("Webhook reconciliation failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, WebhookResponse{
			Received: false,
			EventID:  event.ID,
			Message:  "Event processing failed",
		})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   result.ExternalEventID,
		EventType: result.EventType,
		Message:   result.Message,
	})
}
