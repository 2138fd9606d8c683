package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"steward/internal/replenish"
	stripeapi "steward/internal/stripe"
	"steward/pkg/logging"
	"steward/pkg/middleware"
)

const (
	providerStripe     = "stripe"
	maxWebhookBodySize = 64 << 10
)

// errAttemptNotSettled means the event's attempt is still processing: the
// run that charged it has not recorded the outcome yet.
var errAttemptNotSettled = errors.New("attempt outcome not recorded yet")

// HandleStripeWebhook settles attempts that were waiting on customer action.
// Events are recorded in steward.webhook_events once handled so Stripe
// redeliveries are acknowledged without reprocessing.
func (h *Handlers) HandleStripeWebhook(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	event, err := h.verifier.VerifyAndParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.WithError(err).Warn("Rejected Stripe webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	ctx := c.Request.Context()
	log = log.WithFields(logging.Fields{"event_id": event.ID, "event_type": event.Type})

	if h.isWebhookAlreadyProcessed(ctx, event.ID) {
		log.Debug("Duplicate Stripe webhook")
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		if err := h.handlePaymentIntent(ctx, event, log); err != nil {
			log.WithError(err).Error("Failed to process Stripe webhook")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
			return
		}
	default:
		log.Debug("Ignoring Stripe webhook type")
	}

	h.markWebhookProcessed(ctx, event.ID, string(event.Type))
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handlers) handlePaymentIntent(ctx context.Context, event *stripe.Event, log logging.Entry) error {
	pi, err := stripeapi.PaymentIntentFromEvent(event)
	if err != nil {
		return err
	}
	if pi.Metadata["purpose"] != "" && pi.Metadata["purpose"] != "auto_replenish" {
		return nil
	}
	log = log.WithField("payment_intent_id", pi.ID)

	if event.Type == "payment_intent.succeeded" {
		attempt, err := h.service.CompletePaymentIntent(ctx, pi.ID)
		if attempt != nil && err != nil {
			// The attempt is already succeeded; a redelivery cannot help. The
			// reconciliation report lists it for a manual credit.
			log.WithError(err).WithField("attempt_id", attempt.ID).Error("Payment confirmed but credit failed")
			return nil
		}
		if err != nil {
			return err
		}
		if attempt == nil {
			return h.checkUnmatched(ctx, pi)
		}
		log.WithField("attempt_id", attempt.ID).Info("Confirmed payment completed replenish attempt")
		return nil
	}

	var code, message string
	if pi.LastPaymentError != nil {
		code = string(pi.LastPaymentError.Code)
		if pi.LastPaymentError.DeclineCode != "" {
			code = string(pi.LastPaymentError.DeclineCode)
		}
		message = pi.LastPaymentError.Msg
	}
	attempt, err := h.service.FailPaymentIntent(ctx, pi.ID, code, message)
	if err != nil {
		return err
	}
	if attempt == nil {
		return h.checkUnmatched(ctx, pi)
	}
	log.WithField("attempt_id", attempt.ID).Warn("Payment failed after customer action")
	return nil
}

// checkUnmatched decides whether an event that settled no attempt can be
// acknowledged. A PaymentIntent reported as processing can finish before the
// charging run records requires_action; failing the delivery makes Stripe
// send it again once the row is in place. Anything else is acknowledged.
func (h *Handlers) checkUnmatched(ctx context.Context, pi *stripe.PaymentIntent) error {
	attemptID := pi.Metadata["attempt_id"]
	if _, err := uuid.Parse(attemptID); err != nil {
		return nil
	}
	current, err := h.service.GetAttempt(ctx, attemptID)
	if errors.Is(err, replenish.ErrAttemptNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Status == replenish.StatusProcessing {
		return fmt.Errorf("%w: %s", errAttemptNotSettled, attemptID)
	}
	return nil
}

// isWebhookAlreadyProcessed looks the event up in the dedupe table. A lookup
// error counts as unseen: the handlers are idempotent, so a second pass is
// safe while dropping the event is not.
func (h *Handlers) isWebhookAlreadyProcessed(ctx context.Context, eventID string) bool {
	if h.db == nil {
		return false
	}
	var exists bool
	err := h.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM steward.webhook_events WHERE provider = $1 AND event_id = $2)
	`, providerStripe, eventID).Scan(&exists)
	return err == nil && exists
}

// markWebhookProcessed records a handled event. It runs only after handling
// succeeded, so a failed delivery stays eligible for Stripe's retry. Insert
// errors are logged and swallowed; the worst case is one more redelivery.
func (h *Handlers) markWebhookProcessed(ctx context.Context, eventID, eventType string) {
	if h.db == nil {
		return
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO steward.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, providerStripe, eventID, eventType)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}
