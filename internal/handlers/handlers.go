// Package handlers exposes the auto-replenish job over HTTP: the cron
// trigger, the Stripe webhook and the operator reconciliation API.
package handlers

import (
	"context"
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"

	"steward/internal/replenish"
	"steward/pkg/auth"
	"steward/pkg/logging"
)

// ReplenishService is the job surface the handlers drive.
type ReplenishService interface {
	Run(ctx context.Context) (*replenish.Summary, error)
	ListAttempts(ctx context.Context, f replenish.AttemptFilter) ([]replenish.Attempt, error)
	GetAttempt(ctx context.Context, id string) (*replenish.Attempt, error)
	Reconcile(ctx context.Context) (*replenish.Reconciliation, error)
	ApplyCredit(ctx context.Context, id string) (*replenish.Attempt, error)
	Release(ctx context.Context, id string) (*replenish.Attempt, error)
	CompletePaymentIntent(ctx context.Context, paymentIntentID string) (*replenish.Attempt, error)
	FailPaymentIntent(ctx context.Context, paymentIntentID, code, message string) (*replenish.Attempt, error)
}

// WebhookVerifier checks a Stripe signature and decodes the event.
type WebhookVerifier interface {
	VerifyAndParseWebhook(payload []byte, signature string) (*stripe.Event, error)
}

// Config holds the secrets guarding each route group.
type Config struct {
	CronSecret   string // CRON_SECRET
	ServiceToken string // SERVICE_TOKEN
}

type Handlers struct {
	service  ReplenishService
	verifier WebhookVerifier
	db       *sql.DB
	logger   logging.Logger
}

// New creates the handlers. db backs webhook deduplication; verifier may be
// nil, in which case the webhook route is not registered.
func New(service ReplenishService, verifier WebhookVerifier, db *sql.DB, logger logging.Logger) *Handlers {
	return &Handlers{
		service:  service,
		verifier: verifier,
		db:       db,
		logger:   logger,
	}
}

// Register mounts every route on router.
func (h *Handlers) Register(router gin.IRouter, cfg Config) {
	cron := router.Group("/api/cron", auth.BearerSecretMiddleware(cfg.CronSecret))
	cron.GET("/auto-replenish", h.HandleAutoReplenish)
	cron.POST("/auto-replenish", h.HandleAutoReplenish)

	api := router.Group("/api/replenish", auth.BearerSecretMiddleware(cfg.ServiceToken))
	api.GET("/attempts", h.HandleListAttempts)
	api.GET("/reconciliation", h.HandleReconciliation)
	api.POST("/attempts/:id/apply-credit", h.HandleApplyCredit)
	api.POST("/attempts/:id/release", h.HandleRelease)

	if h.verifier != nil {
		router.POST("/webhooks/stripe", h.HandleStripeWebhook)
	}
}
