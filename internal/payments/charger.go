// Package payments resolves a workspace's billing profile and charges its
// saved card through Stripe.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"steward/internal/replenish"
	stripeapi "steward/internal/stripe"
	"steward/pkg/logging"
)

const errorCodeNoPaymentMethod = "no_payment_method"

// StripeAPI is the subset of the Stripe client the charger uses.
type StripeAPI interface {
	CreateOffSessionCharge(ctx context.Context, charge stripeapi.OffSessionCharge) (*stripeapi.ChargeOutcome, error)
	DefaultPaymentMethod(ctx context.Context, customerID string) (string, error)
}

// Profile is a workspace's row in steward.workspace_billing.
type Profile struct {
	WorkspaceID     string
	WorkspaceName   string
	BillingEmail    string
	CustomerID      string
	PaymentMethodID string
}

// DirectCharger charges a workspace's saved card off-session.
type DirectCharger struct {
	db      *sql.DB
	stripe  StripeAPI
	methods *methodCache
	logger  logging.Logger
}

func NewDirectCharger(db *sql.DB, stripe StripeAPI, logger logging.Logger) *DirectCharger {
	return &DirectCharger{
		db:      db,
		stripe:  stripe,
		methods: newMethodCache(defaultMethodTTL),
		logger:  logger,
	}
}

// LookupProfile loads the billing profile; a missing row returns (nil, nil).
func (c *DirectCharger) LookupProfile(ctx context.Context, workspaceID string) (*Profile, error) {
	p := Profile{WorkspaceID: workspaceID}
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(workspace_name, ''), COALESCE(billing_email, ''),
			COALESCE(stripe_customer_id, ''), COALESCE(default_payment_method_id, '')
		FROM steward.workspace_billing
		WHERE workspace_id = $1
	`, workspaceID).Scan(&p.WorkspaceName, &p.BillingEmail, &p.CustomerID, &p.PaymentMethodID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load billing profile: %w", err)
	}
	return &p, nil
}

// resolve returns the customer and card to charge. Either may be empty when
// the workspace has nothing on file. A stored payment method wins over the
// customer's Stripe default.
func (c *DirectCharger) resolve(ctx context.Context, workspaceID string) (customerID, paymentMethodID string, err error) {
	p, err := c.LookupProfile(ctx, workspaceID)
	if err != nil || p == nil || p.CustomerID == "" {
		return "", "", err
	}
	if p.PaymentMethodID != "" {
		return p.CustomerID, p.PaymentMethodID, nil
	}

	pm, err := c.methods.get(ctx, p.CustomerID, c.stripe.DefaultPaymentMethod)
	if err != nil {
		return p.CustomerID, "", err
	}
	return p.CustomerID, pm, nil
}

// HasSavedPaymentMethod reports whether the workspace has a chargeable card.
func (c *DirectCharger) HasSavedPaymentMethod(ctx context.Context, workspaceID string) (bool, error) {
	_, pm, err := c.resolve(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return pm != "", nil
}

// CreateDirectCharge charges the workspace's saved card.
func (c *DirectCharger) CreateDirectCharge(ctx context.Context, req replenish.ChargeRequest) (replenish.ChargeResult, error) {
	customerID, pm, err := c.resolve(ctx, req.WorkspaceID)
	if err != nil {
		return replenish.ChargeResult{}, err
	}
	if pm == "" {
		return replenish.ChargeResult{
			Outcome:      replenish.OutcomeFailed,
			ErrorCode:    errorCodeNoPaymentMethod,
			ErrorMessage: "No saved payment method",
		}, nil
	}

	out, err := c.stripe.CreateOffSessionCharge(ctx, stripeapi.OffSessionCharge{
		CustomerID:      customerID,
		PaymentMethodID: pm,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		Description:     req.Description,
		Metadata:        req.Metadata,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"workspace_id": req.WorkspaceID,
			"customer_id":  customerID,
			"error":        err,
		}).Error("Stripe charge failed without a verdict")
		return replenish.ChargeResult{}, err
	}

	return replenish.ChargeResult{
		Outcome:         out.Outcome,
		PaymentIntentID: out.PaymentIntentID,
		ErrorCode:       out.ErrorCode,
		ErrorMessage:    out.ErrorMessage,
	}, nil
}
