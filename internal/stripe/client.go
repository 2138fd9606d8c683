package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"steward/pkg/clients"
	"steward/pkg/logging"
)

// Charge outcomes returned by CreateOffSessionCharge.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeFailed         = "failed"
	OutcomeRequiresAction = "requires_action"
)

// Client wraps the Stripe calls auto-replenish needs: off-session card
// charges, customer payment method lookup and webhook verification.
type Client struct {
	webhookSecret string
	logger        logging.Logger
	executor      *clients.Executor[*stripe.PaymentIntent]

	newPaymentIntent func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getCustomer      func(string, *stripe.CustomerParams) (*stripe.Customer, error)
}

// Config for creating a new Stripe client
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	Logger        logging.Logger
	// Retry overrides the transport retry policy; zero value uses the defaults.
	Retry *clients.ExecutorConfig
}

// NewClient creates a new Stripe client
func NewClient(config Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = config.SecretKey

	retry := clients.DefaultExecutorConfig("stripe")
	if config.Retry != nil {
		retry = *config.Retry
	}
	retry.ShouldRetry = IsRetryable
	retry.Logger = config.Logger

	return &Client{
		webhookSecret:    config.WebhookSecret,
		logger:           config.Logger,
		executor:         clients.NewExecutor[*stripe.PaymentIntent](retry),
		newPaymentIntent: paymentintent.New,
		getCustomer:      customer.Get,
	}
}

// OffSessionCharge describes a charge against a saved card without the
// customer present.
type OffSessionCharge struct {
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Currency        string
	Description     string
	Metadata        map[string]string
	// IdempotencyKey is sent on every retry so Stripe never creates a second
	// PaymentIntent for the same attempt.
	IdempotencyKey string
}

// ChargeOutcome is Stripe's verdict on an off-session charge.
type ChargeOutcome struct {
	Outcome         string
	PaymentIntentID string
	ErrorCode       string
	ErrorMessage    string
}

// CreateOffSessionCharge creates and confirms a PaymentIntent. Card declines
// and authentication requests come back as outcomes, not errors; an error
// means the charge state is unknown (transport failure, open circuit, bad
// request).
func (c *Client) CreateOffSessionCharge(ctx context.Context, charge OffSessionCharge) (*ChargeOutcome, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(charge.AmountCents),
		Currency:      stripe.String(charge.Currency),
		Customer:      stripe.String(charge.CustomerID),
		PaymentMethod: stripe.String(charge.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if charge.Description != "" {
		params.Description = stripe.String(charge.Description)
	}
	for k, v := range charge.Metadata {
		params.AddMetadata(k, v)
	}
	if charge.IdempotencyKey != "" {
		params.SetIdempotencyKey(charge.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := c.executor.Get(ctx, func() (*stripe.PaymentIntent, error) {
		return c.newPaymentIntent(params)
	})
	if err != nil {
		return outcomeFromError(err)
	}

	outcome := outcomeFromIntent(pi)
	c.logger.WithFields(logging.Fields{
		"payment_intent_id": pi.ID,
		"status":            pi.Status,
		"outcome":           outcome.Outcome,
		"customer_id":       charge.CustomerID,
	}).Info("Off-session charge confirmed")
	return outcome, nil
}

func outcomeFromIntent(pi *stripe.PaymentIntent) *ChargeOutcome {
	out := &ChargeOutcome{PaymentIntentID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Outcome = OutcomeSucceeded
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation, stripe.PaymentIntentStatusProcessing:
		// processing settles through the payment_intent webhooks, the same
		// way a completed authentication does.
		out.Outcome = OutcomeRequiresAction
		out.ErrorCode = string(pi.Status)
	default:
		out.Outcome = OutcomeFailed
		out.ErrorCode = string(pi.Status)
		if pi.LastPaymentError != nil {
			out.ErrorCode = lastErrorCode(pi.LastPaymentError)
			out.ErrorMessage = pi.LastPaymentError.Msg
		}
	}
	return out
}

func outcomeFromError(err error) (*ChargeOutcome, error) {
	var se *stripe.Error
	if !errors.As(err, &se) || se.Type != stripe.ErrorTypeCard {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	out := &ChargeOutcome{
		Outcome:      OutcomeFailed,
		ErrorCode:    lastErrorCode(se),
		ErrorMessage: se.Msg,
	}
	if se.PaymentIntent != nil {
		out.PaymentIntentID = se.PaymentIntent.ID
	}
	if se.Code == stripe.ErrorCodeAuthenticationRequired {
		out.Outcome = OutcomeRequiresAction
	}
	return out, nil
}

// lastErrorCode prefers the issuer's decline code over the generic error code.
func lastErrorCode(se *stripe.Error) string {
	if se.DeclineCode != "" {
		return string(se.DeclineCode)
	}
	if se.Code != "" {
		return string(se.Code)
	}
	return string(se.Type)
}

// IsRetryable reports whether a Stripe call failed in transport rather than
// with a verdict. Stripe errors of type api_error, 429s and 5xx are retried;
// anything that is not a *stripe.Error is treated as a network failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return true
	}
	if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError {
		return true
	}
	return se.Type == stripe.ErrorTypeAPI
}

// DefaultPaymentMethod returns the customer's invoice default payment method,
// or "" when none is set.
func (c *Client) DefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := c.getCustomer(customerID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get Stripe customer: %w", err)
	}
	if cust.Deleted || cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", nil
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID, nil
}

// BreakerState exposes the charge circuit breaker state for health checks.
func (c *Client) BreakerState() clients.CircuitBreakerState {
	return c.executor.State()
}

// VerifyAndParseWebhook verifies the webhook signature and parses the event
func (c *Client) VerifyAndParseWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}

// PaymentIntentFromEvent extracts the payment intent from a payment_intent.* event
func PaymentIntentFromEvent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.requires_action", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := pi.UnmarshalJSON(event.Data.Raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment intent: %w", err)
		}
		return &pi, nil
	default:
		return nil, fmt.Errorf("event type %s does not contain payment intent data", event.Type)
	}
}
