// Package replenish tops up SMS credit and call-minute balances that fell below
// their workspace's threshold by charging the saved card for a bundle.
//
// A run scans both balance tables, then for each candidate checks the success
// cooldown and the saved payment method, claims the (workspace, type) pair by
// inserting a processing attempt, charges, marks the attempt succeeded and only
// then credits the balance. The partial unique index
// replenish_attempts_one_processing is the only mutual exclusion between
// overlapping runs.
package replenish

import (
	"context"
	"errors"
	"time"

	"steward/internal/bundles"
)

// Attempt statuses as stored in steward.replenish_attempts.
const (
	StatusProcessing     = "processing"
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
	StatusRequiresAction = "requires_action"
)

// Detail statuses reported in a run summary.
const (
	DetailSuccess        = "success"
	DetailFailed         = "failed"
	DetailSkipped        = "skipped"
	DetailRequiresAction = "requires_action"
)

// Skip and failure reasons surfaced in Detail.Error.
const (
	ReasonRecentAttempt     = "Recent attempt exists"
	ReasonNoPaymentMethod   = "No payment method"
	ReasonAlreadyInProgress = "Attempt already in progress"
	ReasonNoBundle          = "No bundle configured"
)

const (
	errorCodeCharge   = "charge_error"
	errorCodeReleased = "released"
)

var (
	// ErrAttemptNotFound is returned when an attempt id does not exist.
	ErrAttemptNotFound = errors.New("replenish attempt not found")
	// ErrInvalidTransition is returned when an attempt is not in the status an
	// operation requires.
	ErrInvalidTransition = errors.New("invalid replenish attempt transition")
)

// Candidate is one (workspace, type) whose balance is below its threshold.
// Balance is in credits for SMS and in minutes for call minutes.
type Candidate struct {
	WorkspaceID string
	Type        bundles.Type
	Balance     float64
	Threshold   int64
	BundleID    string
}

// Detail is the per-candidate outcome of a run.
type Detail struct {
	WorkspaceID string       `json:"workspaceId"`
	Type        bundles.Type `json:"type"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	AttemptID   string       `json:"attemptId,omitempty"`
}

// Summary is the result of one run. requires_action details are tallied
// under Failed.
type Summary struct {
	Success    bool     `json:"success"`
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Details    []Detail `json:"details"`
}

func newSummary() *Summary {
	return &Summary{Details: []Detail{}}
}

func (s *Summary) add(d Detail) {
	s.Processed++
	switch d.Status {
	case DetailSuccess:
		s.Successful++
	case DetailSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
	s.Details = append(s.Details, d)
}

// Attempt is one row of the attempt audit trail.
type Attempt struct {
	ID              string       `json:"id"`
	WorkspaceID     string       `json:"workspace_id"`
	Type            bundles.Type `json:"type"`
	Bundle          string       `json:"bundle"`
	Quantity        int64        `json:"quantity"`
	AmountCents     int64        `json:"amount_cents"`
	Currency        string       `json:"currency"`
	Status          string       `json:"status"`
	PaymentIntentID string       `json:"payment_intent_id,omitempty"`
	ErrorCode       string       `json:"error_code,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	CreditedAt      *time.Time   `json:"credited_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Charge outcomes reported by a Charger.
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeFailed         = "failed"
	OutcomeRequiresAction = "requires_action"
)

// ChargeRequest is an off-session charge against a workspace's saved card.
type ChargeRequest struct {
	WorkspaceID    string
	AmountCents    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// ChargeResult is the provider's verdict on a charge.
type ChargeResult struct {
	Outcome         string
	PaymentIntentID string
	ErrorCode       string
	ErrorMessage    string
}

// Charger is the payment primitive the job charges through. An error return
// means the outcome is unknown; provider declines come back as a result.
type Charger interface {
	HasSavedPaymentMethod(ctx context.Context, workspaceID string) (bool, error)
	CreateDirectCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Event types published for terminal attempt outcomes.
const (
	EventSucceeded      = "replenish.succeeded"
	EventFailed         = "replenish.failed"
	EventRequiresAction = "replenish.requires_action"
	EventCreditFailed   = "replenish.credit_failed"
	EventCredited       = "replenish.credited"
)

// Event describes an attempt outcome for downstream consumers.
type Event struct {
	Type            string       `json:"event_type"`
	AttemptID       string       `json:"attempt_id"`
	WorkspaceID     string       `json:"workspace_id"`
	BalanceType     bundles.Type `json:"balance_type"`
	Bundle          string       `json:"bundle"`
	Quantity        int64        `json:"quantity"`
	AmountCents     int64        `json:"amount_cents"`
	Currency        string       `json:"currency"`
	PaymentIntentID string       `json:"payment_intent_id,omitempty"`
	ErrorCode       string       `json:"error_code,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	OccurredAt      time.Time    `json:"occurred_at"`
}

// Publisher emits attempt events. Publish failures are logged, never fatal.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier tells a workspace that its card could not be charged.
type Notifier interface {
	NotifyChargeProblem(ctx context.Context, event Event) error
}
