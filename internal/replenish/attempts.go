package replenish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"steward/internal/bundles"
	"steward/pkg/logging"
)

const attemptColumns = `id, workspace_id, type, bundle, quantity, amount_cents, currency, status,
	COALESCE(payment_intent_id, ''), COALESCE(error_code, ''), COALESCE(error_message, ''),
	credited_at, completed_at, created_at, updated_at`

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var (
		a           Attempt
		typ         string
		creditedAt  sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.WorkspaceID, &typ, &a.Bundle, &a.Quantity, &a.AmountCents, &a.Currency, &a.Status,
		&a.PaymentIntentID, &a.ErrorCode, &a.ErrorMessage,
		&creditedAt, &completedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = bundles.Type(typ)
	if creditedAt.Valid {
		t := creditedAt.Time
		a.CreditedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

func queryAttempts(ctx context.Context, db *sql.DB, query string, args ...any) ([]Attempt, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AttemptFilter narrows ListAttempts. Empty fields match everything.
type AttemptFilter struct {
	WorkspaceID string
	Type        bundles.Type
	Status      string
	Limit       int
}

// ListAttempts returns attempts newest first.
func (j *Job) ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("workspace_id", f.WorkspaceID)
	add("type", string(f.Type))
	add("status", f.Status)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	args = append(args, limit)

	query := "SELECT " + attemptColumns + " FROM steward.replenish_attempts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	attempts, err := queryAttempts(ctx, j.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list replenish attempts: %w", err)
	}
	return attempts, nil
}

// GetAttempt loads one attempt by id.
func (j *Job) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	a, err := scanAttempt(j.db.QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM steward.replenish_attempts WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load replenish attempt: %w", err)
	}
	return a, nil
}

// Reconciliation lists the attempts that need an operator: charges that went
// through without a credit, processing rows older than the stale window, and
// requires_action rows no webhook settled within that window.
type Reconciliation struct {
	Uncredited          []Attempt `json:"uncredited"`
	StaleProcessing     []Attempt `json:"stale_processing"`
	StaleRequiresAction []Attempt `json:"stale_requires_action"`
	StaleAfter          string    `json:"stale_after"`
}

// Reconcile builds the reconciliation report.
func (j *Job) Reconcile(ctx context.Context) (*Reconciliation, error) {
	uncredited, err := queryAttempts(ctx, j.db, "SELECT "+attemptColumns+`
		FROM steward.replenish_attempts
		WHERE status = 'succeeded' AND credited_at IS NULL
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncredited attempts: %w", err)
	}

	cutoff := j.now().Add(-j.staleAfter)
	stale, err := queryAttempts(ctx, j.db, "SELECT "+attemptColumns+`
		FROM steward.replenish_attempts
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale attempts: %w", err)
	}

	// Without the webhook route, or when its event was lost, a requires_action
	// attempt never settles on its own. The customer may already have paid.
	waiting, err := queryAttempts(ctx, j.db, "SELECT "+attemptColumns+`
		FROM steward.replenish_attempts
		WHERE status = 'requires_action' AND updated_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled attempts: %w", err)
	}

	return &Reconciliation{
		Uncredited:          uncredited,
		StaleProcessing:     stale,
		StaleRequiresAction: waiting,
		StaleAfter:          j.staleAfter.String(),
	}, nil
}

// ApplyCredit credits a succeeded attempt that was never credited.
func (j *Job) ApplyCredit(ctx context.Context, id string) (*Attempt, error) {
	a, err := j.GetAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusSucceeded {
		return nil, fmt.Errorf("%w: attempt is %s, not succeeded", ErrInvalidTransition, a.Status)
	}
	if a.CreditedAt != nil {
		return nil, fmt.Errorf("%w: attempt already credited", ErrInvalidTransition)
	}

	if err := j.applyCredit(ctx, a.ID, a.WorkspaceID, a.Type, a.Quantity); err != nil {
		return nil, err
	}

	now := j.now().UTC()
	a.CreditedAt = &now
	j.logger.WithFields(logging.Fields{
		"attempt_id":   a.ID,
		"workspace_id": a.WorkspaceID,
		"type":         a.Type,
	}).Info("Applied credit during reconciliation")
	j.publish(ctx, eventFor(EventCredited, a))
	return a, nil
}

// Release fails a processing attempt older than the stale window so the pair
// can be claimed again. The charge may still have gone through; operators
// check the payment provider before releasing.
func (j *Job) Release(ctx context.Context, id string) (*Attempt, error) {
	a, err := scanAttempt(j.db.QueryRowContext(ctx, `
		UPDATE steward.replenish_attempts
		SET status = 'failed', error_code = $2, error_message = 'Released by operator',
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND created_at < $3
		RETURNING `+attemptColumns, id, errorCodeReleased, j.now().Add(-j.staleAfter)))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := j.GetAttempt(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != StatusProcessing {
			return nil, fmt.Errorf("%w: attempt is %s, not processing", ErrInvalidTransition, current.Status)
		}
		return nil, fmt.Errorf("%w: attempt is not stale yet", ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release attempt: %w", err)
	}

	j.logger.WithFields(logging.Fields{
		"attempt_id":   a.ID,
		"workspace_id": a.WorkspaceID,
		"type":         a.Type,
	}).Warn("Released stale processing attempt")
	j.publish(ctx, eventFor(EventFailed, a))
	return a, nil
}

// CompletePaymentIntent handles a confirmed payment for an attempt that was
// waiting on customer action: the attempt becomes succeeded, then the credit
// is applied. A nil attempt means no requires_action attempt matched.
func (j *Job) CompletePaymentIntent(ctx context.Context, paymentIntentID string) (*Attempt, error) {
	a, err := scanAttempt(j.db.QueryRowContext(ctx, `
		UPDATE steward.replenish_attempts
		SET status = 'succeeded', error_code = NULL, error_message = NULL,
			completed_at = NOW(), updated_at = NOW()
		WHERE payment_intent_id = $1 AND status = 'requires_action'
		RETURNING `+attemptColumns, paymentIntentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete attempt: %w", err)
	}

	j.metrics.observeCharge(string(a.Type), a.AmountCents)
	j.publish(ctx, eventFor(EventSucceeded, a))

	if err := j.applyCredit(ctx, a.ID, a.WorkspaceID, a.Type, a.Quantity); err != nil {
		if appendErr := j.appendCreditError(ctx, a.ID, err); appendErr != nil {
			j.logger.WithError(appendErr).WithField("attempt_id", a.ID).Error("Failed to record credit error on attempt")
		}
		ev := eventFor(EventCreditFailed, a)
		ev.ErrorMessage = err.Error()
		j.publish(ctx, ev)
		return a, fmt.Errorf("credit application failed: %w", err)
	}

	now := j.now().UTC()
	a.CreditedAt = &now
	return a, nil
}

// FailPaymentIntent marks a requires_action attempt failed after the
// customer's authentication or the retried payment failed.
func (j *Job) FailPaymentIntent(ctx context.Context, paymentIntentID, code, message string) (*Attempt, error) {
	a, err := scanAttempt(j.db.QueryRowContext(ctx, `
		UPDATE steward.replenish_attempts
		SET status = 'failed', error_code = $2, error_message = $3,
			completed_at = NOW(), updated_at = NOW()
		WHERE payment_intent_id = $1 AND status = 'requires_action'
		RETURNING `+attemptColumns, paymentIntentID, nullString(code), nullString(message)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fail attempt: %w", err)
	}

	ev := eventFor(EventFailed, a)
	j.publish(ctx, ev)
	j.notify(ctx, ev)
	return a, nil
}

func eventFor(eventType string, a *Attempt) Event {
	return Event{
		Type:            eventType,
		AttemptID:       a.ID,
		WorkspaceID:     a.WorkspaceID,
		BalanceType:     a.Type,
		Bundle:          a.Bundle,
		Quantity:        a.Quantity,
		AmountCents:     a.AmountCents,
		Currency:        a.Currency,
		PaymentIntentID: a.PaymentIntentID,
		ErrorCode:       a.ErrorCode,
		ErrorMessage:    a.ErrorMessage,
	}
}
