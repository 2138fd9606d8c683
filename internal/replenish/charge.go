package replenish

import (
	"context"
	"fmt"

	"steward/internal/bundles"
)

func idempotencyKey(attemptID string) string {
	return "auto-replenish:" + attemptID
}

func chargeRequest(attemptID, workspaceID string, b bundles.Bundle) ChargeRequest {
	unit := "SMS credits"
	if b.Type == bundles.TypeMinutes {
		unit = "call minutes"
	}
	return ChargeRequest{
		WorkspaceID: workspaceID,
		AmountCents: b.PriceCents,
		Currency:    b.Currency,
		Description: fmt.Sprintf("Auto-replenish: %d %s (%s)", b.Quantity, unit, b.Name),
		Metadata: map[string]string{
			"attempt_id":   attemptID,
			"workspace_id": workspaceID,
			"type":         string(b.Type),
			"bundle":       b.ID,
			"purpose":      "auto_replenish",
		},
		IdempotencyKey: idempotencyKey(attemptID),
	}
}

// markSucceeded moves a processing attempt to succeeded. It must commit
// before any balance mutation so a crash can leave a charge uncredited but
// never charge twice.
func (j *Job) markSucceeded(ctx context.Context, attemptID, paymentIntentID string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE steward.replenish_attempts
		SET status = 'succeeded', payment_intent_id = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, attemptID, nullString(paymentIntentID))
	if err != nil {
		return fmt.Errorf("failed to mark attempt succeeded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: attempt %s is no longer processing", ErrInvalidTransition, attemptID)
	}
	return nil
}

// markOutcome records a failed or requires_action verdict for a processing attempt.
func (j *Job) markOutcome(ctx context.Context, attemptID, status, paymentIntentID, code, message string) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE steward.replenish_attempts
		SET status = $2, payment_intent_id = $3, error_code = $4, error_message = $5,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, attemptID, status, nullString(paymentIntentID), nullString(code), nullString(message))
	if err != nil {
		return fmt.Errorf("failed to mark attempt %s: %w", status, err)
	}
	return nil
}

// charge calls the charger for a claimed attempt. Charger errors and
// unrecognized outcomes are folded into a failed result with charge_error.
func (j *Job) charge(ctx context.Context, attemptID, workspaceID string, b bundles.Bundle) ChargeResult {
	result, err := j.charger.CreateDirectCharge(ctx, chargeRequest(attemptID, workspaceID, b))
	if err != nil {
		return ChargeResult{
			Outcome:      OutcomeFailed,
			ErrorCode:    errorCodeCharge,
			ErrorMessage: err.Error(),
		}
	}

	switch result.Outcome {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRequiresAction:
		return result
	default:
		return ChargeResult{
			Outcome:         OutcomeFailed,
			PaymentIntentID: result.PaymentIntentID,
			ErrorCode:       errorCodeCharge,
			ErrorMessage:    fmt.Sprintf("unknown charge outcome %q", result.Outcome),
		}
	}
}
