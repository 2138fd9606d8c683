package replenish

import (
	"context"
	"database/sql"
	"fmt"

	"steward/internal/bundles"
	"steward/pkg/database"
	"steward/pkg/logging"
)

const balanceTransactionsReference = "balance_transactions_reference"

// AddSMSCredits adds credits to a workspace's SMS balance for an attempt.
func (j *Job) AddSMSCredits(ctx context.Context, workspaceID string, credits int64, attemptID string) error {
	return j.addBalance(ctx, `
		INSERT INTO steward.sms_credit_balances (workspace_id, balance, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (workspace_id) DO UPDATE
		SET balance = steward.sms_credit_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, bundles.TypeSMS, workspaceID, credits, attemptID)
}

// AddCallMinutes adds minutes to a workspace's call balance for an attempt.
// The balance is kept in seconds.
func (j *Job) AddCallMinutes(ctx context.Context, workspaceID string, minutes int64, attemptID string) error {
	return j.addBalance(ctx, `
		INSERT INTO steward.call_minute_balances (workspace_id, balance_seconds, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (workspace_id) DO UPDATE
		SET balance_seconds = steward.call_minute_balances.balance_seconds + EXCLUDED.balance_seconds, updated_at = NOW()
		RETURNING balance_seconds
	`, bundles.TypeMinutes, workspaceID, minutes*60, attemptID)
}

// addBalance upserts the balance, writes the ledger row and stamps the
// attempt as credited in one transaction. A ledger row already referencing
// the attempt means the credit was applied before; that is not an error.
func (j *Job) addBalance(ctx context.Context, upsert string, typ bundles.Type, workspaceID string, amount int64, attemptID string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balanceAfter int64
	if err := tx.QueryRowContext(ctx, upsert, workspaceID, amount).Scan(&balanceAfter); err != nil {
		return fmt.Errorf("failed to update %s balance: %w", typ, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steward.balance_transactions
			(workspace_id, type, amount, balance_after, reason, reference_id, created_at)
		VALUES ($1, $2, $3, $4, 'auto_replenish', $5, NOW())
	`, workspaceID, string(typ), amount, balanceAfter, attemptID)
	if err != nil {
		if database.IsUniqueViolationOn(err, balanceTransactionsReference) {
			j.logger.WithFields(logging.Fields{
				"workspace_id": workspaceID,
				"type":         typ,
				"attempt_id":   attemptID,
			}).Info("Credit already applied for attempt")
			return nil
		}
		return fmt.Errorf("failed to record balance transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE steward.replenish_attempts
		SET credited_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, attemptID); err != nil {
		return fmt.Errorf("failed to stamp attempt credited: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credit transaction: %w", err)
	}

	j.logger.WithFields(logging.Fields{
		"workspace_id":  workspaceID,
		"type":          typ,
		"attempt_id":    attemptID,
		"amount":        amount,
		"balance_after": balanceAfter,
	}).Info("Applied auto-replenish credit")
	return nil
}

// applyCredit credits the bundle quantity of a succeeded attempt.
func (j *Job) applyCredit(ctx context.Context, attemptID, workspaceID string, typ bundles.Type, quantity int64) error {
	switch typ {
	case bundles.TypeSMS:
		return j.AddSMSCredits(ctx, workspaceID, quantity, attemptID)
	case bundles.TypeMinutes:
		return j.AddCallMinutes(ctx, workspaceID, quantity, attemptID)
	default:
		return fmt.Errorf("unknown balance type %q", typ)
	}
}

// appendCreditError records a credit failure on an attempt without touching
// its status; the charge went through, so the row stays succeeded.
func (j *Job) appendCreditError(ctx context.Context, attemptID string, creditErr error) error {
	note := "Credit application failed: " + creditErr.Error()
	_, err := j.db.ExecContext(ctx, `
		UPDATE steward.replenish_attempts
		SET error_message = CASE
				WHEN error_message IS NULL OR error_message = '' THEN $2::text
				ELSE error_message || '; ' || $2::text
			END,
			updated_at = NOW()
		WHERE id = $1
	`, attemptID, note)
	if err != nil {
		return fmt.Errorf("failed to record credit error: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
