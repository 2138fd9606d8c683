package replenish

import (
	"context"
	"errors"
	"fmt"

	"steward/internal/bundles"
	"steward/pkg/database"
)

// errClaimTaken means another run holds the processing attempt for the pair.
var errClaimTaken = errors.New("processing attempt already exists")

// hasRecentSuccess reports whether the pair was charged successfully within
// the cooldown, in which case the balance may not reflect the credit yet.
func (j *Job) hasRecentSuccess(ctx context.Context, workspaceID string, typ bundles.Type) (bool, error) {
	if j.cooldown <= 0 {
		return false, nil
	}

	var exists bool
	err := j.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM steward.replenish_attempts
			WHERE workspace_id = $1 AND type = $2 AND status = 'succeeded' AND created_at > $3
		)
	`, workspaceID, string(typ), j.now().Add(-j.cooldown)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent attempts: %w", err)
	}
	return exists, nil
}

// claim inserts the processing attempt for the pair. The partial unique index
// rejects a second processing row, which is reported as errClaimTaken.
func (j *Job) claim(ctx context.Context, workspaceID string, b bundles.Bundle) (string, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `
		INSERT INTO steward.replenish_attempts
			(workspace_id, type, bundle, quantity, amount_cents, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'processing', NOW(), NOW())
		RETURNING id
	`, workspaceID, string(b.Type), b.ID, b.Quantity, b.PriceCents, b.Currency).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return "", errClaimTaken
		}
		return "", fmt.Errorf("failed to insert replenish attempt: %w", err)
	}
	return id, nil
}

// hasEarlierProblem reports whether the pair already failed with the same
// error code since its last successful attempt. The billing contact was told
// on that first failure; later ticks against the same card stay quiet until
// a charge succeeds or the error changes.
func (j *Job) hasEarlierProblem(ctx context.Context, workspaceID string, typ bundles.Type, attemptID, errorCode string) (bool, error) {
	var exists bool
	err := j.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM steward.replenish_attempts a
			WHERE a.workspace_id = $1 AND a.type = $2 AND a.id <> $3
				AND a.status IN ('failed', 'requires_action')
				AND COALESCE(a.error_code, '') = $4
				AND a.created_at > COALESCE((
					SELECT MAX(s.created_at) FROM steward.replenish_attempts s
					WHERE s.workspace_id = $1 AND s.type = $2 AND s.status = 'succeeded'
				), '-infinity'::timestamptz)
		)
	`, workspaceID, string(typ), attemptID, errorCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check earlier charge problems: %w", err)
	}
	return exists, nil
}
