package replenish

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"steward/internal/bundles"
)

const scanSMSQuery = `
	SELECT workspace_id, balance, auto_replenish_threshold, COALESCE(auto_replenish_bundle, '')
	FROM steward.sms_credit_balances
	WHERE auto_replenish_enabled = TRUE
	ORDER BY workspace_id
`

const scanMinutesQuery = `
	SELECT workspace_id, balance_seconds, auto_replenish_threshold, COALESCE(auto_replenish_bundle, '')
	FROM steward.call_minute_balances
	WHERE auto_replenish_enabled = TRUE
	ORDER BY workspace_id
`

// Scan returns every enabled balance strictly below its threshold, SMS first.
// Minute balances are stored in seconds and compared in minutes.
func (j *Job) Scan(ctx context.Context) ([]Candidate, error) {
	start := time.Now()
	sms, err := scanTable(ctx, j.db, scanSMSQuery, bundles.TypeSMS, 1)
	j.metrics.observeQuery("scan_sms", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to scan sms balances: %w", err)
	}
	start = time.Now()
	minutes, err := scanTable(ctx, j.db, scanMinutesQuery, bundles.TypeMinutes, 60)
	j.metrics.observeQuery("scan_minutes", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to scan call minute balances: %w", err)
	}
	return append(sms, minutes...), nil
}

func scanTable(ctx context.Context, db *sql.DB, query string, typ bundles.Type, divisor float64) ([]Candidate, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Candidate
	for rows.Next() {
		var (
			workspaceID string
			raw         int64
			threshold   int64
			bundleID    string
		)
		if err := rows.Scan(&workspaceID, &raw, &threshold, &bundleID); err != nil {
			return nil, err
		}

		balance := float64(raw) / divisor
		if balance >= float64(threshold) {
			continue
		}
		out = append(out, Candidate{
			WorkspaceID: workspaceID,
			Type:        typ,
			Balance:     balance,
			Threshold:   threshold,
			BundleID:    bundleID,
		})
	}
	return out, rows.Err()
}
