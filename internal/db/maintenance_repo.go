package db

import (
	"context"
	"encoding/json"
	"fmt"

	"lifesync/internal/types"
)

// collections eligible for backup snapshots. SnapshotCollection refuses
// anything else so task data cannot name arbitrary tables.
var snapshotTables = map[string]string{
	"tasks":      "scheduled_tasks",
	"products":   "tracked_products",
	"recipients": "recipients",
	"alerts":     "alert_records",
	"reports":    "task_reports",
}

// MaintenanceRepository backs the data_cleanup, report_generation,
// donation_reminder, and backup task handlers.
type MaintenanceRepository struct {
	db DBTX
}

// NewMaintenanceRepository creates a MaintenanceRepository.
func NewMaintenanceRepository(db DBTX) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// DeleteSessionsBefore purges session rows that expired before cutoff (epoch
// millis) and returns the number removed.
func (r *MaintenanceRepository) DeleteSessionsBefore(ctx context.Context, cutoff int64) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListStaleDonors returns non-admin recipients whose most recent donation is
// older than lastDonationBefore (epoch millis). Recipients with no donations
// at all are excluded; they get onboarding messaging elsewhere.
func (r *MaintenanceRepository) ListStaleDonors(ctx context.Context, lastDonationBefore int64, limit int) ([]types.Recipient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.email, COALESCE(r.phone, ''), r.language,
		        r.pref_email, r.pref_whatsapp, r.pref_price_alerts
		 FROM recipients r
		 JOIN (
		   SELECT recipient_id, MAX(donated_at) AS last_donation
		   FROM donations
		   GROUP BY recipient_id
		 ) d ON d.recipient_id = r.id
		 WHERE d.last_donation < $1 AND r.role <> 'admin'
		 ORDER BY d.last_donation ASC
		 LIMIT $2`,
		lastDonationBefore, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale donors", err)
	}
	defer rows.Close()

	var donors []types.Recipient
	for rows.Next() {
		var rec types.Recipient
		if err := rows.Scan(
			&rec.ID,
			&rec.Email,
			&rec.Phone,
			&rec.Language,
			&rec.Prefs.Email,
			&rec.Prefs.WhatsApp,
			&rec.Prefs.PriceAlerts,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan donor", err)
		}
		donors = append(donors, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate donors", err)
	}
	return donors, nil
}

// StoreReport persists generated report content keyed by the producing task.
// Re-running the task overwrites the previous report.
func (r *MaintenanceRepository) StoreReport(ctx context.Context, taskID string, report types.JSONB) error {
	payload, err := marshalJSONB(report)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO task_reports (task_id, content, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (task_id) DO UPDATE
		 SET content = EXCLUDED.content, created_at = NOW()`,
		taskID, payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store report", err)
	}
	return nil
}

// SnapshotCollection returns every row of a named collection as a JSON
// object, using row_to_json so the snapshot tracks schema changes without
// repository edits.
func (r *MaintenanceRepository) SnapshotCollection(ctx context.Context, name string) ([]types.JSONB, error) {
	table, ok := snapshotTables[name]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("unknown backup collection %q", name), nil)
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT row_to_json(t) FROM %s t`, table))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to snapshot collection", err)
	}
	defer rows.Close()

	var out []types.JSONB
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan snapshot row", err)
		}
		var obj types.JSONB
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode snapshot row", err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate snapshot", err)
	}
	return out, nil
}
