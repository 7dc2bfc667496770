package db

import (
	"context"
	"fmt"
	"time"

	"lifesync/internal/scheduler"
	"lifesync/internal/types"
)

// defaultReportRange covers reports whose date_range is absent or invalid.
const defaultReportRange = 30 * 24 * time.Hour

// Compile-time assertion that ReportBuilder implements types.ReportGenerator.
var _ types.ReportGenerator = (*ReportBuilder)(nil)

// ReportBuilder produces operational summary reports with SQL aggregation.
// It backs the report_generation task type.
type ReportBuilder struct {
	db    DBTX
	clock types.Clock
}

// NewReportBuilder creates a ReportBuilder.
func NewReportBuilder(db DBTX, clock types.Clock) *ReportBuilder {
	return &ReportBuilder{db: db, clock: clock}
}

// Generate builds the named report over the trailing dateRange window.
// dateRange uses the task interval syntax ("30d", "12h"); absent or invalid
// ranges fall back to 30 days.
func (g *ReportBuilder) Generate(ctx context.Context, reportType string, dateRange string) (types.JSONB, error) {
	window := defaultReportRange
	if dateRange != "" {
		if millis, err := scheduler.ParseInterval(dateRange); err == nil {
			window = time.Duration(millis) * time.Millisecond
		}
	}
	since := g.clock.Now().Add(-window)

	switch reportType {
	case "tasks_summary":
		return g.tasksSummary(ctx, since)
	case "alerts_summary":
		return g.alertsSummary(ctx, since)
	case "donations_summary":
		return g.donationsSummary(ctx, since)
	default:
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("unknown report type %q", reportType), nil)
	}
}

// tasksSummary counts tasks by status created in the window.
func (g *ReportBuilder) tasksSummary(ctx context.Context, since time.Time) (types.JSONB, error) {
	counts, err := g.countsBy(ctx,
		`SELECT status, COUNT(*) FROM scheduled_tasks WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, err
	}
	return types.JSONB{
		"report_type": "tasks_summary",
		"since":       since.Format(time.RFC3339),
		"by_status":   counts,
	}, nil
}

// alertsSummary counts alert log entries by outcome in the window.
func (g *ReportBuilder) alertsSummary(ctx context.Context, since time.Time) (types.JSONB, error) {
	counts, err := g.countsBy(ctx,
		`SELECT outcome, COUNT(*) FROM alert_records WHERE created_at >= $1 GROUP BY outcome`, since)
	if err != nil {
		return nil, err
	}
	return types.JSONB{
		"report_type": "alerts_summary",
		"since":       since.Format(time.RFC3339),
		"by_outcome":  counts,
	}, nil
}

// donationsSummary aggregates donation count and total in the window.
func (g *ReportBuilder) donationsSummary(ctx context.Context, since time.Time) (types.JSONB, error) {
	var count int
	var total float64
	err := g.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0)
		 FROM donations
		 WHERE donated_at >= $1`,
		since.UnixMilli(),
	).Scan(&count, &total)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate donations", err)
	}

	return types.JSONB{
		"report_type":    "donations_summary",
		"since":          since.Format(time.RFC3339),
		"donation_count": count,
		"total_amount":   total,
	}, nil
}

// countsBy runs a two-column (label, count) aggregation query.
func (g *ReportBuilder) countsBy(ctx context.Context, query string, since time.Time) (map[string]int, error) {
	rows, err := g.db.Query(ctx, query, since)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate report counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan report row", err)
		}
		counts[label] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate report rows", err)
	}
	return counts, nil
}
