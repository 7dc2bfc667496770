package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"lifesync/internal/types"
)

// Cleanup and reminder cutoffs. These match the product rules: sessions
// older than 30 days are purged, donors inactive for 90 days get a reminder.
const (
	sessionRetention = 30 * 24 * time.Hour
	donorStaleness   = 90 * 24 * time.Hour
	staleDonorLimit  = 200
	snapshotParallel = 4
)

// MaintenanceStore defines the database operations the task handlers need.
// Implemented by db.MaintenanceRepository; handlers never reach the backing
// database except through this interface.
type MaintenanceStore interface {
	// DeleteSessionsBefore removes session records that expired before
	// cutoff (epoch millis) and returns the count deleted.
	DeleteSessionsBefore(ctx context.Context, cutoff int64) (int, error)

	// ListStaleDonors returns recipients whose most recent donation is
	// older than lastDonationBefore (epoch millis), excluding admins.
	ListStaleDonors(ctx context.Context, lastDonationBefore int64, limit int) ([]types.Recipient, error)

	// StoreReport persists generated report content keyed by task ID.
	StoreReport(ctx context.Context, taskID string, report types.JSONB) error

	// SnapshotCollection returns all rows of a named collection as JSON
	// objects for backup serialization.
	SnapshotCollection(ctx context.Context, name string) ([]types.JSONB, error)
}

// RecipientStore resolves recipient records for outbound notifications.
type RecipientStore interface {
	GetRecipient(ctx context.Context, id string) (*types.Recipient, error)
}

// ---------------------------------------------------------------------------
// reminder_email
// ---------------------------------------------------------------------------

// ReminderEmailHandler sends a templated reminder email to the recipients
// listed in task data under "user_ids".
type ReminderEmailHandler struct {
	recipients RecipientStore
	sender     types.NotificationSender
	logger     types.Logger
}

// NewReminderEmailHandler creates the reminder_email handler.
func NewReminderEmailHandler(recipients RecipientStore, sender types.NotificationSender, logger types.Logger) *ReminderEmailHandler {
	return &ReminderEmailHandler{recipients: recipients, sender: sender, logger: logger}
}

// Type implements Handler.
func (h *ReminderEmailHandler) Type() types.TaskType { return types.TaskReminderEmail }

// Handle sends one reminder per listed user. A recipient that cannot be
// resolved or reached fails the whole task: reminders are re-runnable, and a
// silent partial send would hide delivery problems.
func (h *ReminderEmailHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	userIDs := stringSlice(task.Data, "user_ids")
	if len(userIDs) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"reminder_email task requires data.user_ids", nil)
	}

	template := stringField(task.Data, "template")
	if template == "" {
		template = "reminder"
	}

	for _, id := range userIDs {
		recipient, err := h.recipients.GetRecipient(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving recipient %s: %w", id, err)
		}

		content := reminderContent(template, recipient.Language)
		if _, err := h.sender.Send(ctx, types.ChannelEmail, recipient.Email, content); err != nil {
			return nil, fmt.Errorf("sending reminder to %s: %w", id, err)
		}

		h.logger.Info("reminder email sent",
			"task_id", task.ID,
			"recipient_id", id,
			"template", template,
		)
	}

	return types.JSONB{"sent": true}, nil
}

// reminderContent builds the localized reminder message body.
func reminderContent(template, language string) types.MessageContent {
	if language == "ar" {
		return types.MessageContent{
			Subject: "تذكير من LifeSync",
			Body:    fmt.Sprintf("لديك تذكير جديد (%s).", template),
		}
	}
	return types.MessageContent{
		Subject: "A reminder from LifeSync",
		Body:    fmt.Sprintf("You have a new reminder (%s).", template),
	}
}

// ---------------------------------------------------------------------------
// data_cleanup
// ---------------------------------------------------------------------------

// DataCleanupHandler purges expired session records older than the fixed
// 30-day retention window.
type DataCleanupHandler struct {
	store MaintenanceStore
	clock types.Clock
}

// NewDataCleanupHandler creates the data_cleanup handler.
func NewDataCleanupHandler(store MaintenanceStore, clock types.Clock) *DataCleanupHandler {
	return &DataCleanupHandler{store: store, clock: clock}
}

// Type implements Handler.
func (h *DataCleanupHandler) Type() types.TaskType { return types.TaskDataCleanup }

// Handle implements Handler.
func (h *DataCleanupHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	cutoff := h.clock.Now().Add(-sessionRetention).UnixMilli()

	deleted, err := h.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting expired sessions: %w", err)
	}

	return types.JSONB{"deleted_count": deleted}, nil
}

// ---------------------------------------------------------------------------
// report_generation
// ---------------------------------------------------------------------------

// ReportGenerationHandler invokes the external report generator with
// parameters from task data and stores the result reference.
type ReportGenerationHandler struct {
	generator types.ReportGenerator
	store     MaintenanceStore
}

// NewReportGenerationHandler creates the report_generation handler.
func NewReportGenerationHandler(generator types.ReportGenerator, store MaintenanceStore) *ReportGenerationHandler {
	return &ReportGenerationHandler{generator: generator, store: store}
}

// Type implements Handler.
func (h *ReportGenerationHandler) Type() types.TaskType { return types.TaskReportGeneration }

// Handle implements Handler.
func (h *ReportGenerationHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	reportType := stringField(task.Data, "report_type")
	dateRange := stringField(task.Data, "date_range")
	if reportType == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"report_generation task requires data.report_type", nil)
	}

	report, err := h.generator.Generate(ctx, reportType, dateRange)
	if err != nil {
		return nil, fmt.Errorf("generating %s report: %w", reportType, err)
	}

	if err := h.store.StoreReport(ctx, task.ID, report); err != nil {
		return nil, fmt.Errorf("storing report: %w", err)
	}

	return types.JSONB{"report_generated": true}, nil
}

// ---------------------------------------------------------------------------
// donation_reminder
// ---------------------------------------------------------------------------

// DonationReminderHandler finds donors with no donation in the last 90 days
// and sends each a reminder.
type DonationReminderHandler struct {
	store  MaintenanceStore
	sender types.NotificationSender
	clock  types.Clock
	logger types.Logger
}

// NewDonationReminderHandler creates the donation_reminder handler.
func NewDonationReminderHandler(store MaintenanceStore, sender types.NotificationSender, clock types.Clock, logger types.Logger) *DonationReminderHandler {
	return &DonationReminderHandler{store: store, sender: sender, clock: clock, logger: logger}
}

// Type implements Handler.
func (h *DonationReminderHandler) Type() types.TaskType { return types.TaskDonationReminder }

// Handle implements Handler. Per-donor send failures are logged and skipped
// rather than failing the task: the reminder sweep is best-effort and the
// next recurrence picks the donor up again.
func (h *DonationReminderHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	before := h.clock.Now().Add(-donorStaleness).UnixMilli()

	donors, err := h.store.ListStaleDonors(ctx, before, staleDonorLimit)
	if err != nil {
		return nil, fmt.Errorf("listing stale donors: %w", err)
	}

	reminded := 0
	for _, donor := range donors {
		content := donationReminderContent(donor.Language)
		if _, err := h.sender.Send(ctx, types.ChannelEmail, donor.Email, content); err != nil {
			h.logger.Warn("donation reminder send failed",
				"task_id", task.ID,
				"recipient_id", donor.ID,
				"error", err.Error(),
			)
			continue
		}
		reminded++
	}

	return types.JSONB{"reminded_count": reminded}, nil
}

func donationReminderContent(language string) types.MessageContent {
	if language == "ar" {
		return types.MessageContent{
			Subject: "نفتقدك في LifeSync",
			Body:    "لم نرَ تبرعًا منك منذ فترة. دعمك يصنع فرقًا.",
		}
	}
	return types.MessageContent{
		Subject: "We miss you at LifeSync",
		Body:    "It has been a while since your last donation. Your support makes a difference.",
	}
}

// ---------------------------------------------------------------------------
// backup
// ---------------------------------------------------------------------------

// BackupHandler snapshots the named collections, gzips the serialized
// payload, and hands a backup report to the notification sender for each
// listed recipient.
type BackupHandler struct {
	store  MaintenanceStore
	sender types.NotificationSender
	clock  types.Clock
}

// NewBackupHandler creates the backup handler.
func NewBackupHandler(store MaintenanceStore, sender types.NotificationSender, clock types.Clock) *BackupHandler {
	return &BackupHandler{store: store, sender: sender, clock: clock}
}

// Type implements Handler.
func (h *BackupHandler) Type() types.TaskType { return types.TaskBackup }

// Handle implements Handler. Collections are snapshotted with bounded
// parallelism; each collection's full lifecycle is independent, so a
// failure in any snapshot fails the backup as a whole.
func (h *BackupHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	collections := stringSlice(task.Data, "collections")
	recipients := stringSlice(task.Data, "recipients")
	if len(collections) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"backup task requires data.collections", nil)
	}

	snapshots := make(map[string][]types.JSONB, len(collections))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotParallel)
	for _, name := range collections {
		g.Go(func() error {
			rows, err := h.store.SnapshotCollection(gctx, name)
			if err != nil {
				return fmt.Errorf("snapshotting %s: %w", name, err)
			}
			mu.Lock()
			snapshots[name] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	compressed, raw, err := compressSnapshot(snapshots)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	content := types.MessageContent{
		Subject: fmt.Sprintf("LifeSync backup %s", now.Format("2006-01-02")),
		Body: fmt.Sprintf("Backup of %d collection(s) completed: %d bytes raw, %d bytes compressed.",
			len(collections), raw, len(compressed)),
	}
	for _, r := range recipients {
		if _, err := h.sender.Send(ctx, types.ChannelEmail, r, content); err != nil {
			return nil, fmt.Errorf("delivering backup report to %s: %w", r, err)
		}
	}

	return types.JSONB{
		"backup_completed": true,
		"collections":      len(collections),
		"compressed_bytes": len(compressed),
	}, nil
}

// compressSnapshot serializes the snapshot map to JSON and gzips it.
// Returns the compressed bytes and the raw size.
func compressSnapshot(snapshots map[string][]types.JSONB) ([]byte, int, error) {
	raw, err := json.Marshal(snapshots)
	if err != nil {
		return nil, 0, fmt.Errorf("serializing backup: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, 0, fmt.Errorf("compressing backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("compressing backup: %w", err)
	}

	return buf.Bytes(), len(raw), nil
}

// ---------------------------------------------------------------------------
// custom
// ---------------------------------------------------------------------------

// CustomAction is a named piece of arbitrary logic runnable via a custom
// task. Actions are registered at startup, mirroring the handler registry.
type CustomAction func(ctx context.Context, data types.JSONB) (types.JSONB, error)

// CustomHandler executes registered actions keyed by data.action. A custom
// task with no action (or an unregistered one) succeeds with an echo of its
// payload, preserving the permissive contract of the original design.
type CustomHandler struct {
	actions map[string]CustomAction
	logger  types.Logger
}

// NewCustomHandler creates the custom handler.
func NewCustomHandler(logger types.Logger) *CustomHandler {
	return &CustomHandler{actions: make(map[string]CustomAction), logger: logger}
}

// RegisterAction adds or replaces a named action.
func (h *CustomHandler) RegisterAction(name string, fn CustomAction) {
	h.actions[name] = fn
}

// Type implements Handler.
func (h *CustomHandler) Type() types.TaskType { return types.TaskCustom }

// Handle implements Handler.
func (h *CustomHandler) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	action := stringField(task.Data, "action")
	if action != "" {
		if fn, ok := h.actions[action]; ok {
			return fn(ctx, task.Data)
		}
		h.logger.Warn("custom task references unregistered action",
			"task_id", task.ID,
			"action", action,
		)
	}

	return types.JSONB{
		"success":     true,
		"message":     "custom task executed",
		"custom_data": task.Data.Clone(),
	}, nil
}

// ---------------------------------------------------------------------------
// payload helpers
// ---------------------------------------------------------------------------

// stringField reads a string value from task data, tolerating absence.
func stringField(data types.JSONB, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// stringSlice reads a list of strings from task data. JSON payloads decode
// arrays as []any, so both []string and []any are accepted.
func stringSlice(data types.JSONB, key string) []string {
	if data == nil {
		return nil
	}
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
