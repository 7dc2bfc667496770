package types

// TaskType identifies the unit of work a scheduled task executes.
// Each type has a registered handler in the scheduler package; scheduling a
// task with an unregistered type is rejected at schedule time, and a task
// whose handler disappeared between schedule and dispatch fails at run time.
type TaskType string

const (
	TaskReminderEmail    TaskType = "reminder_email"
	TaskDataCleanup      TaskType = "data_cleanup"
	TaskReportGeneration TaskType = "report_generation"
	TaskDonationReminder TaskType = "donation_reminder"
	TaskBackup           TaskType = "backup"
	TaskCustom           TaskType = "custom"

	// TaskAlertRetry is the one-shot retry scheduled after a failed
	// price-alert send. It is created internally by the alerts package and
	// is not accepted on the public schedule API.
	TaskAlertRetry TaskType = "alert_retry"
)

// PublicTaskTypes lists the task types accepted by the schedule API.
var PublicTaskTypes = []TaskType{
	TaskReminderEmail,
	TaskDataCleanup,
	TaskReportGeneration,
	TaskDonationReminder,
	TaskBackup,
	TaskCustom,
}

// Valid reports whether t is a known task type (public or internal).
func (t TaskType) Valid() bool {
	switch t {
	case TaskReminderEmail, TaskDataCleanup, TaskReportGeneration,
		TaskDonationReminder, TaskBackup, TaskCustom, TaskAlertRetry:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a scheduled task.
//
// Transitions: pending -> running -> {completed | failed | pending}.
// A recurring task re-enters pending with an advanced next_run after each
// successful run. A failed task stays failed until an operator retries it.
// Paused tasks are never claimed by the dispatcher.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskPaused    TaskStatus = "paused"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskPaused:
		return true
	}
	return false
}

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelWhatsApp ChannelType = "whatsapp"
)

// AlertOutcome records how an alert evaluation attempt ended.
type AlertOutcome string

const (
	AlertSent    AlertOutcome = "sent"
	AlertSkipped AlertOutcome = "skipped"
	AlertFailed  AlertOutcome = "failed"
)

// SkipReason explains why the alert gate suppressed a send. The reasons are
// ordered by evaluation precedence in the gate; the first match wins.
type SkipReason string

const (
	SkipUserDisabled    SkipReason = "user_disabled_alerts"
	SkipDuplicatePrice  SkipReason = "duplicate_price"
	SkipBelowThreshold  SkipReason = "below_threshold"
	SkipTooSoon         SkipReason = "too_soon"
	SkipDailyCapReached SkipReason = "daily_cap_reached"
)
