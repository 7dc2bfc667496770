package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the
// subsystem. Binaries adapt *slog.Logger to it; tests use a no-op.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// TaskStore is the persistence contract for scheduled tasks. The Postgres
// implementation lives in internal/db, the SQLite local-mode implementation
// in internal/store. The dispatcher holds no state between invocations; it
// re-derives everything from the store each run.
type TaskStore interface {
	// Insert persists a new task and returns the store-assigned ID.
	Insert(ctx context.Context, task *ScheduledTask) (string, error)

	// GetDueTasks returns tasks with status=pending and next_run <= now
	// (epoch millis), ordered by next_run ascending, limited to limit.
	GetDueTasks(ctx context.Context, now int64, limit int) ([]ScheduledTask, error)

	// Claim transitions a task to running iff its stored version still
	// equals version (compare-and-swap). On success it records lastRun
	// (epoch millis) and bumps the version. Returns false when another
	// invocation already claimed the task.
	Claim(ctx context.Context, id string, version int, lastRun int64) (bool, error)

	// Patch applies a partial update to a single task record.
	Patch(ctx context.Context, id string, patch TaskPatch) error

	// GetByID returns the task or an AppError with ErrCodeNotFoundTask.
	GetByID(ctx context.Context, id string) (*ScheduledTask, error)

	// List returns tasks newest-first for operator inspection.
	List(ctx context.Context, limit int) ([]ScheduledTask, error)
}

// NotificationSender delivers a message on one channel. Implementations are
// external collaborators (Resend, a WhatsApp gateway); the core depends only
// on the success/failure contract.
type NotificationSender interface {
	Send(ctx context.Context, channel ChannelType, recipient string, content MessageContent) (SendResult, error)
}

// NotificationClient is a lifecycle-managed NotificationSender. It replaces
// the lazily initialized module-scope client of earlier designs: the process
// entrypoint creates it once, calls Connect, and passes it by reference into
// the dispatcher and handlers.
type NotificationClient interface {
	NotificationSender

	// Connect establishes provider sessions (e.g. the WhatsApp gateway
	// handshake). It must be called before Send.
	Connect(ctx context.Context) error

	// Close releases provider sessions. Send after Close is an error.
	Close(ctx context.Context) error
}

// ReportGenerator produces report content for the report-generation task
// handler. The generation internals (AI analysis, aggregation) belong to
// another subsystem.
type ReportGenerator interface {
	Generate(ctx context.Context, reportType string, dateRange string) (JSONB, error)
}

// DispatchTrigger requests an out-of-band dispatcher invocation, e.g. by
// publishing to the dispatch queue consumed by the cron worker.
type DispatchTrigger interface {
	TriggerDispatch(ctx context.Context, batchSize int, reason string) error
}
