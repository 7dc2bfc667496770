package scheduler

import (
	"context"
	"errors"
	"fmt"

	"lifesync/internal/types"
)

// DispatchMetrics abstracts telemetry for dispatcher outcomes. The
// CloudWatch implementation lives in internal/metrics; tests use a no-op.
type DispatchMetrics interface {
	RecordTask(ctx context.Context, taskType types.TaskType, success bool)
	RecordBatch(ctx context.Context, claimed int)
}

// NoopMetrics is a DispatchMetrics that discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordTask(ctx context.Context, taskType types.TaskType, success bool) {}
func (NoopMetrics) RecordBatch(ctx context.Context, claimed int)                          {}

// Dispatcher claims due pending tasks in a bounded batch, executes the
// registered handler per task, and persists each task's new state. It is
// stateless between invocations.
//
// Tasks in a batch run sequentially. Side effects (notification sends,
// store mutations) are not guaranteed idempotent under reordering, and the
// sequential loop keeps partial-failure isolation easy to reason about.
// Claiming uses the store's compare-and-swap, so overlapping invocations
// split the batch rather than double-running tasks.
type Dispatcher struct {
	store    types.TaskStore
	registry *Registry
	clock    types.Clock
	metrics  DispatchMetrics
	logger   types.Logger
}

// NewDispatcher creates a Dispatcher. A nil metrics falls back to NoopMetrics.
func NewDispatcher(store types.TaskStore, registry *Registry, clock types.Clock, metrics DispatchMetrics, logger types.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Dispatcher{
		store:    store,
		registry: registry,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// RunDue executes one dispatch cycle: query tasks with status=pending and
// next_run <= now (earliest due first, at most batchSize), then for each
// claimed task run its handler and persist the outcome. A failure local to
// one task never aborts the batch.
//
// The invocation only sees tasks due by the time it started; tasks becoming
// due mid-batch wait for the next trigger.
func (d *Dispatcher) RunDue(ctx context.Context, batchSize int) (*types.DispatchReport, error) {
	if batchSize <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch size must be positive, got %d", batchSize), nil)
	}

	now := d.clock.Now()
	nowMillis := now.UnixMilli()

	due, err := d.store.GetDueTasks(ctx, nowMillis, batchSize)
	if err != nil {
		return nil, fmt.Errorf("querying due tasks: %w", err)
	}

	report := &types.DispatchReport{StartedAt: now}

	for i := range due {
		task := &due[i]

		claimed, err := d.store.Claim(ctx, task.ID, task.Version, nowMillis)
		if err != nil {
			d.logger.Error("failed to claim task",
				"task_id", task.ID,
				"error", err.Error(),
			)
			continue
		}
		if !claimed {
			// Another invocation won the compare-and-swap.
			d.logger.Info("task already claimed, skipping",
				"task_id", task.ID,
			)
			continue
		}

		report.Claimed++
		outcome := d.runTask(ctx, task, nowMillis)
		if outcome.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Outcomes = append(report.Outcomes, outcome)
		d.metrics.RecordTask(ctx, task.Type, outcome.Success)
	}

	d.metrics.RecordBatch(ctx, report.Claimed)
	d.logger.Info("dispatch cycle complete",
		"claimed", report.Claimed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)

	return report, nil
}

// runTask executes a single claimed task and persists its terminal state
// for this cycle: completed, pending with advanced next_run, or failed.
func (d *Dispatcher) runTask(ctx context.Context, task *types.ScheduledTask, nowMillis int64) types.TaskOutcome {
	outcome := types.TaskOutcome{TaskID: task.ID, Type: task.Type}

	handler, ok := d.registry.Lookup(task.Type)
	if !ok {
		err := types.NewUnknownTaskTypeError(task.Type)
		d.failTask(ctx, task, nowMillis, err)
		outcome.Error = err.Message
		return outcome
	}

	result, err := d.invoke(ctx, handler, task)
	if err != nil {
		d.failTask(ctx, task, nowMillis, err)
		outcome.Error = err.Error()
		return outcome
	}

	if task.Recurring() {
		nextRun, err := ComputeNextRun(nowMillis, task.Interval)
		if err != nil {
			// A malformed interval slipped past schedule-time validation.
			// Failing the task makes the bad input visible to operators
			// instead of silently dropping the recurrence.
			d.failTask(ctx, task, nowMillis, err)
			outcome.Error = err.Error()
			return outcome
		}

		pending := types.TaskPending
		if err := d.store.Patch(ctx, task.ID, types.TaskPatch{
			Status:  &pending,
			NextRun: &nextRun,
			LastRun: &nowMillis,
		}); err != nil {
			d.logger.Error("failed to reschedule task",
				"task_id", task.ID,
				"error", err.Error(),
			)
			outcome.Error = fmt.Sprintf("reschedule failed: %v", err)
			return outcome
		}
	} else {
		completed := types.TaskCompleted
		if err := d.store.Patch(ctx, task.ID, types.TaskPatch{
			Status:  &completed,
			LastRun: &nowMillis,
		}); err != nil {
			d.logger.Error("failed to complete task",
				"task_id", task.ID,
				"error", err.Error(),
			)
			outcome.Error = fmt.Sprintf("completion failed: %v", err)
			return outcome
		}
	}

	outcome.Success = true
	outcome.Result = result
	return outcome
}

// invoke runs a handler, converting panics into handler errors so one bad
// handler cannot take down the batch.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, task *types.ScheduledTask) (result types.JSONB, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppError(types.ErrCodeTaskHandler,
				fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return handler.Handle(ctx, task)
}

// failTask records a task failure: status=failed, last_error, last_run.
// Failed tasks do not auto-retry; they require an explicit operator retry.
func (d *Dispatcher) failTask(ctx context.Context, task *types.ScheduledTask, nowMillis int64, taskErr error) {
	msg := taskErr.Error()
	var appErr *types.AppError
	if errors.As(taskErr, &appErr) {
		msg = appErr.Message
	}

	failed := types.TaskFailed
	if err := d.store.Patch(ctx, task.ID, types.TaskPatch{
		Status:    &failed,
		LastRun:   &nowMillis,
		LastError: &msg,
	}); err != nil {
		d.logger.Error("failed to record task failure",
			"task_id", task.ID,
			"task_error", msg,
			"error", err.Error(),
		)
		return
	}

	d.logger.Warn("task failed",
		"task_id", task.ID,
		"task_type", string(task.Type),
		"error", msg,
	)
}
