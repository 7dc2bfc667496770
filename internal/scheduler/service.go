package scheduler

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"lifesync/internal/types"
)

// ScheduleRequest is the public task-creation payload. Interval and Data are
// optional; a task without an interval runs once.
type ScheduleRequest struct {
	Name          string         `json:"name" validate:"required,max=200"`
	Type          types.TaskType `json:"type" validate:"required"`
	ScheduledTime int64          `json:"scheduled_time" validate:"required,gt=0"`
	Interval      string         `json:"interval,omitempty"`
	Data          types.JSONB    `json:"data,omitempty"`
}

// Service exposes the schedule/run/inspect operations the rest of the
// application calls. Validation happens here, at schedule time: a malformed
// interval or unknown task type is rejected before it ever reaches the
// dispatcher.
type Service struct {
	store      types.TaskStore
	registry   *Registry
	dispatcher *Dispatcher
	clock      types.Clock
	validate   *validator.Validate
	logger     types.Logger
}

// NewService creates a Service.
func NewService(store types.TaskStore, registry *Registry, dispatcher *Dispatcher, clock types.Clock, logger types.Logger) *Service {
	return &Service{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clock,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

// ScheduleTask validates and persists a new task in pending status with
// next_run initialized to the requested scheduled time. Returns the
// store-assigned task ID.
func (s *Service) ScheduleTask(ctx context.Context, req ScheduleRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", types.NewAppError(types.ErrCodeValidationMissingField,
			"invalid schedule request", err)
	}

	if !isPublicType(req.Type) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidType,
			fmt.Sprintf("task type %q is not schedulable", req.Type), nil)
	}
	if !s.registry.Has(req.Type) {
		return "", types.NewUnknownTaskTypeError(req.Type)
	}

	if req.Interval != "" {
		if _, err := ParseInterval(req.Interval); err != nil {
			return "", err
		}
	}

	task := &types.ScheduledTask{
		Name:          req.Name,
		Type:          req.Type,
		Status:        types.TaskPending,
		ScheduledTime: req.ScheduledTime,
		NextRun:       req.ScheduledTime,
		Interval:      req.Interval,
		Data:          req.Data,
	}

	id, err := s.store.Insert(ctx, task)
	if err != nil {
		return "", fmt.Errorf("inserting task: %w", err)
	}

	s.logger.Info("task scheduled",
		"task_id", id,
		"name", req.Name,
		"type", string(req.Type),
		"scheduled_time", req.ScheduledTime,
		"interval", req.Interval,
	)

	return id, nil
}

// RunScheduledTasks is the trigger entrypoint invoked by the external
// scheduler (EventBridge, cron daemon, or the manual dispatch endpoint).
// A non-positive batchSize falls back to the default of 10.
func (s *Service) RunScheduledTasks(ctx context.Context, batchSize int) (*types.DispatchReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return s.dispatcher.RunDue(ctx, batchSize)
}

// DefaultBatchSize bounds a dispatch cycle when the trigger does not specify
// a batch size.
const DefaultBatchSize = 10

// GetTask returns a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*types.ScheduledTask, error) {
	return s.store.GetByID(ctx, id)
}

// ListTasks returns tasks newest-first for operator inspection.
func (s *Service) ListTasks(ctx context.Context, limit int) ([]types.ScheduledTask, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.List(ctx, limit)
}

// PauseTask moves a pending task to paused so the dispatcher stops claiming
// it. Only pending tasks can be paused.
func (s *Service) PauseTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.TaskPending, types.TaskPaused, nil)
}

// ResumeTask moves a paused task back to pending. Its next_run is preserved;
// a next_run already in the past fires on the next dispatch cycle.
func (s *Service) ResumeTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.TaskPaused, types.TaskPending, nil)
}

// RetryTask re-enters a failed task into pending with next_run=now. This is
// the explicit operator intervention path; failed tasks never requeue on
// their own.
func (s *Service) RetryTask(ctx context.Context, id string) error {
	now := s.clock.Now().UnixMilli()
	return s.transition(ctx, id, types.TaskFailed, types.TaskPending, &now)
}

// transition applies a guarded status change, rejecting mismatched current
// states with a conflict error.
func (s *Service) transition(ctx context.Context, id string, from, to types.TaskStatus, nextRun *int64) error {
	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != from {
		return types.NewAppError(types.ErrCodeConflictTaskState,
			fmt.Sprintf("task is %s, expected %s", task.Status, from), nil)
	}

	patch := types.TaskPatch{Status: &to}
	if nextRun != nil {
		patch.NextRun = nextRun
	}
	if err := s.store.Patch(ctx, id, patch); err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}

	s.logger.Info("task status changed",
		"task_id", id,
		"from", string(from),
		"to", string(to),
	)
	return nil
}

func isPublicType(t types.TaskType) bool {
	for _, pt := range types.PublicTaskTypes {
		if t == pt {
			return true
		}
	}
	return false
}
