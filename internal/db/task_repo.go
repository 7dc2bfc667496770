package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lifesync/internal/types"
)

// Compile-time assertion that TaskRepository implements types.TaskStore.
var _ types.TaskStore = (*TaskRepository)(nil)

// TaskRepository provides data access for the scheduled_tasks table.
//
// Claiming uses optimistic concurrency: the version column is bumped on
// every claim, and the claim UPDATE carries the version the dispatcher read,
// so two overlapping dispatcher invocations cannot both win the same task.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a TaskRepository backed by the given connection
// (pool or transaction).
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, name, type, status, scheduled_time, next_run, last_run,
	interval, data, last_error, version, created_at, updated_at`

// Insert persists a new task. The ID is generated here ("task_" prefix plus
// a UUID) rather than by the database so callers get it synchronously.
func (r *TaskRepository) Insert(ctx context.Context, task *types.ScheduledTask) (string, error) {
	id := task.ID
	if id == "" {
		id = "task_" + uuid.NewString()
	}

	data, err := json.Marshal(task.Data)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal task data", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO scheduled_tasks
		   (id, name, type, status, scheduled_time, next_run, last_run,
		    interval, data, last_error, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', 0, NOW(), NOW())`,
		id,
		task.Name,
		string(task.Type),
		string(task.Status),
		task.ScheduledTime,
		task.NextRun,
		task.LastRun,
		task.Interval,
		data,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to insert task", err)
	}

	task.ID = id
	return id, nil
}

// GetDueTasks returns pending tasks with next_run <= now, earliest first.
func (r *TaskRepository) GetDueTasks(ctx context.Context, now int64, limit int) ([]types.ScheduledTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM scheduled_tasks
		 WHERE status = 'pending' AND next_run <= $1
		 ORDER BY next_run ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due tasks", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Claim transitions a pending task to running iff its version is unchanged.
// Returns false when the conditional update matched no row (already claimed
// or no longer pending).
func (r *TaskRepository) Claim(ctx context.Context, id string, version int, lastRun int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_tasks
		 SET status = 'running', last_run = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $2 AND status = 'pending'`,
		id, version, lastRun,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim task", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Patch applies a partial update. Nil fields in the patch are not touched.
func (r *TaskRepository) Patch(ctx context.Context, id string, patch types.TaskPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		addSet("status", string(*patch.Status))
	}
	if patch.NextRun != nil {
		addSet("next_run", *patch.NextRun)
	}
	if patch.LastRun != nil {
		addSet("last_run", *patch.LastRun)
	}
	if patch.LastError != nil {
		addSet("last_error", *patch.LastError)
	}
	if patch.Data != nil {
		data, err := json.Marshal(patch.Data)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal task data", err)
		}
		addSet("data", data)
	}

	tag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE scheduled_tasks SET %s WHERE id = $1`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to patch task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return nil
}

// GetByID returns one task or ErrCodeNotFoundTask.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*types.ScheduledTask, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get task", err)
	}
	return task, nil
}

// List returns tasks newest-first for operator inspection.
func (r *TaskRepository) List(ctx context.Context, limit int) ([]types.ScheduledTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM scheduled_tasks
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tasks", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// scanTask reads one task row.
func scanTask(row pgx.Row) (*types.ScheduledTask, error) {
	var t types.ScheduledTask
	var taskType, status string
	var data []byte

	err := row.Scan(
		&t.ID,
		&t.Name,
		&taskType,
		&status,
		&t.ScheduledTime,
		&t.NextRun,
		&t.LastRun,
		&t.Interval,
		&data,
		&t.LastError,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// scanTasks reads all task rows.
func scanTasks(rows pgx.Rows) ([]types.ScheduledTask, error) {
	var tasks []types.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate tasks", err)
	}
	return tasks, nil
}
