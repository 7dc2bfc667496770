// Package store provides the SQLite-backed task store used in local and
// single-node deployments, where running PostgreSQL would be overkill. It
// implements the same TaskStore contract as the pgx repositories, including
// the optimistic-concurrency claim.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lifesync/internal/types"
)

var _ types.TaskStore = (*SQLiteTaskStore)(nil)

// Open opens (or creates) the SQLite database at path and ensures the schema
// exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the task table if it does not exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS scheduled_tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','running','completed','failed','paused')) DEFAULT 'pending',
  scheduled_time INTEGER NOT NULL,
  next_run INTEGER NOT NULL,
  last_run INTEGER,
  interval TEXT NOT NULL DEFAULT '',
  data BLOB,
  last_error TEXT NOT NULL DEFAULT '',
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(status, next_run);
`
	_, err := db.Exec(schema)
	return err
}

// SQLiteTaskStore implements types.TaskStore over a local SQLite file.
type SQLiteTaskStore struct {
	db *sql.DB
}

// NewSQLiteTaskStore creates a task store over an opened database.
func NewSQLiteTaskStore(db *sql.DB) *SQLiteTaskStore {
	return &SQLiteTaskStore{db: db}
}

const sqliteTaskColumns = `id, name, type, status, scheduled_time, next_run, last_run,
	interval, data, last_error, version, created_at, updated_at`

// Insert persists a new task, generating an ID when the caller left it empty.
func (s *SQLiteTaskStore) Insert(ctx context.Context, task *types.ScheduledTask) (string, error) {
	id := task.ID
	if id == "" {
		id = "task_" + uuid.NewString()
	}

	data, err := json.Marshal(task.Data)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal task data", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO scheduled_tasks (id,name,type,status,scheduled_time,next_run,last_run,interval,data,last_error,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,'',0,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, task.Name, string(task.Type), string(task.Status), task.ScheduledTime, task.NextRun, task.LastRun, task.Interval, data)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to insert task", err)
	}

	task.ID = id
	return id, nil
}

// GetDueTasks returns pending tasks with next_run <= now, earliest first.
func (s *SQLiteTaskStore) GetDueTasks(ctx context.Context, now int64, limit int) ([]types.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteTaskColumns+`
FROM scheduled_tasks
WHERE status='pending' AND next_run <= ?
ORDER BY next_run ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due tasks", err)
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

// Claim transitions a pending task to running iff its version is unchanged.
func (s *SQLiteTaskStore) Claim(ctx context.Context, id string, version int, lastRun int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET status='running', last_run=?, version=version+1, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND version=? AND status='pending'`, lastRun, id, version)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim task", err)
	}
	return n > 0, nil
}

// Patch applies a partial update. Nil fields in the patch are not touched.
func (s *SQLiteTaskStore) Patch(ctx context.Context, id string, patch types.TaskPatch) error {
	sets := []string{"updated_at=CURRENT_TIMESTAMP"}
	var args []any

	if patch.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, string(*patch.Status))
	}
	if patch.NextRun != nil {
		sets = append(sets, "next_run=?")
		args = append(args, *patch.NextRun)
	}
	if patch.LastRun != nil {
		sets = append(sets, "last_run=?")
		args = append(args, *patch.LastRun)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error=?")
		args = append(args, *patch.LastError)
	}
	if patch.Data != nil {
		data, err := json.Marshal(patch.Data)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal task data", err)
		}
		sets = append(sets, "data=?")
		args = append(args, data)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE scheduled_tasks SET %s WHERE id=?", strings.Join(sets, ",")), args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to patch task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to patch task", err)
	}
	if n == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return nil
}

// GetByID returns one task or ErrCodeNotFoundTask.
func (s *SQLiteTaskStore) GetByID(ctx context.Context, id string) (*types.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+sqliteTaskColumns+`
FROM scheduled_tasks WHERE id=?`, id)

	task, err := s.scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get task", err)
	}
	return task, nil
}

// List returns tasks newest-first.
func (s *SQLiteTaskStore) List(ctx context.Context, limit int) ([]types.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteTaskColumns+`
FROM scheduled_tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tasks", err)
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

// scanTask reads one task row via the given scan function.
func (s *SQLiteTaskStore) scanTask(scan func(dest ...any) error) (*types.ScheduledTask, error) {
	var t types.ScheduledTask
	var taskType, status string
	var lastRun sql.NullInt64
	var data []byte

	err := scan(
		&t.ID,
		&t.Name,
		&taskType,
		&status,
		&t.ScheduledTime,
		&t.NextRun,
		&lastRun,
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
	if lastRun.Valid {
		v := lastRun.Int64
		t.LastRun = &v
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (s *SQLiteTaskStore) scanTasks(rows *sql.Rows) ([]types.ScheduledTask, error) {
	var tasks []types.ScheduledTask
	for rows.Next() {
		t, err := s.scanTask(rows.Scan)
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
