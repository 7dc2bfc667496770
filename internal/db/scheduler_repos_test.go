package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lifesync/internal/types"
)

// Note: mockDBTX and mockRow are defined in task_repo_test.go and reused here.

// ============================================================
// JobLockRepository Tests
// ============================================================

func TestJobLockRepository_Acquire_Success_NewLock(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	// INSERT succeeds (new lock row created) -> 1 row affected
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, "task_dispatch:2026-08-30T12:00", "cron-worker-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_AlreadyLocked(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	// Lock exists and has not expired -> 0 rows affected
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	acquired, err := repo.Acquire(ctx, "task_dispatch:2026-08-30T12:00", "cron-worker-def", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "should not acquire lock when another worker holds it")
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	acquired, err := repo.Acquire(ctx, "task_dispatch:key", "worker-1", time.Minute)
	require.Error(t, err)
	assert.False(t, acquired)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestJobLockRepository_Acquire_ExpiresAtComputedFromTTL(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)
	ctx := context.Background()

	// locked_at and expires_at are concrete timestamps with expires_at
	// approximately locked_at + TTL.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) < 4 {
			return false
		}
		lockedAt, ok1 := args[2].(time.Time)
		expiresAt, ok2 := args[3].(time.Time)
		if !ok1 || !ok2 {
			return false
		}
		diff := expiresAt.Sub(lockedAt)
		return diff >= 4*time.Minute && diff <= 6*time.Minute
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, "task_dispatch:window", "worker-x", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

// ============================================================
// JobHistoryRepository Tests
// ============================================================

func TestJobHistoryRepository_Start_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	mockRowResult := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 42
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRowResult)

	id, err := repo.Start(ctx, "task_dispatch")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Start_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	id, err := repo.Start(ctx, "task_dispatch")
	require.Error(t, err)
	assert.Equal(t, int64(0), id)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Finish(ctx, 42, "success", 15, nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_WithError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		// The error message rides as the 4th argument (index 3).
		if len(args) < 4 {
			return false
		}
		errMsg, ok := args[3].(*string)
		return ok && errMsg != nil && *errMsg == "store unavailable"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Finish(ctx, 42, "failed", 0, errors.New("store unavailable"))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_NilErrorPassesNilParam(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) < 4 {
			return false
		}
		errMsg, ok := args[3].(*string)
		return ok && errMsg == nil
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Finish(ctx, 99, "success", 50, nil)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobHistoryRepository_Finish_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobHistoryRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Finish(ctx, 999, "success", 0, nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalUnexpected, appErr.Code)
	assert.Contains(t, appErr.Message, "job history entry not found")
	db.AssertExpectations(t)
}
