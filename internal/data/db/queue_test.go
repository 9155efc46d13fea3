package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	q, err := NewQueue(gdb)
	require.NoError(t, err)
	return q
}

func TestEnqueueCoalescesLiveTasks(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.EnqueueTask(ctx, "job_a", domain.TaskTypeStep1, nil)
	require.NoError(t, err)

	// A second enqueue while the first is still queued returns the same id.
	second, err := q.EnqueueTask(ctx, "job_a", domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A different task type for the same job is its own row.
	other, err := q.EnqueueTask(ctx, "job_a", domain.TaskTypeStep2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	// Coalescing persists through RUNNING...
	task, err := q.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, first, task.TaskID)

	third, err := q.EnqueueTask(ctx, "job_a", domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	assert.Equal(t, first, third)

	// ...and stops once the task reaches a terminal status.
	require.NoError(t, q.SetTaskSucceeded(ctx, first))
	fresh, err := q.EnqueueTask(ctx, "job_a", domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
}

func TestEnqueueRejectsUnknownTaskType(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.EnqueueTask(context.Background(), "job_a", "RENDER", nil)
	assert.Error(t, err)
}

func TestClaimIsFIFOAndSingle(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.EnqueueTask(ctx, "job_1", domain.TaskTypeStep1, map[string]any{"request_id": "req_x"})
	require.NoError(t, err)
	id2, err := q.EnqueueTask(ctx, "job_2", domain.TaskTypeStep1, nil)
	require.NoError(t, err)

	first, err := q.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, id1, first.TaskID)
	assert.Equal(t, domain.TaskStatusRunning, first.Status)
	assert.NotEmpty(t, first.WorkerID)
	assert.NotNil(t, first.StartedAt)
	assert.Contains(t, first.PayloadJSON, "req_x")

	second, err := q.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, id2, second.TaskID)

	// Queue drained: claim returns nil, nil.
	third, err := q.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestTerminalTransitions(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.EnqueueTask(ctx, "job_1", domain.TaskTypeStep2, nil)
	require.NoError(t, err)
	task, err := q.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, q.SetTaskFailed(ctx, id, "boom: raw operator detail"))

	counts, err := q.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.TaskStatusFailed])
	assert.Zero(t, counts[domain.TaskStatusQueued])

	// A failed task is never re-claimed.
	again, err := q.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCountByStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueTask(ctx, "job_1", domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	_, err = q.EnqueueTask(ctx, "job_2", domain.TaskTypeStep1, nil)
	require.NoError(t, err)

	counts, err := q.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.TaskStatusQueued])
}
