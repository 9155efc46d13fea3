package db

/*
Package-level note on why this table is not a GORM model.

The claim algorithm requires a SQLite BEGIN IMMEDIATE transaction (takes
the write lock up front, so two workers racing to claim never both see the
row as queued) followed by a conditional UPDATE ... WHERE
status = 'QUEUED', retried a bounded number of times if that UPDATE
affects no row. That shape - explicit BEGIN IMMEDIATE, a raw rowcount
check, rollback-and-retry - isn't expressible through GORM's query
builder, so the queue is managed with database/sql directly against the
*gorm.DB's underlying connection pool.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS queue_tasks (
	task_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload_json  TEXT NOT NULL DEFAULT '{}',
	error_message TEXT,
	worker_id     TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	started_at    TEXT,
	finished_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_tasks_status_task_id
ON queue_tasks(status, task_id ASC);

CREATE INDEX IF NOT EXISTS idx_queue_tasks_job_type_status
ON queue_tasks(job_id, task_type, status, task_id DESC);
`

// Queue wraps the raw *sql.DB backing a sqlite queue file and implements
// the single-claim enqueue/claim/finish operations.
type Queue struct {
	sqlDB *sql.DB
}

func NewQueue(gdb *gorm.DB) (*Queue, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("queue: underlying sql.DB: %w", err)
	}
	// SQLite only tolerates one writer; BEGIN IMMEDIATE serializes around
	// that rather than failing under concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec(queueSchema); err != nil {
		return nil, fmt.Errorf("queue: init schema: %w", err)
	}
	return &Queue{sqlDB: sqlDB}, nil
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// EnqueueTask inserts a new queued task for (jobID, taskType), coalescing
// with any existing queued/running task of the same type for the same job
// instead of creating a duplicate.
func (q *Queue) EnqueueTask(ctx context.Context, jobID string, taskType string, payload map[string]any) (int64, error) {
	if taskType != domain.TaskTypeStep1 && taskType != domain.TaskTypeStep2 {
		return 0, fmt.Errorf("unsupported task type: %s", taskType)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("queue: marshal payload: %w", err)
	}
	now := nowISO()

	conn, err := q.sqlDB.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return 0, fmt.Errorf("queue: begin immediate: %w", err)
	}
	rollback := func() { _, _ = conn.ExecContext(ctx, "ROLLBACK") }

	var existingID int64
	row := conn.QueryRowContext(ctx, `
		SELECT task_id FROM queue_tasks
		WHERE job_id = ? AND task_type = ? AND status IN (?, ?)
		ORDER BY task_id DESC LIMIT 1
	`, jobID, taskType, domain.TaskStatusQueued, domain.TaskStatusRunning)
	switch err := row.Scan(&existingID); {
	case err == nil && existingID > 0:
		if _, cerr := conn.ExecContext(ctx, "COMMIT"); cerr != nil {
			rollback()
			return 0, cerr
		}
		return existingID, nil
	case err != nil && err != sql.ErrNoRows:
		rollback()
		return 0, err
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO queue_tasks(job_id, task_type, status, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, taskType, domain.TaskStatusQueued, string(payloadJSON), now, now)
	if err != nil {
		rollback()
		return 0, err
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		rollback()
		return 0, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback()
		return 0, err
	}
	if taskID <= 0 {
		return 0, fmt.Errorf("queue: failed to enqueue task")
	}
	return taskID, nil
}

// ClaimNextTask atomically claims the oldest queued task, making up to three
// attempts while the conditional UPDATE finds the row already claimed. A
// failure to take the BEGIN IMMEDIATE lock is returned as an error, not
// retried. Returns (nil, nil) when the queue is empty or every attempt lost
// the race.
func (q *Queue) ClaimNextTask(ctx context.Context) (*domain.QueueTask, error) {
	workerID := fmt.Sprintf("pid-%d", os.Getpid())

	for attempt := 0; attempt < 3; attempt++ {
		task, retry, err := q.tryClaim(ctx, workerID)
		if err != nil {
			return nil, err
		}
		if !retry {
			return task, nil
		}
	}
	return nil, nil
}

func (q *Queue) tryClaim(ctx context.Context, workerID string) (task *domain.QueueTask, retry bool, err error) {
	conn, err := q.sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, false, fmt.Errorf("queue: begin immediate: %w", err)
	}
	rollback := func() { _, _ = conn.ExecContext(ctx, "ROLLBACK") }

	var taskID int64
	row := conn.QueryRowContext(ctx, `
		SELECT task_id FROM queue_tasks WHERE status = ? ORDER BY task_id ASC LIMIT 1
	`, domain.TaskStatusQueued)
	switch scanErr := row.Scan(&taskID); {
	case scanErr == sql.ErrNoRows:
		_, _ = conn.ExecContext(ctx, "COMMIT")
		return nil, false, nil
	case scanErr != nil:
		rollback()
		return nil, false, scanErr
	}

	now := nowISO()
	res, err := conn.ExecContext(ctx, `
		UPDATE queue_tasks
		SET status = ?, worker_id = ?, started_at = COALESCE(started_at, ?), updated_at = ?, error_message = NULL
		WHERE task_id = ? AND status = ?
	`, domain.TaskStatusRunning, workerID, now, now, taskID, domain.TaskStatusQueued)
	if err != nil {
		rollback()
		return nil, false, err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Another connection claimed it between our SELECT and UPDATE.
		rollback()
		return nil, true, nil
	}

	claimed, err := scanTask(conn.QueryRowContext(ctx, `
		SELECT task_id, job_id, task_type, status, payload_json, error_message,
		       worker_id, created_at, updated_at, started_at, finished_at
		FROM queue_tasks WHERE task_id = ?
	`, taskID))
	if err != nil {
		rollback()
		return nil, false, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		rollback()
		return nil, false, err
	}
	return claimed, false, nil
}

func scanTask(row *sql.Row) (*domain.QueueTask, error) {
	var (
		t                     domain.QueueTask
		errMsg, workerID      sql.NullString
		createdAt, updatedAt  string
		startedAt, finishedAt sql.NullString
	)
	if err := row.Scan(&t.TaskID, &t.JobID, &t.TaskType, &t.Status, &t.PayloadJSON,
		&errMsg, &workerID, &createdAt, &updatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	t.ErrorMessage = errMsg.String
	t.WorkerID = workerID.String
	t.CreatedAt, _ = time.Parse("2006-01-02T15:04:05Z", createdAt)
	t.UpdatedAt, _ = time.Parse("2006-01-02T15:04:05Z", updatedAt)
	if startedAt.Valid {
		if ts, err := time.Parse("2006-01-02T15:04:05Z", startedAt.String); err == nil {
			t.StartedAt = &ts
		}
	}
	if finishedAt.Valid {
		if ts, err := time.Parse("2006-01-02T15:04:05Z", finishedAt.String); err == nil {
			t.FinishedAt = &ts
		}
	}
	return &t, nil
}

// GetTask loads one task row by id.
func (q *Queue) GetTask(ctx context.Context, taskID int64) (*domain.QueueTask, error) {
	return scanTask(q.sqlDB.QueryRowContext(ctx, `
		SELECT task_id, job_id, task_type, status, payload_json, error_message,
		       worker_id, created_at, updated_at, started_at, finished_at
		FROM queue_tasks WHERE task_id = ?
	`, taskID))
}

// CountByStatus reports queue depth per status, for the metrics collector.
func (q *Queue) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := q.sqlDB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue_tasks GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (q *Queue) SetTaskSucceeded(ctx context.Context, taskID int64) error {
	now := nowISO()
	_, err := q.sqlDB.ExecContext(ctx, `
		UPDATE queue_tasks SET status = ?, finished_at = ?, updated_at = ?, error_message = NULL
		WHERE task_id = ?
	`, domain.TaskStatusSucceeded, now, now, taskID)
	return err
}

func (q *Queue) SetTaskFailed(ctx context.Context, taskID int64, errMsg string) error {
	now := nowISO()
	_, err := q.sqlDB.ExecContext(ctx, `
		UPDATE queue_tasks SET status = ?, finished_at = ?, updated_at = ?, error_message = ?
		WHERE task_id = ?
	`, domain.TaskStatusFailed, now, now, errMsg, taskID)
	return err
}
