package domain

import "time"

// Queue task types: STEP1 drives transcribe+auto-edit, STEP2 drives
// topic-segment. One job produces at most one outstanding task of each
// type at a time (see internal/data/db/queue.go).
const (
	TaskTypeStep1 = "STEP1"
	TaskTypeStep2 = "STEP2"
)

// Queue task statuses.
const (
	TaskStatusQueued    = "QUEUED"
	TaskStatusRunning   = "RUNNING"
	TaskStatusSucceeded = "SUCCEEDED"
	TaskStatusFailed    = "FAILED"
)

// QueueTask is a row of the durable, single-claim task queue. It is
// intentionally not a GORM model: the claim algorithm needs raw
// BEGIN IMMEDIATE transactions that GORM's query builder doesn't expose,
// so internal/data/db/queue.go manages this table with database/sql
// directly (see the package doc there for why).
type QueueTask struct {
	TaskID       int64
	JobID        string
	TaskType     string
	Status       string
	PayloadJSON  string
	ErrorMessage string
	WorkerID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
