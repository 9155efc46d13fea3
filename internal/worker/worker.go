// Package worker runs the single-threaded task loop: claim the oldest
// queued task, dispatch it to its stage, reflect the outcome into the job
// meta and the credit ledger, and run the cleanup sweep on its timer. One
// loop per process; pointing several processes at the same queue database
// is safe because the claim is atomic, but stage work is heavy enough that
// one worker per host is the intended deployment.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/cleanup"
	"github.com/PoetCoderJun/autocut-backend/internal/data/db"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/jobs"
	"github.com/PoetCoderJun/autocut-backend/internal/notify"
	"github.com/PoetCoderJun/autocut-backend/internal/observability"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/ctxutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
	"github.com/PoetCoderJun/autocut-backend/internal/stagedrivers"
)

// Publicly-safe stage failure messages. The raw error text stays on the
// queue_tasks row for operators; users only ever see these.
const (
	publicInternalErrorMsg       = "处理失败，请稍后重试"
	publicInsufficientCreditsMsg = "额度不足，请先兑换邀请码后重试"
)

// StageDrivers bundles the three out-of-process collaborators the worker
// dispatches to.
type StageDrivers struct {
	Transcribe   stagedrivers.TranscribeDriver
	AutoEdit     stagedrivers.AutoEditDriver
	TopicSegment stagedrivers.TopicSegmentDriver
}

type Worker struct {
	log     *logger.Logger
	queue   *db.Queue
	jobs    *jobs.Service
	billing *billing.Service
	drivers StageDrivers
	bus     notify.Bus
	sweeper *cleanup.Sweeper
	metrics *observability.Metrics

	pollInterval time.Duration
}

func New(
	baseLog *logger.Logger,
	queue *db.Queue,
	jobsSvc *jobs.Service,
	billingSvc *billing.Service,
	drivers StageDrivers,
	bus notify.Bus,
	sweeper *cleanup.Sweeper,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		log:          baseLog.With("component", "Worker"),
		queue:        queue,
		jobs:         jobsSvc,
		billing:      billingSvc,
		drivers:      drivers,
		bus:          bus,
		sweeper:      sweeper,
		metrics:      metrics,
		pollInterval: time.Duration(envutil.Int("WORKER_POLL_SECONDS", 2)) * time.Second,
	}
}

// Run executes the worker loop until ctx is cancelled. The startup cleanup
// pass runs first, then the loop interleaves periodic sweeps with claims.
func (w *Worker) Run(ctx context.Context) {
	if w.sweeper != nil {
		w.sweeper.RunAtStartup()
	}
	var lastCleanupAt time.Time

	for {
		if ctx.Err() != nil {
			return
		}
		if w.sweeper != nil && w.sweeper.Policy().Enabled &&
			time.Since(lastCleanupAt) >= w.sweeper.Policy().Interval {
			w.metrics.ObserveCleanup(w.sweeper.Sweep())
			lastCleanupAt = time.Now()
		}

		task, err := w.queue.ClaimNextTask(ctx)
		if err != nil {
			w.log.Error("claim next task failed", "error", err)
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if task == nil {
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		w.Execute(ctx, task)
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.pollInterval):
		return true
	}
}

// Execute dispatches one claimed task and reflects its outcome into the
// queue row and the job meta.
func (w *Worker) Execute(ctx context.Context, task *domain.QueueTask) {
	taskCtx := w.restoreTraceContext(ctx, task)
	start := time.Now()
	fields := append([]interface{}{"task_id", task.TaskID, "task_type", task.TaskType},
		ctxutil.GetTraceData(taskCtx).LogFields()...)
	w.log.Info("execute task", fields...)

	var err error
	switch task.TaskType {
	case domain.TaskTypeStep1:
		err = w.runStep1(taskCtx, task.JobID)
	case domain.TaskTypeStep2:
		err = w.runStep2(taskCtx, task.JobID)
	default:
		err = fmt.Errorf("unsupported task type: %s", task.TaskType)
	}

	if err != nil {
		w.log.Error("task failed", "task_id", task.TaskID, "task_type", task.TaskType,
			"job_id", task.JobID, "error", err)
		if qErr := w.queue.SetTaskFailed(ctx, task.TaskID, err.Error()); qErr != nil {
			w.log.Error("set task failed errored", "task_id", task.TaskID, "error", qErr)
		}
		w.reflectFailure(ctx, task, err)
		w.observeTask(task.TaskType, "failed", time.Since(start))
		return
	}

	if qErr := w.queue.SetTaskSucceeded(ctx, task.TaskID); qErr != nil {
		w.log.Error("set task succeeded errored", "task_id", task.TaskID, "error", qErr)
	}
	w.observeTask(task.TaskType, "succeeded", time.Since(start))
}

func (w *Worker) observeTask(taskType, status string, d time.Duration) {
	if w.metrics != nil {
		w.metrics.ObserveWorkerTask(taskType, status, d)
	}
}

// reflectFailure applies the failure propagation policy: insufficient
// credits on STEP1 reverts the job to UPLOAD_READY with a user-visible
// message; everything else is terminal FAILED with a neutral one.
func (w *Worker) reflectFailure(ctx context.Context, task *domain.QueueTask, err error) {
	if isInsufficientCredits(err) && task.TaskType == domain.TaskTypeStep1 {
		if jErr := w.jobs.SetFailed(task.JobID, domain.JobStatusUploadReady,
			domain.ProgressUploadReady, "INVALID_STEP_STATE", publicInsufficientCreditsMsg); jErr != nil {
			w.log.Error("revert job to upload_ready failed", "job_id", task.JobID, "error", jErr)
		}
		w.publish(ctx, task.JobID, domain.JobStatusUploadReady, domain.ProgressUploadReady, "")
		return
	}
	job, jErr := w.jobs.Get(task.JobID)
	progress := 0
	if jErr == nil {
		progress = job.Progress
	}
	if jErr := w.jobs.SetFailed(task.JobID, domain.JobStatusFailed, progress,
		"INTERNAL_ERROR", publicInternalErrorMsg); jErr != nil {
		w.log.Error("mark job failed errored", "job_id", task.JobID, "error", jErr)
	}
	w.publish(ctx, task.JobID, domain.JobStatusFailed, progress, "")
}

func isInsufficientCredits(err error) bool {
	return apierr.CodeOf(err) == billing.CodeInsufficient
}

// restoreTraceContext puts the enqueueing request's ids back onto the stage
// context, alongside the job id, so every log line a driver emits can be
// tied to both the job and the HTTP request that started the run.
func (w *Worker) restoreTraceContext(ctx context.Context, task *domain.QueueTask) context.Context {
	var payload struct {
		RequestID string `json:"request_id"`
		TraceID   string `json:"trace_id"`
	}
	_ = json.Unmarshal([]byte(task.PayloadJSON), &payload)
	return ctxutil.WithTraceData(ctx, &ctxutil.TraceData{
		TraceID:   payload.TraceID,
		RequestID: payload.RequestID,
		JobID:     task.JobID,
	})
}

func (w *Worker) publish(ctx context.Context, jobID, status string, progress int, stage string) {
	if w.bus == nil {
		return
	}
	if err := w.bus.PublishProgress(ctx, notify.ProgressEvent{
		JobID: jobID, Status: status, Progress: progress, Stage: stage,
	}); err != nil {
		w.log.Debug("progress publish failed", "job_id", jobID, "error", err)
	}
}

// progressReporter translates a stage driver's fractional ratio into the
// job's clamped integer progress, persisting only forward movement.
type progressReporter struct {
	w             *Worker
	ctx           context.Context
	jobID         string
	runningStatus string
	last          int
	// weight maps a stage label to its [base, base+span) slice of the
	// whole run, so two sequential drivers share one progress band.
	weight map[string][2]float64
}

func (r *progressReporter) report(stage string, ratio float64) {
	overall := ratio
	if w, ok := r.weight[stage]; ok {
		overall = w[0] + ratio*w[1]
	}
	candidate := r.w.clampProgress(r.runningStatus, r.last, overall)
	if candidate <= r.last {
		return
	}
	r.last = candidate
	if err := r.w.jobs.TouchProgress(r.jobID, candidate); err != nil {
		r.w.log.Debug("touch progress failed", "job_id", r.jobID, "error", err)
		return
	}
	r.w.publish(r.ctx, r.jobID, r.runningStatus, candidate, stage)
}
