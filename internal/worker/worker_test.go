package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/PoetCoderJun/autocut-backend/internal/artifacts"
	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/data/db"
	"github.com/PoetCoderJun/autocut-backend/internal/data/repos"
	"github.com/PoetCoderJun/autocut-backend/internal/data/repos/testutil"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/jobs"
	"github.com/PoetCoderJun/autocut-backend/internal/notify"
	"github.com/PoetCoderJun/autocut-backend/internal/srt"
	"github.com/PoetCoderJun/autocut-backend/internal/stagedrivers"
)

const fakeTranscript = `1
00:00:00,000 --> 00:00:02,000
hello there

2
00:00:02,000 --> 00:00:04,000
um well

3
00:00:04,000 --> 00:00:06,000
closing remarks
`

type fakeTranscriber struct {
	err error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, opts stagedrivers.Options, progress stagedrivers.ProgressFunc) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	progress("transcribe", 0.5)
	progress("transcribe", 1.0)
	return fakeTranscript, nil
}

type fakeAutoEditor struct{}

func (fakeAutoEditor) AutoEdit(ctx context.Context, srtText string, opts stagedrivers.Options, progress stagedrivers.ProgressFunc) (string, error) {
	subs, err := srt.Parse(srtText)
	if err != nil {
		return "", err
	}
	for i := range subs {
		if subs[i].Index == 2 {
			subs[i].Content = srt.RemoveToken + subs[i].Content
		}
	}
	progress("auto_edit", 1.0)
	return srt.ComposePreserveIndex(subs), nil
}

type fakeTopicSegmenter struct{}

func (fakeTopicSegmenter) TopicSegment(ctx context.Context, finalSRT string, opts stagedrivers.Options, progress stagedrivers.ProgressFunc) ([]byte, error) {
	progress("topic_segment", 1.0)
	// Kept-index space (1..N over kept lines), as the real driver emits.
	return []byte(`{"topics":[
		{"chapter_id":1,"title":"open","summary":"","start_sec":0,"end_sec":2,"line_ids":[1]},
		{"chapter_id":2,"title":"close","summary":"","start_sec":4,"end_sec":6,"line_ids":[2]}
	]}`), nil
}

type testEnv struct {
	worker  *Worker
	queue   *db.Queue
	jobs    *jobs.Service
	billing *billing.Service
	gdb     *gorm.DB
}

func newTestEnv(t *testing.T, transcribeErr error) *testEnv {
	t.Helper()
	log := testutil.Logger(t)

	gdb := testutil.DB(t)
	userRepo := repos.NewUserRepo(gdb, log)
	billingSvc := billing.NewService(gdb, log,
		repos.NewCouponRepo(gdb, log), repos.NewLedgerRepo(gdb, log), userRepo)

	queueDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "queue.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	queue, err := db.NewQueue(queueDB)
	require.NoError(t, err)

	store, err := artifacts.New(t.TempDir(), log)
	require.NoError(t, err)
	jobsSvc := jobs.NewService(store, log)

	drivers := StageDrivers{
		Transcribe:   &fakeTranscriber{err: transcribeErr},
		AutoEdit:     fakeAutoEditor{},
		TopicSegment: fakeTopicSegmenter{},
	}
	w := New(log, queue, jobsSvc, billingSvc, drivers, notify.NewNoopBus(), nil, nil)

	return &testEnv{worker: w, queue: queue, jobs: jobsSvc, billing: billingSvc, gdb: gdb}
}

func (e *testEnv) seedActiveUser(t *testing.T, userID string, credits int) {
	t.Helper()
	require.NoError(t, e.gdb.Create(&domain.User{UserID: userID, Status: domain.UserStatusActive}).Error)
	if credits > 0 {
		code := fmt.Sprintf("CPN-%s", userID)
		require.NoError(t, e.gdb.Create(&domain.CouponCode{
			Code: code, Credits: credits, Status: domain.CouponStatusActive,
		}).Error)
		_, err := e.billing.RedeemCoupon(context.Background(), userID, code)
		require.NoError(t, err)
	}
}

func (e *testEnv) seedUploadReadyJob(t *testing.T, owner string) *domain.Job {
	t.Helper()
	job, err := e.jobs.Create(owner)
	require.NoError(t, err)
	audio := e.jobs.Store().InputAudioPath(job.JobID, "mp3")
	require.NoError(t, os.WriteFile(audio, []byte("fake audio"), 0o644))
	_, err = e.jobs.UpdateFiles(job.JobID, func(f *domain.JobFiles) { f.AudioPath = &audio })
	require.NoError(t, err)
	require.NoError(t, e.jobs.UpdateStatus(job.JobID, domain.JobStatusUploadReady, domain.ProgressUploadReady))
	return job
}

func TestExecuteStep1HappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedActiveUser(t, "u1", 2)
	job := env.seedUploadReadyJob(t, "u1")

	taskID, err := env.queue.EnqueueTask(ctx, job.JobID, domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	require.NoError(t, env.jobs.UpdateStatus(job.JobID, domain.JobStatusStep1Running, domain.ProgressStep1RunFloor))

	task, err := env.queue.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	env.worker.Execute(ctx, task)

	done, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, done.Status)

	got, err := env.jobs.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusStep1Ready, got.Status)
	assert.Equal(t, domain.ProgressStep1Ready, got.Progress)

	lines, err := env.jobs.Store().ReadStep1Lines(job.JobID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.False(t, lines[0].AISuggestRemove)
	assert.True(t, lines[1].AISuggestRemove)
	assert.True(t, lines[1].UserFinalRemove)

	files, err := env.jobs.Store().ReadFiles(job.JobID)
	require.NoError(t, err)
	assert.NotNil(t, files.SRTPath)
	assert.NotNil(t, files.OptimizedSRTPath)
	assert.NotNil(t, files.FinalStep1SRTPath)

	balance, err := env.billing.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	// Re-running the same job charges nothing more (idempotency key).
	require.NoError(t, env.worker.runStep1(ctx, job.JobID))
	balance, err = env.billing.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}

func TestExecuteStep1InsufficientCredits(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedActiveUser(t, "u2", 0)
	job := env.seedUploadReadyJob(t, "u2")

	taskID, err := env.queue.EnqueueTask(ctx, job.JobID, domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	require.NoError(t, env.jobs.UpdateStatus(job.JobID, domain.JobStatusStep1Running, domain.ProgressStep1RunFloor))

	task, err := env.queue.ClaimNextTask(ctx)
	require.NoError(t, err)
	env.worker.Execute(ctx, task)

	done, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, done.Status)

	// The job falls back to UPLOAD_READY with a user-visible message, not
	// FAILED: the user can redeem and retry.
	got, err := env.jobs.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUploadReady, got.Status)
	assert.Equal(t, "INVALID_STEP_STATE", got.ErrorCode)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.False(t, env.jobs.Store().HasJobError(job.JobID))
}

func TestExecuteStep1FailureMasksRawError(t *testing.T) {
	rawErr := errors.New("asr backend exploded: key=sk-secret")
	env := newTestEnv(t, rawErr)
	ctx := context.Background()
	env.seedActiveUser(t, "u3", 1)
	job := env.seedUploadReadyJob(t, "u3")

	taskID, err := env.queue.EnqueueTask(ctx, job.JobID, domain.TaskTypeStep1, nil)
	require.NoError(t, err)
	task, err := env.queue.ClaimNextTask(ctx)
	require.NoError(t, err)
	env.worker.Execute(ctx, task)

	// Raw text for operators on the task row.
	done, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "asr backend exploded")

	// Neutral text for the user on the job.
	got, err := env.jobs.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "INTERNAL_ERROR", got.ErrorCode)
	assert.NotContains(t, got.ErrorMessage, "sk-secret")
	assert.True(t, env.jobs.Store().HasJobError(job.JobID))

	// No credit was consumed for the failed run.
	balance, err := env.billing.Balance(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}

func TestExecuteStep2RemapsLineIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedActiveUser(t, "u4", 2)
	job := env.seedUploadReadyJob(t, "u4")

	// Run step1 for real, then confirm it.
	require.NoError(t, env.worker.runStep1(ctx, job.JobID))
	require.NoError(t, env.jobs.Store().MarkStep1Confirmed(job.JobID))
	require.NoError(t, env.jobs.UpdateStatus(job.JobID, domain.JobStatusStep1Confirmed, domain.ProgressStep1Confirmed))

	taskID, err := env.queue.EnqueueTask(ctx, job.JobID, domain.TaskTypeStep2, nil)
	require.NoError(t, err)
	require.NoError(t, env.jobs.UpdateStatus(job.JobID, domain.JobStatusStep2Running, domain.ProgressStep2RunFloor))

	task, err := env.queue.ClaimNextTask(ctx)
	require.NoError(t, err)
	env.worker.Execute(ctx, task)

	done, err := env.queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, done.Status)

	got, err := env.jobs.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusStep2Ready, got.Status)

	// Kept step1 ids are 1 and 3 (line 2 was removed); the driver's dense
	// 1..2 ids remap onto them, covering each exactly once.
	chapters, err := env.jobs.Store().ReadStep2Chapters(job.JobID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, []int{1}, chapters[0].LineIDs)
	assert.Equal(t, []int{3}, chapters[1].LineIDs)
}

func TestExecuteStep2RequiresFinalStep1(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedActiveUser(t, "u5", 1)
	job := env.seedUploadReadyJob(t, "u5")

	err := env.worker.runStep2(ctx, job.JobID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final_step1.srt missing")
}
