package cleanup

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoetCoderJun/autocut-backend/internal/artifacts"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

func newTestSweeper(t *testing.T, policy Policy) (*Sweeper, *artifacts.Store) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	store, err := artifacts.New(t.TempDir(), log)
	require.NoError(t, err)
	return NewSweeper(store, policy, log), store
}

func seedFinishedJob(t *testing.T, store *artifacts.Store, jobID string, age time.Duration) {
	t.Helper()
	require.NoError(t, store.CreateJobDirs(jobID))

	audio := store.InputAudioPath(jobID, "mp3")
	require.NoError(t, os.WriteFile(audio, []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(store.RenderOutputPath(jobID), []byte("mp4"), 0o644))

	now := time.Now().UTC()
	require.NoError(t, store.WriteMeta(&domain.Job{
		JobID: jobID, OwnerUserID: "u1",
		Status: domain.JobStatusSucceeded, Progress: 100,
		CreatedAt: now.Add(-age - time.Hour), UpdatedAt: now.Add(-age),
	}))
	video := store.RenderOutputPath(jobID)
	require.NoError(t, store.WriteFiles(jobID, &domain.JobFiles{
		AudioPath:      &audio,
		FinalVideoPath: &video,
	}))
}

func TestSweepDrainsExpiredJobs(t *testing.T) {
	policy := Policy{Enabled: true, TTL: time.Hour, BatchSize: 10, OnStartup: true}
	sweeper, store := newTestSweeper(t, policy)

	seedFinishedJob(t, store, "job_expired0000", 2*time.Hour)
	seedFinishedJob(t, store, "job_fresh000000", time.Minute)

	cleaned := sweeper.Sweep()
	assert.Equal(t, 1, cleaned)

	// The expired job is a drained shell: SUCCEEDED/100, no artifacts.
	shell, err := store.ReadMeta("job_expired0000")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, shell.Status)
	assert.Equal(t, 100, shell.Progress)
	assert.Equal(t, "u1", shell.OwnerUserID)

	files, err := store.ReadFiles("job_expired0000")
	require.NoError(t, err)
	assert.Empty(t, files.DeclaredPaths())
	assert.False(t, store.HasRenderOutput("job_expired0000"))

	// The fresh job is untouched.
	assert.True(t, store.HasRenderOutput("job_fresh000000"))
}

func TestSweepIsNoOpOnDrainedShell(t *testing.T) {
	policy := Policy{Enabled: true, TTL: time.Hour, BatchSize: 10}
	sweeper, store := newTestSweeper(t, policy)
	seedFinishedJob(t, store, "job_once0000000", 2*time.Hour)

	assert.Equal(t, 1, sweeper.Sweep())
	// A second pass finds no declared artifacts and does nothing.
	assert.Equal(t, 0, sweeper.Sweep())
	_, err := store.ReadMeta("job_once0000000")
	assert.NoError(t, err)
}

func TestSweepSkipsUnfinishedJobs(t *testing.T) {
	policy := Policy{Enabled: true, TTL: time.Hour, BatchSize: 10}
	sweeper, store := newTestSweeper(t, policy)

	require.NoError(t, store.CreateJobDirs("job_running0000"))
	audio := store.InputAudioPath("job_running0000", "mp3")
	require.NoError(t, os.WriteFile(audio, []byte("x"), 0o644))
	require.NoError(t, store.WriteMeta(&domain.Job{
		JobID: "job_running0000", Status: domain.JobStatusStep1Running,
		UpdatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, store.WriteFiles("job_running0000", &domain.JobFiles{AudioPath: &audio}))

	assert.Equal(t, 0, sweeper.Sweep())
	assert.True(t, store.HasInputAudio("job_running0000"))
}

func TestCleanupJobWithoutShellRemovesEverything(t *testing.T) {
	policy := Policy{Enabled: true, TTL: time.Hour, OnDownload: true}
	sweeper, store := newTestSweeper(t, policy)
	seedFinishedJob(t, store, "job_download000", 0)

	sweeper.CleanupJob("job_download000", false)

	// The whole directory is gone; a later read sees not-exist.
	_, err := store.ReadMeta("job_download000")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(store.JobDir("job_download000"))
	assert.True(t, os.IsNotExist(err))
}

func TestStartupSweepRemovesOrphans(t *testing.T) {
	policy := Policy{Enabled: true, TTL: time.Hour, OnStartup: true}
	sweeper, store := newTestSweeper(t, policy)

	require.NoError(t, store.CreateJobDirs("job_orphan00000"))

	removed := sweeper.RunAtStartup()
	assert.Equal(t, 1, removed)
	_, err := os.Stat(store.JobDir("job_orphan00000"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweepDisabled(t *testing.T) {
	sweeper, store := newTestSweeper(t, Policy{Enabled: false, TTL: time.Hour})
	seedFinishedJob(t, store, "job_ignored0000", 48*time.Hour)
	assert.Equal(t, 0, sweeper.Sweep())
	assert.True(t, store.HasRenderOutput("job_ignored0000"))
}
