// Package cleanup reclaims disk and row state for finished jobs: a TTL
// sweep the worker runs on a timer and at startup, an orphan-directory pass
// for job dirs that never got a meta file, and the per-job purge the
// download endpoint can trigger after streaming the final video. Cleanup is
// best-effort throughout; failures are logged and never propagated.
package cleanup

import (
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/artifacts"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// Policy is the WEB_CLEANUP_* configuration surface.
type Policy struct {
	Enabled    bool
	Interval   time.Duration
	TTL        time.Duration
	BatchSize  int
	OnDownload bool
	OnStartup  bool
}

func LoadPolicyFromEnv() Policy {
	return Policy{
		Enabled:    envutil.Bool("WEB_CLEANUP_ENABLED", true),
		Interval:   time.Duration(envutil.Int("WEB_CLEANUP_INTERVAL_SECONDS", 600)) * time.Second,
		TTL:        time.Duration(envutil.Int("WEB_CLEANUP_TTL_SECONDS", 24*3600)) * time.Second,
		BatchSize:  envutil.Int("WEB_CLEANUP_BATCH_SIZE", 20),
		OnDownload: envutil.Bool("WEB_CLEANUP_ON_DOWNLOAD", true),
		OnStartup:  envutil.Bool("WEB_CLEANUP_ON_STARTUP", true),
	}
}

type Sweeper struct {
	store  *artifacts.Store
	policy Policy
	log    *logger.Logger
}

func NewSweeper(store *artifacts.Store, policy Policy, baseLog *logger.Logger) *Sweeper {
	return &Sweeper{store: store, policy: policy, log: baseLog.With("component", "CleanupSweeper")}
}

func (s *Sweeper) Policy() Policy { return s.policy }

// eligible implements the sweep predicate: a finished job (SUCCEEDED or
// STEP2_CONFIRMED — render is client-side, so a confirmed step2 is as far as
// the backend ever advances) with at least one declared artifact, untouched
// for at least the TTL. A job already drained to a shell has no declared
// artifacts and is skipped, which makes a repeat sweep a no-op.
func (s *Sweeper) eligible(job *domain.Job, files *domain.JobFiles, now time.Time) bool {
	if job.Status != domain.JobStatusSucceeded && job.Status != domain.JobStatusStep2Confirmed {
		return false
	}
	if len(files.DeclaredPaths()) == 0 {
		return false
	}
	return !job.UpdatedAt.After(now.Add(-s.policy.TTL))
}

// CleanupJob removes every declared artifact plus the job base directory.
// With retainShell, the job is rewritten afterwards as a drained
// SUCCEEDED/100 row (empty manifest, no error) so its history stays
// visible; without it (the download path) the job disappears entirely and
// subsequent reads see 404.
func (s *Sweeper) CleanupJob(jobID string, retainShell bool) {
	files, err := s.store.ReadFiles(jobID)
	if err != nil {
		s.log.Warn("cleanup: read files failed", "job_id", jobID, "error", err)
		files = &domain.JobFiles{}
	}
	var owner string
	var createdAt time.Time
	if meta, err := s.store.ReadMeta(jobID); err == nil {
		owner = meta.OwnerUserID
		createdAt = meta.CreatedAt
	}

	paths := s.store.EnumerateDeclaredPaths(jobID, files)
	s.store.RemovePaths(paths)
	s.log.Info("cleaned job artifacts", "job_id", jobID, "paths", len(paths), "retain_shell", retainShell)

	if !retainShell {
		return
	}
	now := time.Now().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	shell := &domain.Job{
		JobID:       jobID,
		OwnerUserID: owner,
		Status:      domain.JobStatusSucceeded,
		Progress:    domain.ProgressSucceeded,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
	if err := s.store.WriteMeta(shell); err != nil {
		s.log.Warn("cleanup: rewrite shell meta failed", "job_id", jobID, "error", err)
		return
	}
	if err := s.store.WriteFiles(jobID, &domain.JobFiles{}); err != nil {
		s.log.Warn("cleanup: rewrite shell manifest failed", "job_id", jobID, "error", err)
	}
}

// Sweep runs one TTL pass over every job directory, draining at most
// BatchSize jobs, then removes TTL-expired orphan directories. Returns the
// number of jobs drained plus orphan dirs removed.
func (s *Sweeper) Sweep() int {
	if !s.policy.Enabled {
		return 0
	}
	now := time.Now().UTC()

	ids, err := s.store.ListJobIDs()
	if err != nil {
		s.log.Warn("cleanup: list jobs failed", "error", err)
		return 0
	}

	cleaned := 0
	for _, id := range ids {
		if s.policy.BatchSize > 0 && cleaned >= s.policy.BatchSize {
			break
		}
		job, err := s.store.ReadMeta(id)
		if err != nil {
			continue
		}
		files, err := s.store.ReadFiles(id)
		if err != nil {
			continue
		}
		if !s.eligible(job, files, now) {
			continue
		}
		s.CleanupJob(id, true)
		cleaned++
	}

	orphans := s.sweepOrphans(s.policy.TTL)
	if cleaned > 0 || orphans > 0 {
		s.log.Info("cleanup sweep completed", "cleaned_jobs", cleaned, "cleaned_orphans", orphans)
	}
	return cleaned + orphans
}

// RunAtStartup performs the startup pass: orphans with no age cutoff, then
// TTL-expired jobs.
func (s *Sweeper) RunAtStartup() int {
	if !s.policy.Enabled || !s.policy.OnStartup {
		return 0
	}
	orphans := s.sweepOrphans(0)
	total := s.Sweep() + orphans
	if total > 0 {
		s.log.Info("startup cleanup completed", "total", total)
	}
	return total
}

func (s *Sweeper) sweepOrphans(cutoff time.Duration) int {
	dirs, err := s.store.ListOrphanJobDirs(cutoff)
	if err != nil {
		s.log.Warn("cleanup: list orphan dirs failed", "error", err)
		return 0
	}
	removed := 0
	for _, dir := range dirs {
		s.store.RemovePaths([]string{dir})
		removed++
	}
	return removed
}
