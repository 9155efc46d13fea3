// Package jobs owns the job lifecycle around the artifact store: minting
// job ids, creating the on-disk subtree, loading an owner-checked job view,
// reconciling meta against disk evidence on every read, and the
// monotonic-progress touch the worker reports through.
package jobs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PoetCoderJun/autocut-backend/internal/artifacts"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
	"github.com/PoetCoderJun/autocut-backend/internal/statemachine"
)

type Service struct {
	store *artifacts.Store
	log   *logger.Logger
}

func NewService(store *artifacts.Store, baseLog *logger.Logger) *Service {
	return &Service{store: store, log: baseLog.With("service", "JobService")}
}

// NewJobID mints an opaque job id in the job_<hex12> shape.
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func (s *Service) Store() *artifacts.Store { return s.store }

// Create lays out a fresh job directory and writes its initial meta and
// (empty) file manifest.
func (s *Service) Create(ownerUserID string) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		JobID:       NewJobID(),
		OwnerUserID: ownerUserID,
		Status:      domain.JobStatusCreated,
		Progress:    domain.ProgressCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJobDirs(job.JobID); err != nil {
		return nil, err
	}
	if err := s.store.WriteMeta(job); err != nil {
		return nil, err
	}
	if err := s.store.WriteFiles(job.JobID, &domain.JobFiles{}); err != nil {
		return nil, err
	}
	return job, nil
}

// Get loads the raw (unreconciled) job meta.
func (s *Service) Get(jobID string) (*domain.Job, error) {
	return s.store.ReadMeta(jobID)
}

// GetOwned loads a job and rejects with 404 unless ownerUserID matches.
// Ownership failures deliberately look identical to a missing job so an
// attacker can't probe for other users' job ids.
func (s *Service) GetOwned(jobID, ownerUserID string) (*domain.Job, error) {
	job, err := s.store.ReadMeta(jobID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(404, "NOT_FOUND", fmt.Errorf("job not found"))
		}
		return nil, err
	}
	if job.OwnerUserID != ownerUserID {
		return nil, apierr.New(404, "NOT_FOUND", fmt.Errorf("job not found"))
	}
	return job, nil
}

// GetReconciled is GetOwned followed by infer_status reconciliation; a
// status changed by reconciliation is persisted so later reads (and the
// worker) see the recovered truth. This runs on every job GET.
func (s *Service) GetReconciled(jobID, ownerUserID string) (*domain.Job, error) {
	job, err := s.GetOwned(jobID, ownerUserID)
	if err != nil {
		return nil, err
	}
	reconciled := statemachine.Reconcile(s.store, job)
	if reconciled.Status != job.Status {
		s.log.Info("reconciled job status from disk evidence",
			"job_id", jobID, "meta_status", job.Status, "inferred_status", reconciled.Status)
		reconciled.UpdatedAt = time.Now().UTC()
		if err := s.store.WriteMeta(reconciled); err != nil {
			return nil, err
		}
	}
	return reconciled, nil
}

// UpdateStatus moves a job to status/progress and stamps updated_at. It does
// not validate the transition; callers hold the state-graph preconditions.
func (s *Service) UpdateStatus(jobID, status string, progress int) error {
	job, err := s.store.ReadMeta(jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.Progress = progress
	job.ErrorCode = ""
	job.ErrorMessage = ""
	job.UpdatedAt = time.Now().UTC()
	return s.store.WriteMeta(job)
}

// TouchProgress persists a worker-reported progress value, refusing
// downgrades: the stored value only ever moves forward within a run.
func (s *Service) TouchProgress(jobID string, progress int) error {
	job, err := s.store.ReadMeta(jobID)
	if err != nil {
		return err
	}
	if progress <= job.Progress {
		return nil
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return s.store.WriteMeta(job)
}

// Touch stamps updated_at without changing anything else; the download
// cleanup hook uses it to restart the TTL clock.
func (s *Service) Touch(jobID string) error {
	job, err := s.store.ReadMeta(jobID)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	return s.store.WriteMeta(job)
}

// SetFailed flips a job into an error state with the publicly-safe
// code/message pair, writing job.error.json only for terminal FAILED (the
// marker infer_status treats as proof of failure). The insufficient-credits
// fallback to UPLOAD_READY keeps the error on the row but not on disk, so
// the user can redeem and retry.
func (s *Service) SetFailed(jobID, status string, progress int, code, message string) error {
	job, err := s.store.ReadMeta(jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.Progress = progress
	job.ErrorCode = code
	job.ErrorMessage = message
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.WriteMeta(job); err != nil {
		return err
	}
	if status == domain.JobStatusFailed {
		return s.store.WriteError(jobID, &domain.JobError{Code: code, Message: message})
	}
	return s.store.ClearError(jobID)
}

// UpdateFiles applies mutate to the job's file manifest and writes it back.
func (s *Service) UpdateFiles(jobID string, mutate func(*domain.JobFiles)) (*domain.JobFiles, error) {
	files, err := s.store.ReadFiles(jobID)
	if err != nil {
		return nil, err
	}
	mutate(files)
	if err := s.store.WriteFiles(jobID, files); err != nil {
		return nil, err
	}
	return files, nil
}
