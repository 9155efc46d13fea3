// Package statemachine implements the job status graph and the
// infer_status reconciliation algorithm: whenever
// job.meta.json's status might have drifted from on-disk evidence (e.g. the
// process restarted mid-run), infer_status recomputes the truth from what's
// actually on disk and reconciles it with what the metadata last claimed.
package statemachine

import (
	"github.com/PoetCoderJun/autocut-backend/internal/artifacts"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

// DiskEvidence is the observed on-disk state infer_status reasons over. It
// lives in its own struct so callers (and tests) can construct it without
// touching a real artifact store.
type DiskEvidence struct {
	HasJobError     bool
	HasRenderOutput bool
	Step2Confirmed  bool
	HasStep2Final   bool
	Step1Confirmed  bool
	HasStep1Final   bool
	HasInputAudio   bool
}

// Gather reads the on-disk evidence infer_status needs for one job.
func Gather(store *artifacts.Store, jobID string) DiskEvidence {
	return DiskEvidence{
		HasJobError:     store.HasJobError(jobID),
		HasRenderOutput: store.HasRenderOutput(jobID),
		Step2Confirmed:  store.Step2Confirmed(jobID),
		HasStep2Final:   store.HasStep2Final(jobID),
		Step1Confirmed:  store.Step1Confirmed(jobID),
		HasStep1Final:   store.HasStep1Final(jobID),
		HasInputAudio:   store.HasInputAudio(jobID),
	}
}

// inferFromDisk ranks on-disk evidence, strongest first: an error file
// always means FAILED, then each stage's output in reverse pipeline order.
func inferFromDisk(ev DiskEvidence) string {
	switch {
	case ev.HasJobError:
		return domain.JobStatusFailed
	case ev.HasRenderOutput:
		return domain.JobStatusSucceeded
	case ev.Step2Confirmed:
		return domain.JobStatusStep2Confirmed
	case ev.HasStep2Final:
		return domain.JobStatusStep2Ready
	case ev.Step1Confirmed:
		return domain.JobStatusStep1Confirmed
	case ev.HasStep1Final:
		return domain.JobStatusStep1Ready
	case ev.HasInputAudio:
		return domain.JobStatusUploadReady
	default:
		return domain.JobStatusCreated
	}
}

// InferStatus reconciles a job's last-written meta status against disk
// evidence. This is the only place disk/metadata disagreement is resolved,
// and it runs on every read.
func InferStatus(metaStatus string, ev DiskEvidence) string {
	inferred := inferFromDisk(ev)

	switch {
	case metaStatus == domain.JobStatusStep1Running &&
		(inferred == domain.JobStatusCreated || inferred == domain.JobStatusUploadReady):
		return domain.JobStatusStep1Running
	case metaStatus == domain.JobStatusStep2Running && inferred == domain.JobStatusStep1Confirmed:
		return domain.JobStatusStep2Running
	case metaStatus == domain.JobStatusFailed && !isTerminal(inferred):
		return domain.JobStatusFailed
	case metaStatus == domain.JobStatusSucceeded && inferred == domain.JobStatusCreated:
		// A drained cleanup shell: artifacts gone, row retained. With no
		// disk evidence at all, the terminal meta wins over "never started".
		return domain.JobStatusSucceeded
	default:
		return inferred
	}
}

func isTerminal(status string) bool {
	return status == domain.JobStatusSucceeded || status == domain.JobStatusFailed
}

// Reconcile loads a job's meta, recomputes its status via InferStatus, and
// returns the job with Status (and, if it changed, a rung-consistent
// Progress) brought in line with disk reality. It does not persist the
// result; callers decide whether a changed status is worth writing back.
func Reconcile(store *artifacts.Store, job *domain.Job) *domain.Job {
	ev := Gather(store, job.JobID)
	inferred := InferStatus(job.Status, ev)
	if inferred == job.Status {
		return job
	}
	reconciled := *job
	reconciled.Status = inferred
	if rung, ok := FixedProgressForStatus(inferred); ok {
		reconciled.Progress = rung
	}
	return &reconciled
}

// FixedProgressForStatus returns the exact progress rung for every status
// except the two *_RUNNING states, which report a clamped running value
// instead, and FAILED, which keeps its last progress.
func FixedProgressForStatus(status string) (int, bool) {
	switch status {
	case domain.JobStatusCreated:
		return domain.ProgressCreated, true
	case domain.JobStatusUploadReady:
		return domain.ProgressUploadReady, true
	case domain.JobStatusStep1Ready:
		return domain.ProgressStep1Ready, true
	case domain.JobStatusStep1Confirmed:
		return domain.ProgressStep1Confirmed, true
	case domain.JobStatusStep2Ready:
		return domain.ProgressStep2Ready, true
	case domain.JobStatusStep2Confirmed:
		return domain.ProgressStep2Confirmed, true
	case domain.JobStatusSucceeded:
		return domain.ProgressSucceeded, true
	default:
		return 0, false
	}
}

// ClampRunningProgress clamps a stage driver's reported ratio into the
// current running state's progress band, rejecting any value that would
// move progress backwards: progress is monotonic non-decreasing and stays
// below the next rung's floor.
func ClampRunningProgress(status string, lastProgress int, ratio float64) int {
	var floor, ceil int
	switch status {
	case domain.JobStatusStep1Running:
		floor, ceil = domain.ProgressStep1RunFloor, domain.ProgressStep1RunCeil
	case domain.JobStatusStep2Running:
		floor, ceil = domain.ProgressStep2RunFloor, domain.ProgressStep2RunCeil
	default:
		return lastProgress
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	candidate := floor + int(ratio*float64(ceil-floor))
	if candidate > ceil {
		candidate = ceil
	}
	if candidate < floor {
		candidate = floor
	}
	if candidate < lastProgress {
		return lastProgress
	}
	return candidate
}
