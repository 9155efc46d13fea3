package domain

import "time"

// Job status values. A job moves left
// to right through this graph; STEP1_RUNNING can also fall back to
// UPLOAD_READY on insufficient credits, and any non-terminal state can jump
// to FAILED. SUCCEEDED and FAILED are terminal.
const (
	JobStatusCreated        = "CREATED"
	JobStatusUploadReady    = "UPLOAD_READY"
	JobStatusStep1Running   = "STEP1_RUNNING"
	JobStatusStep1Ready     = "STEP1_READY"
	JobStatusStep1Confirmed = "STEP1_CONFIRMED"
	JobStatusStep2Running   = "STEP2_RUNNING"
	JobStatusStep2Ready     = "STEP2_READY"
	JobStatusStep2Confirmed = "STEP2_CONFIRMED"
	JobStatusSucceeded      = "SUCCEEDED"
	JobStatusFailed         = "FAILED"
)

// Progress rungs the UI renders. Within the *_RUNNING states progress is a
// clamped, monotonic value somewhere in the open interval; everywhere else
// it's a fixed integer.
const (
	ProgressCreated        = 0
	ProgressUploadReady    = 10
	ProgressStep1RunFloor  = 11
	ProgressStep1RunCeil   = 29
	ProgressStep1Ready     = 35
	ProgressStep1Confirmed = 45
	ProgressStep2RunFloor  = 46
	ProgressStep2RunCeil   = 74
	ProgressStep2Ready     = 75
	ProgressStep2Confirmed = 80
	ProgressSucceeded      = 100
)

// Job is the per-run orchestration record. It is deliberately NOT a
// relational row: it lives on disk as job.meta.json, one file per job
// directory, with the filesystem as its only authority. The DB only ever
// sees a job_id string, as a foreign key inside credit_ledger and
// queue_tasks rows.
type Job struct {
	JobID        string    `json:"job_id"`
	OwnerUserID  string    `json:"owner_user_id"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Terminal reports whether the job can never transition again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// JobFiles is the job.files.json manifest: the single source of truth for
// which artifacts are declared for a job. A nil pointer means
// the slot hasn't been produced yet.
type JobFiles struct {
	AudioPath         *string `json:"audio_path"`
	SRTPath           *string `json:"srt_path"`
	OptimizedSRTPath  *string `json:"optimized_srt_path"`
	FinalStep1SRTPath *string `json:"final_step1_srt_path"`
	TopicsPath        *string `json:"topics_path"`
	FinalTopicsPath   *string `json:"final_topics_path"`
	FinalVideoPath    *string `json:"final_video_path"`
}

// DeclaredPaths returns every non-nil slot, for cleanup's enumerate-then-
// delete pass.
func (f *JobFiles) DeclaredPaths() []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, p := range []*string{
		f.AudioPath, f.SRTPath, f.OptimizedSRTPath, f.FinalStep1SRTPath,
		f.TopicsPath, f.FinalTopicsPath, f.FinalVideoPath,
	} {
		if p != nil && *p != "" {
			out = append(out, *p)
		}
	}
	return out
}

// JobError is the optional job.error.json sidecar, present iff the job is
// FAILED.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
