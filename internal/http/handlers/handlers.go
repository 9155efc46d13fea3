// Package handlers implements the REST surface: short, stateless
// functions that authenticate, check the job's status precondition, mutate
// state or enqueue, and return. Stage work never happens here — handlers
// only write intent; the worker pulls it.
package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/ctxutil"
)

// requireStatus enforces an endpoint's status precondition, returning the
// 409 INVALID_STEP_STATE error the wire contract specifies. The job is
// never modified on a precondition failure.
func requireStatus(job *domain.Job, allowed ...string) error {
	for _, s := range allowed {
		if job.Status == s {
			return nil
		}
	}
	return apierr.New(409, "INVALID_STEP_STATE",
		fmt.Errorf("current status=%s not allowed for this operation", job.Status))
}

// jobView is the wire shape of a job across every endpoint that returns one.
type jobView struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Error     *jobError `json:"error,omitempty"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func viewOf(job *domain.Job) jobView {
	v := jobView{
		JobID:     job.JobID,
		Status:    job.Status,
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt: job.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if job.ErrorCode != "" || job.ErrorMessage != "" {
		v.Error = &jobError{Code: job.ErrorCode, Message: job.ErrorMessage}
	}
	return v
}

// enqueuePayload carries the originating request's ids into the worker so
// stage logs can be tied back to the HTTP call that queued them.
func enqueuePayload(c *gin.Context) map[string]any {
	payload := map[string]any{}
	if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
		if td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
		if td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
	}
	return payload
}
