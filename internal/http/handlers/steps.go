package handlers

import (
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/data/db"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/jobs"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
	"github.com/PoetCoderJun/autocut-backend/internal/srt"
)

// StepsHandler drives the two review loops: enqueue a stage run, read its
// artifact back, and persist the user's confirmation edits.
type StepsHandler struct {
	log     *logger.Logger
	jobs    *jobs.Service
	queue   *db.Queue
	billing *billing.Service
}

func NewStepsHandler(baseLog *logger.Logger, jobsSvc *jobs.Service, queue *db.Queue, billingSvc *billing.Service) *StepsHandler {
	return &StepsHandler{
		log:     baseLog.With("handler", "StepsHandler"),
		jobs:    jobsSvc,
		queue:   queue,
		billing: billingSvc,
	}
}

// POST /jobs/:id/step1/run
func (h *StepsHandler) Step1Run(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusUploadReady); err != nil {
		response.Error(c, err)
		return
	}

	// Pre-check so a zero-balance user is turned away before anything is
	// queued; surfaced as 409 so the client treats it as a state problem it
	// can fix by redeeming.
	if err := h.billing.RequireBalance(c.Request.Context(), user.UserID, billing.Step1ConsumptionAmount); err != nil {
		response.ErrorCode(c, "INVALID_STEP_STATE", "额度不足，请先兑换邀请码后重试")
		return
	}

	taskID, err := h.queue.EnqueueTask(c.Request.Context(), job.JobID, domain.TaskTypeStep1, enqueuePayload(c))
	if err != nil {
		h.log.Error("enqueue step1 failed", "error", err, "job_id", job.JobID)
		response.Error(c, err)
		return
	}
	if err := h.jobs.UpdateStatus(job.JobID, domain.JobStatusStep1Running, domain.ProgressStep1RunFloor); err != nil {
		response.Error(c, err)
		return
	}

	latest, err := h.jobs.GetReconciled(job.JobID, user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"accepted": true, "task_id": taskID, "job": viewOf(latest)})
}

// GET /jobs/:id/step1
func (h *StepsHandler) Step1Get(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job,
		domain.JobStatusStep1Ready, domain.JobStatusStep1Confirmed,
		domain.JobStatusStep2Running, domain.JobStatusStep2Ready,
		domain.JobStatusStep2Confirmed); err != nil {
		response.Error(c, err)
		return
	}
	lines, err := h.jobs.Store().ReadStep1Lines(job.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"lines": lines})
}

type step1ConfirmLine struct {
	LineID          int    `json:"line_id" binding:"required"`
	OptimizedText   string `json:"optimized_text"`
	UserFinalRemove bool   `json:"user_final_remove"`
}

// PUT /jobs/:id/step1/confirm
func (h *StepsHandler) Step1Confirm(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusStep1Ready); err != nil {
		response.Error(c, err)
		return
	}

	var body struct {
		Lines []step1ConfirmLine `json:"lines"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Lines) == 0 {
		response.ErrorCode(c, "INVALID_STEP_STATE", "lines cannot be empty")
		return
	}

	store := h.jobs.Store()
	existing, err := store.ReadStep1Lines(job.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	byID := make(map[int]*domain.Step1Line, len(existing))
	for i := range existing {
		byID[existing[i].LineID] = &existing[i]
	}
	for _, update := range body.Lines {
		line, ok := byID[update.LineID]
		if !ok {
			response.ErrorCode(c, "BAD_REQUEST", "invalid line_id")
			return
		}
		line.OptimizedText = strings.TrimSpace(update.OptimizedText)
		line.UserFinalRemove = update.UserFinalRemove
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].LineID < existing[j].LineID })

	if err := store.WriteStep1Lines(job.JobID, existing); err != nil {
		response.Error(c, err)
		return
	}
	if err := store.WriteStep1FinalSRT(job.JobID, srt.WriteFinalStep1SRT(existing)); err != nil {
		response.Error(c, err)
		return
	}
	if err := store.MarkStep1Confirmed(job.JobID); err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.jobs.UpdateFiles(job.JobID, func(f *domain.JobFiles) {
		final := store.Step1FinalSRTPath(job.JobID)
		f.FinalStep1SRTPath = &final
	}); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.jobs.UpdateStatus(job.JobID, domain.JobStatusStep1Confirmed, domain.ProgressStep1Confirmed); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"confirmed": true, "status": domain.JobStatusStep1Confirmed})
}

// POST /jobs/:id/step2/run
func (h *StepsHandler) Step2Run(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusStep1Confirmed); err != nil {
		response.Error(c, err)
		return
	}

	taskID, err := h.queue.EnqueueTask(c.Request.Context(), job.JobID, domain.TaskTypeStep2, enqueuePayload(c))
	if err != nil {
		h.log.Error("enqueue step2 failed", "error", err, "job_id", job.JobID)
		response.Error(c, err)
		return
	}
	if err := h.jobs.UpdateStatus(job.JobID, domain.JobStatusStep2Running, domain.ProgressStep2RunFloor); err != nil {
		response.Error(c, err)
		return
	}

	latest, err := h.jobs.GetReconciled(job.JobID, user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"accepted": true, "task_id": taskID, "job": viewOf(latest)})
}

// GET /jobs/:id/step2
func (h *StepsHandler) Step2Get(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusStep2Ready, domain.JobStatusStep2Confirmed); err != nil {
		response.Error(c, err)
		return
	}
	chapters, err := h.jobs.Store().ReadStep2Chapters(job.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"chapters": chapters})
}

type step2ConfirmChapter struct {
	ChapterID int     `json:"chapter_id" binding:"required"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	StartSec  float64 `json:"start_sec"`
	EndSec    float64 `json:"end_sec"`
	LineIDs   []int   `json:"line_ids"`
}

// PUT /jobs/:id/step2/confirm
func (h *StepsHandler) Step2Confirm(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusStep2Ready); err != nil {
		response.Error(c, err)
		return
	}

	var body struct {
		Chapters []step2ConfirmChapter `json:"chapters"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Chapters) == 0 {
		response.ErrorCode(c, "INVALID_STEP_STATE", "chapters cannot be empty")
		return
	}

	store := h.jobs.Store()
	existing, err := store.ReadStep2Chapters(job.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	byID := make(map[int]*domain.Step2Chapter, len(existing))
	for i := range existing {
		byID[existing[i].ChapterID] = &existing[i]
	}
	for _, update := range body.Chapters {
		ch, ok := byID[update.ChapterID]
		if !ok {
			response.ErrorCode(c, "BAD_REQUEST", "invalid chapter_id")
			return
		}
		ch.Title = strings.TrimSpace(update.Title)
		ch.Summary = strings.TrimSpace(update.Summary)
		if update.EndSec > update.StartSec {
			ch.StartSec = update.StartSec
			ch.EndSec = update.EndSec
		}
	}

	if err := store.WriteStep2Chapters(job.JobID, existing); err != nil {
		response.Error(c, err)
		return
	}
	if err := store.MarkStep2Confirmed(job.JobID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.jobs.UpdateStatus(job.JobID, domain.JobStatusStep2Confirmed, domain.ProgressStep2Confirmed); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"confirmed": true, "status": domain.JobStatusStep2Confirmed})
}
