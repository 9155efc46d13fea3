package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/jobs"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
	"github.com/PoetCoderJun/autocut-backend/internal/render"
)

// RenderHandler synthesizes the client-side renderer's composition doc from
// the reviewed step1 SRT and the confirmed chapters. Rendering itself
// happens in the browser; this is the last backend-owned stage.
type RenderHandler struct {
	log  *logger.Logger
	jobs *jobs.Service
}

func NewRenderHandler(baseLog *logger.Logger, jobsSvc *jobs.Service) *RenderHandler {
	return &RenderHandler{log: baseLog.With("handler", "RenderHandler"), jobs: jobsSvc}
}

// GET /jobs/:id/render/config
func (h *RenderHandler) RenderConfig(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusStep2Confirmed, domain.JobStatusSucceeded); err != nil {
		response.Error(c, err)
		return
	}

	store := h.jobs.Store()
	files, err := store.ReadFiles(job.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if files.FinalStep1SRTPath == nil || *files.FinalStep1SRTPath == "" {
		response.ErrorCode(c, "INVALID_STEP_STATE", "final_step1.srt missing")
		return
	}
	srtRaw, err := store.ReadTextFile(*files.FinalStep1SRTPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	chapters, err := store.ReadStep2Chapters(job.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}

	topicInputs := make([]render.TopicInput, 0, len(chapters))
	for _, ch := range chapters {
		topicInputs = append(topicInputs, render.TopicInput{
			Title:    ch.Title,
			Summary:  ch.Summary,
			StartSec: ch.StartSec,
			EndSec:   ch.EndSec,
		})
	}

	input := render.WebRenderConfigInput{
		JobID:             job.JobID,
		Step1SRTRaw:       srtRaw,
		CutSRTOutputPath:  store.RenderCutSRTPath(job.JobID),
		MergeGapSeconds:   envFloat("CUT_MERGE_GAP_SECONDS", render.DefaultCutMergeGapSeconds),
		Topics:            topicInputs,
		FPS:               queryFloat(c, "fps"),
		Width:             queryInt(c, "width"),
		Height:            queryInt(c, "height"),
		DurationOverrideS: queryFloat(c, "duration_sec"),
	}

	cfg, cutSRTPath, err := render.BuildWebRenderConfig(input)
	if err != nil {
		h.log.Warn("render config failed", "error", err, "job_id", job.JobID)
		response.ErrorCode(c, "INVALID_STEP_STATE", err.Error())
		return
	}
	h.log.Debug("render config built", "job_id", job.JobID, "cut_srt", cutSRTPath)

	response.OK(c, gin.H{"render": cfg})
}

func queryFloat(c *gin.Context, name string) *float64 {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func queryInt(c *gin.Context, name string) *int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func envFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(envutil.String(name, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
