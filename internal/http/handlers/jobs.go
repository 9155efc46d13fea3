package handlers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/cleanup"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/http/middleware"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/jobs"
	"github.com/PoetCoderJun/autocut-backend/internal/objectstore"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/apierr"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

// allowedAudioExtensions is the direct-upload allow-list; anything else is
// rejected with UNSUPPORTED_AUDIO_FORMAT before a byte is written.
var allowedAudioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true,
	".flac": true, ".ogg": true, ".opus": true, ".wma": true, ".amr": true,
}

type JobsHandler struct {
	log     *logger.Logger
	jobs    *jobs.Service
	oss     *objectstore.Store
	sweeper *cleanup.Sweeper

	maxUploadBytes int64
}

func NewJobsHandler(baseLog *logger.Logger, jobsSvc *jobs.Service, oss *objectstore.Store, sweeper *cleanup.Sweeper) *JobsHandler {
	return &JobsHandler{
		log:            baseLog.With("handler", "JobsHandler"),
		jobs:           jobsSvc,
		oss:            oss,
		sweeper:        sweeper,
		maxUploadBytes: int64(envutil.Int("MAX_UPLOAD_MB", 200)) * 1024 * 1024,
	}
}

// POST /jobs
func (h *JobsHandler) CreateJob(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user.Status != domain.UserStatusActive {
		response.ErrorCode(c, "FORBIDDEN", "请先兑换邀请码激活账户")
		return
	}
	job, err := h.jobs.Create(user.UserID)
	if err != nil {
		h.log.Error("create job failed", "error", err, "user_id", user.UserID)
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"job": viewOf(job)})
}

// GET /jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"job": viewOf(job)})
}

// POST /jobs/:id/oss-upload-url
func (h *JobsHandler) GetOSSUploadURL(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusCreated, domain.JobStatusUploadReady); err != nil {
		response.Error(c, err)
		return
	}
	if h.oss == nil {
		response.ErrorCode(c, "INVALID_STEP_STATE", "对象存储未配置，请使用直接上传")
		return
	}

	var body struct {
		Suffix string `json:"suffix"`
	}
	_ = c.ShouldBindJSON(&body)
	suffix := strings.ToLower(strings.TrimSpace(body.Suffix))
	if suffix == "" {
		suffix = ".wav"
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	if !allowedAudioExtensions[suffix] {
		response.ErrorCode(c, "UNSUPPORTED_AUDIO_FORMAT", "不支持的音频格式")
		return
	}

	objectKey := h.oss.BuildObjectKeyForJob(job.JobID, "audio"+suffix)
	putURL, err := h.oss.GetPresignedPutURL(c.Request.Context(), objectKey, 0)
	if err != nil {
		h.log.Error("presign put url failed", "error", err, "job_id", job.JobID)
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"put_url": putURL, "object_key": objectKey})
}

// POST /jobs/:id/audio-oss-ready
func (h *JobsHandler) AudioOSSReady(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusCreated, domain.JobStatusUploadReady); err != nil {
		response.Error(c, err)
		return
	}
	if h.oss == nil {
		response.ErrorCode(c, "INVALID_STEP_STATE", "对象存储未配置，请使用直接上传")
		return
	}

	var body struct {
		ObjectKey string `json:"object_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ErrorCode(c, "BAD_REQUEST", "object_key is required")
		return
	}

	ext := strings.ToLower(filepath.Ext(body.ObjectKey))
	if !allowedAudioExtensions[ext] {
		response.ErrorCode(c, "UNSUPPORTED_AUDIO_FORMAT", "不支持的音频格式")
		return
	}

	target := h.jobs.Store().InputAudioPath(job.JobID, ext)
	if err := h.downloadObject(c, body.ObjectKey, target); err != nil {
		h.log.Error("pull oss audio failed", "error", err, "job_id", job.JobID)
		response.ErrorCode(c, "BAD_REQUEST", "上传文件不可用，请重新上传")
		return
	}

	if _, err := h.jobs.UpdateFiles(job.JobID, func(f *domain.JobFiles) {
		f.AudioPath = &target
	}); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.jobs.UpdateStatus(job.JobID, domain.JobStatusUploadReady, domain.ProgressUploadReady); err != nil {
		response.Error(c, err)
		return
	}

	latest, err := h.jobs.GetReconciled(job.JobID, user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"job": viewOf(latest), "upload": gin.H{"object_key": body.ObjectKey}})
}

func (h *JobsHandler) downloadObject(c *gin.Context, objectKey, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if err := h.oss.Download(c.Request.Context(), objectKey, out); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return err
	}
	return out.Close()
}

// POST /jobs/:id/audio  (direct multipart alternative to the OSS flow)
func (h *JobsHandler) UploadAudio(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireStatus(job, domain.JobStatusCreated, domain.JobStatusUploadReady); err != nil {
		response.Error(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ErrorCode(c, "BAD_REQUEST", "file field is required")
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedAudioExtensions[ext] {
		response.ErrorCode(c, "UNSUPPORTED_AUDIO_FORMAT", "不支持的音频格式")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, err)
		return
	}
	defer src.Close()

	target := h.jobs.Store().InputAudioPath(job.JobID, ext)
	total, err := h.streamWithCap(src, target)
	if err != nil {
		response.Error(c, err)
		return
	}
	if total == 0 {
		_ = os.Remove(target)
		response.ErrorCode(c, "INVALID_STEP_STATE", "上传文件为空")
		return
	}

	if _, err := h.jobs.UpdateFiles(job.JobID, func(f *domain.JobFiles) {
		f.AudioPath = &target
	}); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.jobs.UpdateStatus(job.JobID, domain.JobStatusUploadReady, domain.ProgressUploadReady); err != nil {
		response.Error(c, err)
		return
	}

	latest, err := h.jobs.GetReconciled(job.JobID, user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"job": viewOf(latest),
		"upload": gin.H{
			"filename":   filepath.Base(fileHeader.Filename),
			"size_bytes": total,
		},
	})
}

// streamWithCap copies the upload chunk-by-chunk; on overflow the partial
// file is deleted and UPLOAD_TOO_LARGE is returned. Exactly the cap is
// accepted.
func (h *JobsHandler) streamWithCap(src io.Reader, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}

	var total int64
	buf := make([]byte, 1024*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > h.maxUploadBytes {
				_ = out.Close()
				_ = os.Remove(target)
				return 0, apierr.New(413, "UPLOAD_TOO_LARGE",
					fmt.Errorf("文件超过 %dMB，请压缩后重试", h.maxUploadBytes/(1024*1024)))
			}
			if _, err := out.Write(buf[:n]); err != nil {
				_ = out.Close()
				_ = os.Remove(target)
				return 0, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			_ = os.Remove(target)
			return 0, readErr
		}
	}
	return total, out.Close()
}

// GET /jobs/:id/download
func (h *JobsHandler) DownloadFinalVideo(c *gin.Context) {
	user := middleware.CurrentUser(c)
	job, err := h.jobs.GetReconciled(c.Param("id"), user.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	outputPath := h.jobs.Store().RenderOutputPath(job.JobID)
	if _, err := os.Stat(outputPath); err != nil {
		response.ErrorCode(c, "NOT_FOUND", "final video not found")
		return
	}

	outputName := job.JobID + ".mp4"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputName))
	c.Header("Content-Type", "video/mp4")
	c.File(outputPath)

	if h.shouldCleanupAfterDownload(c) {
		jobID := job.JobID
		go func() {
			h.sweeper.CleanupJob(jobID, false)
		}()
	} else if h.sweeper != nil && h.sweeper.Policy().Enabled {
		// No immediate cleanup: restart the TTL clock so the sweep reclaims
		// this job a full TTL after its last download, not its last edit.
		_ = h.jobs.Touch(job.JobID)
	}
}

// shouldCleanupAfterDownload honors the per-request ?cleanup= override,
// falling back to the global WEB_CLEANUP_ON_DOWNLOAD default.
func (h *JobsHandler) shouldCleanupAfterDownload(c *gin.Context) bool {
	if h.sweeper == nil || !h.sweeper.Policy().Enabled {
		return false
	}
	switch strings.TrimSpace(c.Query("cleanup")) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return h.sweeper.Policy().OnDownload
	}
}
