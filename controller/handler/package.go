package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bundle-packager/controller/respond"
	"bundle-packager/model"
	"bundle-packager/service/job_service"
	"bundle-packager/service/packager_service"
)

// PackageHandler packaging job handler
type PackageHandler struct {
	orchestrator *job_service.Orchestrator
	registry     *packager_service.Registry
}

// NewPackageHandler create package handler instance
func NewPackageHandler(orchestrator *job_service.Orchestrator, registry *packager_service.Registry) *PackageHandler {
	return &PackageHandler{
		orchestrator: orchestrator,
		registry:     registry,
	}
}

// PackageRequest packaging request
type PackageRequest struct {
	SessionId  string            `json:"sessionId" binding:"required"`
	AppName    string            `json:"appName" binding:"required" example:"demo"`
	AppVersion string            `json:"appVersion" binding:"required" example:"1.0.0"`
	Platforms  []model.Platform  `json:"platforms" binding:"required,min=1"`
	Options    map[string]string `json:"options"`
}

// Package creates a job for a finalized upload and starts it.
// POST /api/v1/package
func (h *PackageHandler) Package(c *gin.Context) {
	var req PackageRequest
	if err := bindJSONWithOptionalGzip(c, &req); err != nil {
		respond.InvalidParam(c, err.Error())
		return
	}

	job, err := h.orchestrator.Submit(c.Request.Context(), &job_service.SubmitRequest{
		SessionId:  req.SessionId,
		AppName:    req.AppName,
		AppVersion: req.AppVersion,
		Platforms:  req.Platforms,
		Options:    req.Options,
	})
	if err != nil {
		jobError(c, err)
		return
	}

	respond.SuccessWithCode(c, http.StatusAccepted, respond.SubmitJobResponse{
		JobId:     job.JobId,
		Status:    string(job.Status),
		Platforms: job.Platforms,
	})
}

// ListJobs GET /api/v1/jobs?cursor=&size=
func (h *PackageHandler) ListJobs(c *gin.Context) {
	cursor, err := strconv.ParseInt(c.DefaultQuery("cursor", "0"), 10, 64)
	if err != nil || cursor < 0 {
		respond.InvalidParam(c, "invalid cursor")
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size <= 0 || size > 100 {
		respond.InvalidParam(c, "invalid size")
		return
	}

	jobs, next, err := h.orchestrator.List(c.Request.Context(), cursor, size)
	if err != nil {
		respond.ServerError(c, err.Error())
		return
	}
	respond.Success(c, respond.ToJobList(jobs, next, size))
}

// GetJob GET /api/v1/jobs/:id
func (h *PackageHandler) GetJob(c *gin.Context) {
	job, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		jobError(c, err)
		return
	}
	respond.Success(c, respond.ToJob(job))
}

// CancelJob cancels every active task, or only ?platform=.
// POST /api/v1/jobs/:id/cancel
func (h *PackageHandler) CancelJob(c *gin.Context) {
	platform := model.Platform(strings.ToLower(c.Query("platform")))
	cancelled, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"), platform)
	if err != nil {
		jobError(c, err)
		return
	}
	if cancelled == nil {
		cancelled = []model.Platform{}
	}
	respond.Success(c, gin.H{"cancelled": cancelled})
}

// RetryJob starts a fresh attempt of one platform.
// POST /api/v1/jobs/:id/retry?platform=
func (h *PackageHandler) RetryJob(c *gin.Context) {
	platform := model.Platform(strings.ToLower(c.Query("platform")))
	if platform == "" {
		respond.InvalidParam(c, "platform is required")
		return
	}

	task, err := h.orchestrator.Retry(c.Request.Context(), c.Param("id"), platform)
	if err != nil {
		jobError(c, err)
		return
	}
	respond.SuccessWithCode(c, http.StatusAccepted, task.ToResult())
}

// DeleteJob DELETE /api/v1/jobs/:id
func (h *PackageHandler) DeleteJob(c *gin.Context) {
	if err := h.orchestrator.Delete(c.Request.Context(), c.Param("id")); err != nil {
		jobError(c, err)
		return
	}
	respond.Success(c, gin.H{"message": "Job deleted"})
}

// DownloadArtifact streams the primary artifact of a completed platform.
// GET /api/v1/jobs/:id/artifacts/:platform
func (h *PackageHandler) DownloadArtifact(c *gin.Context) {
	platform := model.Platform(strings.ToLower(c.Param("platform")))
	rc, task, err := h.orchestrator.OpenArtifact(c.Request.Context(), c.Param("id"), platform)
	if err != nil {
		jobError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.ArtifactName))
	c.Header("Content-Type", "application/octet-stream")
	if task.ArtifactSize > 0 {
		c.Header("Content-Length", strconv.FormatInt(task.ArtifactSize, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}

// PackagersHealth GET /api/v1/packagers/health
func (h *PackageHandler) PackagersHealth(c *gin.Context) {
	reports := h.registry.HealthReports(c.Request.Context())
	healthy := len(reports) > 0
	for _, r := range reports {
		if !r.Healthy {
			healthy = false
		}
	}
	respond.Success(c, respond.PackagerHealthResponse{Healthy: healthy, Packagers: reports})
}

// jobError maps orchestrator sentinels to status codes
func jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job_service.ErrJobNotFound):
		respond.NotFound(c, err.Error())
	case errors.Is(err, job_service.ErrNoArtifact):
		respond.NotFound(c, err.Error())
	case errors.Is(err, job_service.ErrInvalidRequest):
		respond.InvalidParam(c, err.Error())
	case errors.Is(err, job_service.ErrClosed):
		respond.ServiceUnavailable(c, err.Error())
	default:
		respond.ServerError(c, err.Error())
	}
}
