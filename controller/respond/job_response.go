package respond

import (
	"time"

	"bundle-packager/model"
	"bundle-packager/service/packager_service"
)

// UploadSessionResponse public view of an upload session
type UploadSessionResponse struct {
	SessionId      string    `json:"sessionId"`
	FileName       string    `json:"fileName"`
	FileSize       int64     `json:"fileSize"`
	FileHash       string    `json:"fileHash"`
	ChunkSize      int64     `json:"chunkSize"`
	TotalChunks    int       `json:"totalChunks"`
	ReceivedChunks []int     `json:"receivedChunks"`
	UploadedChunks int       `json:"uploadedChunks"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ToUploadSession converts a session into its public view
func ToUploadSession(s *model.UploadSession) *UploadSessionResponse {
	if s == nil {
		return nil
	}
	received := s.ReceivedChunks
	if received == nil {
		received = []int{}
	}
	return &UploadSessionResponse{
		SessionId:      s.SessionId,
		FileName:       s.FileName,
		FileSize:       s.FileSize,
		FileHash:       s.FileHash,
		ChunkSize:      s.ChunkSize,
		TotalChunks:    s.TotalChunks,
		ReceivedChunks: received,
		UploadedChunks: len(received),
		Status:         string(s.Status),
		ErrorMessage:   s.ErrorMessage,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

// SubmitJobResponse returned by POST /package
type SubmitJobResponse struct {
	JobId     string           `json:"jobId" example:"7d6c1f3e-5b8a-4f0e-9a51-2b7c1d9e8f00"`
	Status    string           `json:"status" example:"queued"`
	Platforms []model.Platform `json:"platforms"`
}

// JobResponse public view of a packaging job
type JobResponse struct {
	JobId        string                                   `json:"jobId"`
	AppName      string                                   `json:"appName"`
	AppVersion   string                                   `json:"appVersion"`
	Platforms    []model.Platform                         `json:"platforms"`
	SessionId    string                                   `json:"sessionId"`
	FileHash     string                                   `json:"fileHash"`
	Status       string                                   `json:"status"`
	Progress     int                                      `json:"progress"`
	Message      string                                   `json:"message"`
	ErrorMessage string                                   `json:"errorMessage,omitempty"`
	Results      map[model.Platform]*model.PlatformResult `json:"results"`
	CreatedAt    time.Time                                `json:"createdAt"`
	UpdatedAt    time.Time                                `json:"updatedAt"`
	FinishedAt   *time.Time                               `json:"finishedAt"`
}

// JobListResponse cursor page of jobs
type JobListResponse struct {
	Jobs       []*JobResponse `json:"jobs"`
	NextCursor int64          `json:"nextCursor" example:"20"`
	HasMore    bool           `json:"hasMore" example:"true"`
}

// ToJob converts a job into its public view
func ToJob(job *model.PackagingJob) *JobResponse {
	if job == nil {
		return nil
	}
	results := job.Results
	if results == nil {
		results = map[model.Platform]*model.PlatformResult{}
	}
	return &JobResponse{
		JobId:        job.JobId,
		AppName:      job.AppName,
		AppVersion:   job.AppVersion,
		Platforms:    job.Platforms,
		SessionId:    job.SessionId,
		FileHash:     job.FileHash,
		Status:       string(job.Status),
		Progress:     job.Progress,
		Message:      job.Message,
		ErrorMessage: job.ErrorMessage,
		Results:      results,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		FinishedAt:   job.FinishedAt,
	}
}

// ToJobList converts a page of jobs
func ToJobList(jobs []*model.PackagingJob, nextCursor int64, size int) JobListResponse {
	out := make([]*JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToJob(j))
	}
	return JobListResponse{
		Jobs:       out,
		NextCursor: nextCursor,
		HasMore:    len(jobs) == size,
	}
}

// PackagerHealthResponse health of every registered packager
type PackagerHealthResponse struct {
	Healthy   bool                                              `json:"healthy"`
	Packagers map[model.Platform]*packager_service.HealthReport `json:"packagers"`
}
