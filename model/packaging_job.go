package model

import "time"

// Platform target platform name
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformAndroid Platform = "android"
	PlatformPWA     Platform = "pwa"
)

// AllPlatforms returns every supported platform in a stable order
func AllPlatforms() []Platform {
	return []Platform{PlatformWindows, PlatformMacOS, PlatformLinux, PlatformAndroid, PlatformPWA}
}

// Valid reports whether p is a supported platform
func (p Platform) Valid() bool {
	switch p {
	case PlatformWindows, PlatformMacOS, PlatformLinux, PlatformAndroid, PlatformPWA:
		return true
	}
	return false
}

// JobStatus packaging job aggregate status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job has stopped
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TaskStatus platform task status
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal edge.
// queued -> processing|failed|cancelled, processing -> completed|failed|cancelled.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusProcessing || next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusCancelled
	}
	return false
}

// TaskOutcome how a completed task produced its result
type TaskOutcome string

const (
	TaskOutcomeNone     TaskOutcome = ""
	TaskOutcomeBuilt    TaskOutcome = "built"      // Packager ran and produced artifacts
	TaskOutcomeUpToDate TaskOutcome = "up_to_date" // Fingerprint matched the last install, build skipped
)

// PackagingJob one bundle packaged for one or more platforms
type PackagingJob struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	JobId      string            `gorm:"uniqueIndex;type:varchar(64)" json:"job_id"`
	AppName    string            `gorm:"type:varchar(255)" json:"app_name"`
	AppVersion string            `gorm:"type:varchar(64)" json:"app_version"`
	Platforms  []Platform        `gorm:"type:text;serializer:json" json:"platforms"`
	SessionId  string            `gorm:"index;type:varchar(64)" json:"session_id"`
	FileHash   string            `gorm:"type:varchar(128)" json:"file_hash"`
	Options    map[string]string `gorm:"type:text;serializer:json" json:"options"`

	Status       JobStatus `gorm:"index;type:varchar(20);default:'queued'" json:"status"`
	Progress     int       `gorm:"type:int;default:0" json:"progress"` // Mean over non-cancelled tasks
	Message      string    `gorm:"type:varchar(500)" json:"message"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`

	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at"`

	// Results latest task per platform, filled on read
	Results map[Platform]*PlatformResult `gorm:"-" json:"results,omitempty"`
}

// TableName sets custom table name
func (PackagingJob) TableName() string {
	return "tb_packaging_job"
}

// PlatformTask the part of a job scoped to one platform. Retries create new rows.
type PlatformTask struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	TaskId   string   `gorm:"uniqueIndex;type:varchar(64)" json:"task_id"`
	JobId    string   `gorm:"index;type:varchar(64)" json:"job_id"`
	Platform Platform `gorm:"type:varchar(20)" json:"platform"`
	Attempt  int      `gorm:"type:int;default:1" json:"attempt"`

	Status   TaskStatus  `gorm:"type:varchar(20);default:'queued'" json:"status"`
	Outcome  TaskOutcome `gorm:"type:varchar(20)" json:"outcome"`
	Progress int         `gorm:"type:int;default:0" json:"progress"`
	Message  string      `gorm:"type:varchar(500)" json:"message"`

	// Artifact produced by the packager, stored under packages/<jobId>/<platform>/
	ArtifactName string   `gorm:"type:varchar(255)" json:"artifact_name"`
	ArtifactKey  string   `gorm:"type:varchar(500)" json:"artifact_key"`
	ArtifactSize int64    `json:"artifact_size"`
	ArtifactType string   `gorm:"type:varchar(50)" json:"artifact_type"`
	Packages     []string `gorm:"type:text;serializer:json" json:"packages"`

	Error *ErrorRecord `gorm:"type:text;serializer:json" json:"error,omitempty"`

	ElapsedMs int64  `json:"elapsed_ms"`
	TempPath  string `gorm:"type:varchar(500)" json:"temp_path,omitempty"`

	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TableName sets custom table name
func (PlatformTask) TableName() string {
	return "tb_platform_task"
}

// PlatformResult per-platform view of a job, built from the latest task
type PlatformResult struct {
	TaskId       string       `json:"taskId"`
	Status       TaskStatus   `json:"status"`
	Success      bool         `json:"success"`
	Outcome      TaskOutcome  `json:"outcome,omitempty"`
	Progress     int          `json:"progress"`
	Message      string       `json:"message"`
	Attempt      int          `json:"attempt"`
	ArtifactName string       `json:"artifactName,omitempty"`
	ArtifactSize int64        `json:"artifactSize"`
	Packages     []string     `json:"packages,omitempty"`
	ElapsedMs    int64        `json:"elapsedMs"`
	Error        *ErrorRecord `json:"error,omitempty"`
}

// ToResult converts the task into its public result view
func (t *PlatformTask) ToResult() *PlatformResult {
	return &PlatformResult{
		TaskId:       t.TaskId,
		Status:       t.Status,
		Success:      t.Status == TaskStatusCompleted,
		Outcome:      t.Outcome,
		Progress:     t.Progress,
		Message:      t.Message,
		Attempt:      t.Attempt,
		ArtifactName: t.ArtifactName,
		ArtifactSize: t.ArtifactSize,
		Packages:     t.Packages,
		ElapsedMs:    t.ElapsedMs,
		Error:        t.Error,
	}
}
