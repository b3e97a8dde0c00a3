package database

import (
	"time"

	"bundle-packager/model"
)

// Database interface for different database implementations
type Database interface {
	// UploadSession operations
	CreateUploadSession(session *model.UploadSession) error
	GetUploadSession(sessionID string) (*model.UploadSession, error)
	UpdateUploadSession(session *model.UploadSession) error
	DeleteUploadSession(sessionID string) error
	ListExpiredUploadSessions(before time.Time, limit int) ([]*model.UploadSession, error)
	CountUploadSessionsByHash(fileHash string) (int64, error)

	// UploadChunk operations, one slot per (fileHash, chunkIndex)
	SaveUploadChunk(chunk *model.UploadChunk) error
	GetUploadChunk(fileHash string, chunkIndex int) (*model.UploadChunk, error)
	ListUploadChunks(fileHash string) ([]*model.UploadChunk, error) // ordered by chunk index
	DeleteUploadChunks(fileHash string) error

	// UploadArtifact operations
	CreateUploadArtifact(artifact *model.UploadArtifact) error
	GetUploadArtifactByHash(fileHash string) (*model.UploadArtifact, error)

	// PackagingJob operations
	CreatePackagingJob(job *model.PackagingJob) error
	GetPackagingJob(jobID string) (*model.PackagingJob, error)
	UpdatePackagingJob(job *model.PackagingJob) error
	DeletePackagingJob(jobID string) error // also removes the job's tasks
	ListPackagingJobsWithCursor(cursor int64, size int) ([]*model.PackagingJob, int64, error)
	ListPackagingJobsByStatus(status model.JobStatus, limit int) ([]*model.PackagingJob, error)

	// PlatformTask operations
	CreatePlatformTask(task *model.PlatformTask) error
	GetPlatformTask(taskID string) (*model.PlatformTask, error)
	UpdatePlatformTask(task *model.PlatformTask) error
	ListPlatformTasks(jobID string) ([]*model.PlatformTask, error) // ordered by creation

	// General operations
	Close() error
}

// DBType database type
type DBType string

const (
	DBTypeMemory DBType = "memory"
	DBTypeMySQL  DBType = "mysql"
	DBTypePebble DBType = "pebble"
)

// Global database instance
var DB Database

// currentDBType stores the current database type
var currentDBType DBType

// NewDatabase create a database of the given type
func NewDatabase(dbType DBType, config interface{}) (Database, error) {
	switch dbType {
	case DBTypeMemory:
		return NewMemoryDatabase(), nil
	case DBTypeMySQL:
		return NewMySQLDatabase(config)
	case DBTypePebble:
		return NewPebbleDatabase(config)
	default:
		return nil, ErrUnsupportedDBType
	}
}

// InitDatabase initialize the global database with specified type
func InitDatabase(dbType DBType, config interface{}) error {
	db, err := NewDatabase(dbType, config)
	if err != nil {
		return err
	}
	DB = db
	currentDBType = dbType
	return nil
}

// GetDBType get current database type
func GetDBType() DBType {
	return currentDBType
}
