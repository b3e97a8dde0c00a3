package dao

import (
	"errors"

	"bundle-packager/database"
	"bundle-packager/model"
)

const jobCacheKeyPrefix = "packager:job:"

// PackagingJobDAO packaging job data access object, reads go through the Redis cache when enabled
type PackagingJobDAO struct {
	db database.Database
}

// NewPackagingJobDAO create job DAO instance, nil db falls back to database.DB
func NewPackagingJobDAO(db database.Database) *PackagingJobDAO {
	if db == nil {
		db = database.DB
	}
	return &PackagingJobDAO{db: db}
}

func jobCacheKey(jobID string) string {
	return jobCacheKeyPrefix + jobID
}

// Create create job record
func (dao *PackagingJobDAO) Create(job *model.PackagingJob) error {
	return dao.db.CreatePackagingJob(job)
}

// GetByJobID get job by job ID, nil when absent
func (dao *PackagingJobDAO) GetByJobID(jobID string) (*model.PackagingJob, error) {
	var cached model.PackagingJob
	if err := database.GetCache(jobCacheKey(jobID), &cached); err == nil {
		return &cached, nil
	}

	job, err := dao.db.GetPackagingJob(jobID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// terminal jobs no longer change, cache them
	if job.Status.IsTerminal() {
		_ = database.SetCache(jobCacheKey(jobID), job)
	}
	return job, nil
}

// Update update job record
func (dao *PackagingJobDAO) Update(job *model.PackagingJob) error {
	if err := dao.db.UpdatePackagingJob(job); err != nil {
		return err
	}
	_ = database.DeleteCache(jobCacheKey(job.JobId))
	return nil
}

// Delete delete job and its tasks
func (dao *PackagingJobDAO) Delete(jobID string) error {
	if err := dao.db.DeletePackagingJob(jobID); err != nil {
		return err
	}
	_ = database.DeleteCache(jobCacheKey(jobID))
	return nil
}

// ListWithCursor get job list with cursor pagination, newest first
// cursor: number of records to skip (0 for first page)
// size: page size
// Returns: jobs, nextCursor, error
func (dao *PackagingJobDAO) ListWithCursor(cursor int64, size int) ([]*model.PackagingJob, int64, error) {
	return dao.db.ListPackagingJobsWithCursor(cursor, size)
}

// ListByStatus list jobs in the given status
func (dao *PackagingJobDAO) ListByStatus(status model.JobStatus, limit int) ([]*model.PackagingJob, error) {
	return dao.db.ListPackagingJobsByStatus(status, limit)
}
