package database

import (
	"errors"
	"fmt"
	"time"

	"bundle-packager/logger"
	"bundle-packager/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// MySQLDatabase MySQL database implementation
type MySQLDatabase struct {
	db *gorm.DB
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// NewMySQLDatabase create MySQL database instance
func NewMySQLDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*MySQLConfig)
	if !ok {
		return nil, fmt.Errorf("invalid MySQL config type")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect MySQL: %w", err)
	}

	return newMySQLDatabaseFromGorm(db, cfg)
}

func newMySQLDatabaseFromGorm(db *gorm.DB, cfg *MySQLConfig) (*MySQLDatabase, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg != nil {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.UploadSession{},
		&model.UploadChunk{},
		&model.UploadArtifact{},
		&model.PackagingJob{},
		&model.PlatformTask{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	logger.Logger().Info("MySQL database connected successfully")

	return &MySQLDatabase{db: db}, nil
}

// GetGormDB get GORM database instance
func (m *MySQLDatabase) GetGormDB() *gorm.DB {
	return m.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// UploadSession operations

func (m *MySQLDatabase) CreateUploadSession(session *model.UploadSession) error {
	return m.db.Create(session).Error
}

func (m *MySQLDatabase) GetUploadSession(sessionID string) (*model.UploadSession, error) {
	var session model.UploadSession
	err := m.db.Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (m *MySQLDatabase) UpdateUploadSession(session *model.UploadSession) error {
	return m.db.Save(session).Error
}

func (m *MySQLDatabase) DeleteUploadSession(sessionID string) error {
	return m.db.Where("session_id = ?", sessionID).Delete(&model.UploadSession{}).Error
}

func (m *MySQLDatabase) ListExpiredUploadSessions(before time.Time, limit int) ([]*model.UploadSession, error) {
	var sessions []*model.UploadSession
	err := m.db.Where("expires_at < ?", before).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (m *MySQLDatabase) CountUploadSessionsByHash(fileHash string) (int64, error) {
	var count int64
	err := m.db.Model(&model.UploadSession{}).Where("file_hash = ?", fileHash).Count(&count).Error
	return count, err
}

// UploadChunk operations

func (m *MySQLDatabase) SaveUploadChunk(chunk *model.UploadChunk) error {
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_hash"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"offset", "size", "chunk_hash", "storage_key", "updated_at"}),
	}).Create(chunk).Error
}

func (m *MySQLDatabase) GetUploadChunk(fileHash string, chunkIndex int) (*model.UploadChunk, error) {
	var chunk model.UploadChunk
	err := m.db.Where("file_hash = ? AND chunk_index = ?", fileHash, chunkIndex).First(&chunk).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &chunk, nil
}

func (m *MySQLDatabase) ListUploadChunks(fileHash string) ([]*model.UploadChunk, error) {
	var chunks []*model.UploadChunk
	err := m.db.Where("file_hash = ?", fileHash).Order("chunk_index ASC").Find(&chunks).Error
	return chunks, err
}

func (m *MySQLDatabase) DeleteUploadChunks(fileHash string) error {
	return m.db.Where("file_hash = ?", fileHash).Delete(&model.UploadChunk{}).Error
}

// UploadArtifact operations

func (m *MySQLDatabase) CreateUploadArtifact(artifact *model.UploadArtifact) error {
	err := m.db.Create(artifact).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (m *MySQLDatabase) GetUploadArtifactByHash(fileHash string) (*model.UploadArtifact, error) {
	var artifact model.UploadArtifact
	err := m.db.Where("file_hash = ?", fileHash).First(&artifact).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &artifact, nil
}

// PackagingJob operations

func (m *MySQLDatabase) CreatePackagingJob(job *model.PackagingJob) error {
	return m.db.Create(job).Error
}

func (m *MySQLDatabase) GetPackagingJob(jobID string) (*model.PackagingJob, error) {
	var job model.PackagingJob
	err := m.db.Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (m *MySQLDatabase) UpdatePackagingJob(job *model.PackagingJob) error {
	return m.db.Save(job).Error
}

func (m *MySQLDatabase) DeletePackagingJob(jobID string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&model.PlatformTask{}).Error; err != nil {
			return err
		}
		return tx.Where("job_id = ?", jobID).Delete(&model.PackagingJob{}).Error
	})
}

func (m *MySQLDatabase) ListPackagingJobsWithCursor(cursor int64, size int) ([]*model.PackagingJob, int64, error) {
	var jobs []*model.PackagingJob
	err := m.db.Order("id DESC").Offset(int(cursor)).Limit(size).Find(&jobs).Error
	if err != nil {
		return nil, cursor, err
	}
	return jobs, cursor + int64(len(jobs)), nil
}

func (m *MySQLDatabase) ListPackagingJobsByStatus(status model.JobStatus, limit int) ([]*model.PackagingJob, error) {
	var jobs []*model.PackagingJob
	err := m.db.Where("status = ?", status).Order("id ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// PlatformTask operations

func (m *MySQLDatabase) CreatePlatformTask(task *model.PlatformTask) error {
	return m.db.Create(task).Error
}

func (m *MySQLDatabase) GetPlatformTask(taskID string) (*model.PlatformTask, error) {
	var task model.PlatformTask
	err := m.db.Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (m *MySQLDatabase) UpdatePlatformTask(task *model.PlatformTask) error {
	return m.db.Save(task).Error
}

func (m *MySQLDatabase) ListPlatformTasks(jobID string) ([]*model.PlatformTask, error) {
	var tasks []*model.PlatformTask
	err := m.db.Where("job_id = ?", jobID).Order("id ASC").Find(&tasks).Error
	return tasks, err
}

// Close close database connection
func (m *MySQLDatabase) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
