package dao

import (
	"errors"
	"time"

	"bundle-packager/database"
	"bundle-packager/model"
)

// UploadSessionDAO upload session data access object
type UploadSessionDAO struct {
	db database.Database
}

// NewUploadSessionDAO create upload session DAO instance, nil db falls back to database.DB
func NewUploadSessionDAO(db database.Database) *UploadSessionDAO {
	if db == nil {
		db = database.DB
	}
	return &UploadSessionDAO{db: db}
}

// Create create upload session record
func (dao *UploadSessionDAO) Create(session *model.UploadSession) error {
	return dao.db.CreateUploadSession(session)
}

// GetBySessionID get session by session ID, nil when absent
func (dao *UploadSessionDAO) GetBySessionID(sessionID string) (*model.UploadSession, error) {
	session, err := dao.db.GetUploadSession(sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// Update update session record
func (dao *UploadSessionDAO) Update(session *model.UploadSession) error {
	return dao.db.UpdateUploadSession(session)
}

// Delete delete session record
func (dao *UploadSessionDAO) Delete(sessionID string) error {
	return dao.db.DeleteUploadSession(sessionID)
}

// ListExpired list sessions whose ExpiresAt is before the given time, oldest first
func (dao *UploadSessionDAO) ListExpired(before time.Time, limit int) ([]*model.UploadSession, error) {
	return dao.db.ListExpiredUploadSessions(before, limit)
}

// CountByHash count live sessions referencing a file hash
func (dao *UploadSessionDAO) CountByHash(fileHash string) (int64, error) {
	return dao.db.CountUploadSessionsByHash(fileHash)
}
