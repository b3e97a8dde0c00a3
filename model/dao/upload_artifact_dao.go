package dao

import (
	"errors"

	"bundle-packager/database"
	"bundle-packager/model"
)

// UploadArtifactDAO reassembled bundle data access object
type UploadArtifactDAO struct {
	db database.Database
}

// NewUploadArtifactDAO create artifact DAO instance, nil db falls back to database.DB
func NewUploadArtifactDAO(db database.Database) *UploadArtifactDAO {
	if db == nil {
		db = database.DB
	}
	return &UploadArtifactDAO{db: db}
}

// Create create artifact record, an existing record for the hash is not an error
func (dao *UploadArtifactDAO) Create(artifact *model.UploadArtifact) error {
	err := dao.db.CreateUploadArtifact(artifact)
	if errors.Is(err, database.ErrDuplicate) {
		return nil
	}
	return err
}

// GetByHash get artifact by content hash, nil when absent
func (dao *UploadArtifactDAO) GetByHash(fileHash string) (*model.UploadArtifact, error) {
	artifact, err := dao.db.GetUploadArtifactByHash(fileHash)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return artifact, err
}
