package dao

import (
	"errors"

	"bundle-packager/database"
	"bundle-packager/model"
)

// UploadChunkDAO chunk slot data access object
type UploadChunkDAO struct {
	db database.Database
}

// NewUploadChunkDAO create chunk DAO instance, nil db falls back to database.DB
func NewUploadChunkDAO(db database.Database) *UploadChunkDAO {
	if db == nil {
		db = database.DB
	}
	return &UploadChunkDAO{db: db}
}

// Save upsert chunk slot by (fileHash, chunkIndex)
func (dao *UploadChunkDAO) Save(chunk *model.UploadChunk) error {
	return dao.db.SaveUploadChunk(chunk)
}

// Get get chunk slot, nil when absent
func (dao *UploadChunkDAO) Get(fileHash string, chunkIndex int) (*model.UploadChunk, error) {
	chunk, err := dao.db.GetUploadChunk(fileHash, chunkIndex)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return chunk, err
}

// ListByHash list chunk slots ordered by index
func (dao *UploadChunkDAO) ListByHash(fileHash string) ([]*model.UploadChunk, error) {
	return dao.db.ListUploadChunks(fileHash)
}

// DeleteByHash delete every chunk slot record of a file hash
func (dao *UploadChunkDAO) DeleteByHash(fileHash string) error {
	return dao.db.DeleteUploadChunks(fileHash)
}
