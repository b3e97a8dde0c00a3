package model

import "time"

// UploadSessionStatus upload session status
type UploadSessionStatus string

const (
	UploadSessionStatusPending   UploadSessionStatus = "pending"   // Session created, no chunk yet
	UploadSessionStatusUploading UploadSessionStatus = "uploading" // Chunks arriving
	UploadSessionStatusCompleted UploadSessionStatus = "completed" // Finalized and verified
	UploadSessionStatusFailed    UploadSessionStatus = "failed"    // Last finalize attempt failed, still resumable
)

// UploadSession represents a resumable chunked upload of one bundle
type UploadSession struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	SessionId string `gorm:"uniqueIndex;type:varchar(64)" json:"session_id"` // UUID

	// Declared file information
	FileName    string `gorm:"type:varchar(255)" json:"file_name"`
	FileSize    int64  `json:"file_size"`
	FileHash    string `gorm:"index;type:varchar(128)" json:"file_hash"` // sha256 hex, lower-case
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `gorm:"type:int" json:"total_chunks"`

	Status       UploadSessionStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`
	ErrorMessage string              `gorm:"type:text" json:"error_message"`

	// Received chunk indices, derived from chunk records
	ReceivedChunks []int `gorm:"-" json:"received_chunks,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// TableName sets custom table name
func (UploadSession) TableName() string {
	return "tb_upload_session"
}

// IsExpired reports whether the session outlived its TTL at now
func (s *UploadSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// UploadChunk is one received chunk slot, keyed by (FileHash, ChunkIndex)
type UploadChunk struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	FileHash   string `gorm:"uniqueIndex:idx_chunk_slot;type:varchar(128)" json:"file_hash"`
	ChunkIndex int    `gorm:"uniqueIndex:idx_chunk_slot;type:int" json:"chunk_index"`
	Offset     int64  `json:"offset"`
	Size       int64  `json:"size"`
	ChunkHash  string `gorm:"type:varchar(64)" json:"chunk_hash"` // sha256 of payload
	StorageKey string `gorm:"type:varchar(500)" json:"storage_key"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName sets custom table name
func (UploadChunk) TableName() string {
	return "tb_upload_chunk"
}

// UploadArtifact is a reassembled, hash-verified bundle
type UploadArtifact struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	FileHash   string `gorm:"uniqueIndex;type:varchar(128)" json:"file_hash"`
	FileName   string `gorm:"type:varchar(255)" json:"file_name"`
	FileSize   int64  `json:"file_size"`
	StorageKey string `gorm:"type:varchar(500)" json:"storage_key"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName sets custom table name
func (UploadArtifact) TableName() string {
	return "tb_upload_artifact"
}
