package upload_service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"bundle-packager/conf"
	"bundle-packager/database"
	"bundle-packager/logger"
	"bundle-packager/model"
	"bundle-packager/model/dao"
	"bundle-packager/storage"
)

const maxHashLength = 128

// UploadService resumable chunked upload service
type UploadService struct {
	sessionDAO  *dao.UploadSessionDAO
	chunkDAO    *dao.UploadChunkDAO
	artifactDAO *dao.UploadArtifactDAO
	storage     storage.Storage
	cfg         conf.UploaderConfig
	hashLocks   *keyedMutex
	now         func() time.Time
}

// NewUploadService create upload service instance
func NewUploadService(db database.Database, store storage.Storage, cfg conf.UploaderConfig) *UploadService {
	return &UploadService{
		sessionDAO:  dao.NewUploadSessionDAO(db),
		chunkDAO:    dao.NewUploadChunkDAO(db),
		artifactDAO: dao.NewUploadArtifactDAO(db),
		storage:     store,
		cfg:         cfg,
		hashLocks:   newKeyedMutex(),
		now:         time.Now,
	}
}

// StartSessionRequest start session request
type StartSessionRequest struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"size"`
	FileHash    string `json:"hash"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

// StartSessionResult start session result
type StartSessionResult struct {
	SessionId       string `json:"sessionId"`
	AlreadyComplete bool   `json:"alreadyComplete"`
	UploadedChunks  int    `json:"uploadedChunks"`
	ReceivedChunks  []int  `json:"receivedChunks"`
	ChunkSize       int64  `json:"chunkSize"`
	TotalChunks     int    `json:"totalChunks"`
}

// UploadChunkRequest one chunk of a session
type UploadChunkRequest struct {
	SessionId   string
	ChunkIndex  int
	TotalChunks int    // optional, must match the session when set
	FileHash    string // optional, must match the session when set
	Data        []byte
}

// ChunkAck chunk acknowledgement
type ChunkAck struct {
	SessionId   string `json:"sessionId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Received    int    `json:"received"`
	TotalChunks int    `json:"totalChunks"`
	Duplicate   bool   `json:"duplicate"`
}

// FinalizeResult finalize result
type FinalizeResult struct {
	Success    bool   `json:"success"`
	SessionId  string `json:"sessionId"`
	FileHash   string `json:"fileHash"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	StorageKey string `json:"storageKey"`
}

func chunkPrefix(fileHash string) string {
	return "chunks/" + fileHash
}

func chunkKey(fileHash string, index int) string {
	return fmt.Sprintf("chunks/%s/%d", fileHash, index)
}

func artifactKey(fileHash, fileName string) string {
	return fmt.Sprintf("artifacts/%s/%s", fileHash, path.Base("/"+fileName))
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (s *UploadService) sessionTTL() time.Duration {
	if s.cfg.SessionTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.cfg.SessionTTLHours) * time.Hour
}

// StartSession opens an upload session, or reports the bundle as already stored
func (s *UploadService) StartSession(ctx context.Context, req *StartSessionRequest) (*StartSessionResult, error) {
	fileHash := strings.ToLower(strings.TrimSpace(req.FileHash))
	switch {
	case strings.TrimSpace(req.FileName) == "":
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	case req.FileSize <= 0:
		return nil, fmt.Errorf("%w: file size must be positive", ErrInvalidRequest)
	case s.cfg.MaxFileSize > 0 && req.FileSize > s.cfg.MaxFileSize*1024*1024:
		return nil, fmt.Errorf("%w: file size exceeds %d MB", ErrInvalidRequest, s.cfg.MaxFileSize)
	case fileHash == "" || len(fileHash) > maxHashLength || !isHex(fileHash):
		return nil, fmt.Errorf("%w: file hash must be a hex digest", ErrInvalidRequest)
	case req.ChunkSize < 0 || req.TotalChunks < 0:
		return nil, fmt.Errorf("%w: chunk size and total chunks must not be negative", ErrInvalidRequest)
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = 5 * 1024 * 1024
	}
	if s.cfg.MaxChunkSize > 0 && chunkSize > s.cfg.MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk size exceeds %d bytes", ErrInvalidRequest, s.cfg.MaxChunkSize)
	}
	totalChunks := int((req.FileSize + chunkSize - 1) / chunkSize)
	if req.TotalChunks != 0 && req.TotalChunks != totalChunks {
		return nil, fmt.Errorf("%w: totalChunks %d does not match size %d with chunk size %d",
			ErrInvalidRequest, req.TotalChunks, req.FileSize, chunkSize)
	}

	now := s.now()
	session := &model.UploadSession{
		SessionId:   uuid.NewString(),
		FileName:    path.Base("/" + req.FileName),
		FileSize:    req.FileSize,
		FileHash:    fileHash,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Status:      model.UploadSessionStatusPending,
		ExpiresAt:   now.Add(s.sessionTTL()),
	}

	artifact, err := s.artifactDAO.GetByHash(fileHash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up artifact: %w", err)
	}
	if artifact != nil {
		session.Status = model.UploadSessionStatusCompleted
		if err := s.sessionDAO.Create(session); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		logger.InfoKV(ctx, "Upload already complete", "sessionId", session.SessionId, "fileHash", fileHash)
		return &StartSessionResult{
			SessionId:       session.SessionId,
			AlreadyComplete: true,
			UploadedChunks:  totalChunks,
			ReceivedChunks:  allIndices(totalChunks),
			ChunkSize:       chunkSize,
			TotalChunks:     totalChunks,
		}, nil
	}

	received, err := s.receivedIndices(session)
	if err != nil {
		return nil, err
	}
	if len(received) > 0 {
		session.Status = model.UploadSessionStatusUploading
	}
	if err := s.sessionDAO.Create(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.InfoKV(ctx, "Upload session started",
		"sessionId", session.SessionId, "fileName", session.FileName,
		"fileSize", session.FileSize, "totalChunks", totalChunks, "resumed", len(received))

	return &StartSessionResult{
		SessionId:       session.SessionId,
		AlreadyComplete: false,
		UploadedChunks:  len(received),
		ReceivedChunks:  received,
		ChunkSize:       chunkSize,
		TotalChunks:     totalChunks,
	}, nil
}

// receivedIndices lists stored slots usable by a session with this layout
func (s *UploadService) receivedIndices(session *model.UploadSession) ([]int, error) {
	chunks, err := s.chunkDAO.ListByHash(session.FileHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	received := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if slotFits(session, c) {
			received = append(received, c.ChunkIndex)
		}
	}
	return received, nil
}

// slotFits reports whether a stored slot has exactly the byte range session expects at its index.
// Slots written under another chunk size are not reusable, index 0 included.
func slotFits(session *model.UploadSession, c *model.UploadChunk) bool {
	return c.ChunkIndex >= 0 && c.ChunkIndex < session.TotalChunks &&
		c.Offset == int64(c.ChunkIndex)*session.ChunkSize &&
		c.Size == expectedChunkSize(session, c.ChunkIndex)
}

// liveSession loads a session that has not expired
func (s *UploadService) liveSession(sessionID string) (*model.UploadSession, error) {
	session, err := s.sessionDAO.GetBySessionID(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil || session.IsExpired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func expectedChunkSize(session *model.UploadSession, index int) int64 {
	if index < session.TotalChunks-1 {
		return session.ChunkSize
	}
	return session.FileSize - session.ChunkSize*int64(session.TotalChunks-1)
}

// UploadChunk stores one chunk slot, re-sending identical bytes is a no-op
func (s *UploadService) UploadChunk(ctx context.Context, req *UploadChunkRequest) (*ChunkAck, error) {
	session, err := s.liveSession(req.SessionId)
	if err != nil {
		return nil, err
	}

	ack := &ChunkAck{
		SessionId:   session.SessionId,
		ChunkIndex:  req.ChunkIndex,
		TotalChunks: session.TotalChunks,
	}

	if req.TotalChunks != 0 && req.TotalChunks != session.TotalChunks {
		return nil, fmt.Errorf("%w: totalChunks %d, session expects %d", ErrInvalidChunk, req.TotalChunks, session.TotalChunks)
	}
	if req.FileHash != "" && strings.ToLower(req.FileHash) != session.FileHash {
		return nil, fmt.Errorf("%w: file hash does not match session", ErrInvalidChunk)
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= session.TotalChunks {
		return nil, fmt.Errorf("%w: chunk index %d out of range [0,%d)", ErrInvalidChunk, req.ChunkIndex, session.TotalChunks)
	}
	if want := expectedChunkSize(session, req.ChunkIndex); int64(len(req.Data)) != want {
		return nil, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrInvalidChunk, req.ChunkIndex, len(req.Data), want)
	}

	if session.Status == model.UploadSessionStatusCompleted {
		ack.Received = session.TotalChunks
		ack.Duplicate = true
		return ack, nil
	}

	sum := sha256.Sum256(req.Data)
	chunkHash := hex.EncodeToString(sum[:])
	key := chunkKey(session.FileHash, req.ChunkIndex)

	existing, err := s.chunkDAO.Get(session.FileHash, req.ChunkIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	if existing != nil && slotFits(session, existing) && existing.ChunkHash == chunkHash && s.storage.Exists(key) {
		ack.Duplicate = true
	} else {
		if err := s.storage.Save(key, req.Data); err != nil {
			return nil, fmt.Errorf("failed to store chunk: %w", err)
		}
		chunk := &model.UploadChunk{
			FileHash:   session.FileHash,
			ChunkIndex: req.ChunkIndex,
			Offset:     int64(req.ChunkIndex) * session.ChunkSize,
			Size:       int64(len(req.Data)),
			ChunkHash:  chunkHash,
			StorageKey: key,
		}
		if err := s.chunkDAO.Save(chunk); err != nil {
			return nil, fmt.Errorf("failed to save chunk record: %w", err)
		}
	}

	if session.Status != model.UploadSessionStatusUploading {
		session.Status = model.UploadSessionStatusUploading
		session.ErrorMessage = ""
		if err := s.sessionDAO.Update(session); err != nil {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
	}

	received, err := s.receivedIndices(session)
	if err != nil {
		return nil, err
	}
	ack.Received = len(received)

	logger.DebugKV(ctx, "Chunk received",
		"sessionId", session.SessionId, "chunkIndex", req.ChunkIndex,
		"received", ack.Received, "total", session.TotalChunks, "duplicate", ack.Duplicate)
	return ack, nil
}

// Finalize reassembles the chunks and verifies the declared hash.
// A failed finalize leaves the session and its chunks in place.
func (s *UploadService) Finalize(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	session, err := s.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.hashLocks.Lock(session.FileHash)
	defer unlock()

	// reload under the hash lock, a concurrent finalize may have completed it
	if session, err = s.liveSession(sessionID); err != nil {
		return nil, err
	}

	artifact, err := s.artifactDAO.GetByHash(session.FileHash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up artifact: %w", err)
	}
	if artifact != nil {
		if session.Status != model.UploadSessionStatusCompleted {
			if err := s.completeSession(session); err != nil {
				return nil, err
			}
		}
		return finalizeResult(session, artifact), nil
	}

	chunks, err := s.chunkDAO.ListByHash(session.FileHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	ordered := make([]*model.UploadChunk, session.TotalChunks)
	for _, c := range chunks {
		if slotFits(session, c) {
			ordered[c.ChunkIndex] = c
		}
	}
	var missing []int
	for i, c := range ordered {
		if c == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		incomplete := &IncompleteUploadError{Missing: missing}
		s.markFailed(ctx, session, incomplete.Error())
		return nil, incomplete
	}

	key := artifactKey(session.FileHash, session.FileName)
	digest, err := s.assemble(key, ordered)
	if err != nil {
		_ = s.storage.Delete(key)
		s.markFailed(ctx, session, err.Error())
		return nil, fmt.Errorf("failed to assemble file: %w", err)
	}
	if digest != session.FileHash {
		_ = s.storage.Delete(key)
		s.markFailed(ctx, session, "hash mismatch")
		logger.WarnKV(ctx, "Finalize hash mismatch", "sessionId", session.SessionId, "expected", session.FileHash, "actual", digest)
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, session.FileHash, digest)
	}

	artifact = &model.UploadArtifact{
		FileHash:   session.FileHash,
		FileName:   session.FileName,
		FileSize:   session.FileSize,
		StorageKey: key,
	}
	if err := s.artifactDAO.Create(artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}
	if err := s.completeSession(session); err != nil {
		return nil, err
	}

	if err := s.chunkDAO.DeleteByHash(session.FileHash); err != nil {
		logger.WarnKV(ctx, "Failed to delete chunk records", "fileHash", session.FileHash, "error", err)
	}
	if err := s.storage.DeletePrefix(chunkPrefix(session.FileHash)); err != nil {
		logger.WarnKV(ctx, "Failed to delete chunk slots", "fileHash", session.FileHash, "error", err)
	}

	logger.InfoKV(ctx, "Upload finalized", "sessionId", session.SessionId, "fileHash", session.FileHash, "storageKey", key)
	return finalizeResult(session, artifact), nil
}

// assemble streams the chunks in index order into key and returns the sha256 of what was written
func (s *UploadService) assemble(key string, chunks []*model.UploadChunk) (string, error) {
	pr, pw := io.Pipe()
	h := sha256.New()
	done := make(chan error, 1)

	go func() {
		err := s.copyChunks(io.MultiWriter(pw, h), chunks)
		pw.CloseWithError(err)
		done <- err
	}()

	saveErr := s.storage.SaveStream(key, pr)
	// unblock the writer if the store stopped reading early
	pr.Close()
	copyErr := <-done

	if copyErr != nil {
		return "", copyErr
	}
	if saveErr != nil {
		return "", saveErr
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *UploadService) copyChunks(w io.Writer, chunks []*model.UploadChunk) error {
	for _, c := range chunks {
		rc, err := s.storage.Open(c.StorageKey)
		if err != nil {
			return fmt.Errorf("failed to open chunk %d: %w", c.ChunkIndex, err)
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to copy chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return nil
}

func (s *UploadService) completeSession(session *model.UploadSession) error {
	session.Status = model.UploadSessionStatusCompleted
	session.ErrorMessage = ""
	if err := s.sessionDAO.Update(session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *UploadService) markFailed(ctx context.Context, session *model.UploadSession, msg string) {
	session.Status = model.UploadSessionStatusFailed
	session.ErrorMessage = msg
	if err := s.sessionDAO.Update(session); err != nil {
		logger.WarnKV(ctx, "Failed to update session", "sessionId", session.SessionId, "error", err)
	}
}

func finalizeResult(session *model.UploadSession, artifact *model.UploadArtifact) *FinalizeResult {
	return &FinalizeResult{
		Success:    true,
		SessionId:  session.SessionId,
		FileHash:   artifact.FileHash,
		FileName:   artifact.FileName,
		FileSize:   artifact.FileSize,
		StorageKey: artifact.StorageKey,
	}
}

func allIndices(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// GetSession returns the session with its received chunk indices
func (s *UploadService) GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	session, err := s.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == model.UploadSessionStatusCompleted {
		session.ReceivedChunks = allIndices(session.TotalChunks)
		return session, nil
	}
	received, err := s.receivedIndices(session)
	if err != nil {
		return nil, err
	}
	session.ReceivedChunks = received
	return session, nil
}

// AbandonSession expires the session immediately. Its chunk slots stay until the
// cleanup sweep so a new session for the same hash can still resume from them.
func (s *UploadService) AbandonSession(ctx context.Context, sessionID string) error {
	session, err := s.liveSession(sessionID)
	if err != nil {
		return err
	}

	session.Status = model.UploadSessionStatusFailed
	session.ErrorMessage = "abandoned"
	session.ExpiresAt = s.now()
	if err := s.sessionDAO.Update(session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	logger.InfoKV(ctx, "Upload session abandoned", "sessionId", sessionID)
	return nil
}

// OpenArtifact opens the finalized bundle of a completed session
func (s *UploadService) OpenArtifact(ctx context.Context, sessionID string) (io.ReadCloser, *model.UploadArtifact, error) {
	session, err := s.liveSession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != model.UploadSessionStatusCompleted {
		return nil, nil, fmt.Errorf("%w: session %s is %s", ErrIncompleteUpload, sessionID, session.Status)
	}
	return s.OpenArtifactByHash(ctx, session.FileHash)
}

// OpenArtifactByHash opens a finalized bundle by content hash
func (s *UploadService) OpenArtifactByHash(ctx context.Context, fileHash string) (io.ReadCloser, *model.UploadArtifact, error) {
	artifact, err := s.artifactDAO.GetByHash(fileHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up artifact: %w", err)
	}
	if artifact == nil {
		return nil, nil, fmt.Errorf("%w: no artifact for hash %s", ErrSessionNotFound, fileHash)
	}

	rc, err := s.storage.Open(artifact.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return rc, artifact, nil
}

// CleanupExpiredSessions removes sessions that expired before the given time, and
// the chunk slots of hashes no remaining session refers to. Returns the number of sessions removed.
func (s *UploadService) CleanupExpiredSessions(ctx context.Context, before time.Time, limit int) (int, error) {
	sessions, err := s.sessionDAO.ListExpired(before, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	cleaned := 0
	for _, session := range sessions {
		if err := s.cleanupSession(ctx, session); err != nil {
			logger.WarnKV(ctx, "Failed to clean up session", "sessionId", session.SessionId, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func (s *UploadService) cleanupSession(ctx context.Context, session *model.UploadSession) error {
	unlock := s.hashLocks.Lock(session.FileHash)
	defer unlock()

	if err := s.sessionDAO.Delete(session.SessionId); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	remaining, err := s.sessionDAO.CountByHash(session.FileHash)
	if err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	if err := s.chunkDAO.DeleteByHash(session.FileHash); err != nil {
		return fmt.Errorf("failed to delete chunk records: %w", err)
	}
	if err := s.storage.DeletePrefix(chunkPrefix(session.FileHash)); err != nil {
		return fmt.Errorf("failed to delete chunk slots: %w", err)
	}
	logger.DebugKV(ctx, "Expired session cleaned", "sessionId", session.SessionId, "fileHash", session.FileHash)
	return nil
}
