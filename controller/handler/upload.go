package handler

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bundle-packager/controller/respond"
	"bundle-packager/service/upload_service"
)

// defaultMaxChunkBytes upper bound of one chunk body when no chunk size is configured
const defaultMaxChunkBytes = 64 << 20

// UploadHandler upload handler
type UploadHandler struct {
	uploadService *upload_service.UploadService
	maxChunkBytes int64
}

// NewUploadHandler create upload handler instance. maxChunkBytes bounds a single chunk body.
func NewUploadHandler(uploadService *upload_service.UploadService, maxChunkBytes int64) *UploadHandler {
	if maxChunkBytes <= 0 {
		maxChunkBytes = defaultMaxChunkBytes
	}
	return &UploadHandler{
		uploadService: uploadService,
		maxChunkBytes: maxChunkBytes,
	}
}

// gzipBody replaces the request body with its decompressed form when the
// client sent Content-Encoding: gzip
func gzipBody(c *gin.Context, limit int64) error {
	encoding := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
	if !strings.Contains(encoding, "gzip") {
		return nil
	}
	defer c.Request.Body.Close()

	gzipReader, err := gzip.NewReader(c.Request.Body)
	if err != nil {
		return err
	}
	defer gzipReader.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(gzipReader, limit+1))
	if err != nil {
		return err
	}
	if int64(len(bodyBytes)) > limit {
		return errors.New("request body too large")
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	c.Request.ContentLength = int64(len(bodyBytes))
	c.Request.Header.Del("Content-Encoding")
	return nil
}

// bindJSONWithOptionalGzip handles JSON payloads that may be gzip-compressed
func bindJSONWithOptionalGzip(c *gin.Context, obj interface{}) error {
	if err := gzipBody(c, 1<<20); err != nil {
		return err
	}
	return c.ShouldBindJSON(obj)
}

// StartUploadRequest start upload request
type StartUploadRequest struct {
	FileName    string `json:"fileName" binding:"required" example:"build.zip"`
	FileSize    int64  `json:"size" binding:"required" example:"1048576"`
	FileHash    string `json:"hash" binding:"required" example:"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"`
	ChunkSize   int64  `json:"chunkSize" example:"5242880"`
	TotalChunks int    `json:"totalChunks" example:"1"`
}

// StartUpload opens an upload session, or reports the bundle as already stored.
// POST /api/v1/upload/start
func (h *UploadHandler) StartUpload(c *gin.Context) {
	var req StartUploadRequest
	if err := bindJSONWithOptionalGzip(c, &req); err != nil {
		respond.InvalidParam(c, err.Error())
		return
	}

	resp, err := h.uploadService.StartSession(c.Request.Context(), &upload_service.StartSessionRequest{
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		FileHash:    req.FileHash,
		ChunkSize:   req.ChunkSize,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		uploadError(c, err)
		return
	}

	respond.Success(c, resp)
}

// UploadChunk stores one chunk. The body is the raw chunk payload.
// POST /api/v1/upload/chunk?sessionId=&chunkIndex=&totalChunks=&fileHash=
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if strings.TrimSpace(sessionID) == "" {
		respond.InvalidParam(c, "sessionId is required")
		return
	}

	chunkIndex, err := strconv.Atoi(c.Query("chunkIndex"))
	if err != nil {
		respond.InvalidParam(c, "invalid chunkIndex")
		return
	}

	totalChunks := 0
	if s := c.Query("totalChunks"); s != "" {
		totalChunks, err = strconv.Atoi(s)
		if err != nil {
			respond.InvalidParam(c, "invalid totalChunks")
			return
		}
	}

	if err := gzipBody(c, h.maxChunkBytes); err != nil {
		respond.InvalidParam(c, "invalid chunk body: "+err.Error())
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxChunkBytes+1))
	if err != nil {
		respond.InvalidParam(c, "failed to read chunk: "+err.Error())
		return
	}
	if int64(len(data)) > h.maxChunkBytes {
		respond.InvalidParam(c, "chunk too large")
		return
	}

	ack, err := h.uploadService.UploadChunk(c.Request.Context(), &upload_service.UploadChunkRequest{
		SessionId:   sessionID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		FileHash:    c.Query("fileHash"),
		Data:        data,
	})
	if err != nil {
		uploadError(c, err)
		return
	}

	respond.Success(c, ack)
}

// FinalizeUploadRequest finalize request
type FinalizeUploadRequest struct {
	SessionId string `json:"sessionId" binding:"required"`
}

// FinalizeUpload assembles the chunks and verifies the whole-file hash.
// POST /api/v1/upload/finalize
func (h *UploadHandler) FinalizeUpload(c *gin.Context) {
	var req FinalizeUploadRequest
	if err := bindJSONWithOptionalGzip(c, &req); err != nil {
		respond.InvalidParam(c, err.Error())
		return
	}

	resp, err := h.uploadService.Finalize(c.Request.Context(), req.SessionId)
	if err != nil {
		uploadError(c, err)
		return
	}

	respond.Success(c, resp)
}

// GetUpload session status with received chunk indices.
// GET /api/v1/upload/:sessionId
func (h *UploadHandler) GetUpload(c *gin.Context) {
	session, err := h.uploadService.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		uploadError(c, err)
		return
	}
	respond.Success(c, respond.ToUploadSession(session))
}

// AbandonUpload DELETE /api/v1/upload/:sessionId
func (h *UploadHandler) AbandonUpload(c *gin.Context) {
	if err := h.uploadService.AbandonSession(c.Request.Context(), c.Param("sessionId")); err != nil {
		uploadError(c, err)
		return
	}
	respond.Success(c, gin.H{"message": "Upload abandoned"})
}

// uploadError maps upload sentinels to status codes
func uploadError(c *gin.Context, err error) {
	var incomplete *upload_service.IncompleteUploadError
	switch {
	case errors.As(err, &incomplete):
		respond.Conflict(c, err.Error(), gin.H{"missingChunks": incomplete.Missing})
	case errors.Is(err, upload_service.ErrSessionNotFound):
		respond.NotFound(c, err.Error())
	case errors.Is(err, upload_service.ErrHashMismatch):
		respond.Unprocessable(c, err.Error())
	case errors.Is(err, upload_service.ErrInvalidChunk), errors.Is(err, upload_service.ErrInvalidRequest):
		respond.InvalidParam(c, err.Error())
	default:
		respond.ServerError(c, err.Error())
	}
}
