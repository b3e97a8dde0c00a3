package upload_service

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrIncompleteUpload = errors.New("upload incomplete")
	ErrHashMismatch     = errors.New("file hash mismatch")
	ErrInvalidChunk     = errors.New("invalid chunk")
	ErrInvalidRequest   = errors.New("invalid upload request")
)

// IncompleteUploadError lists the chunk indices finalize is still waiting for
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("%s: %d chunk(s) missing", ErrIncompleteUpload, len(e.Missing))
}

// Is makes errors.Is(err, ErrIncompleteUpload) hold
func (e *IncompleteUploadError) Is(target error) bool {
	return target == ErrIncompleteUpload
}
