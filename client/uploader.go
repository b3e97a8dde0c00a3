package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"bundle-packager/service/upload_service"
)

// UploadOptions chunked upload tuning, zero values take the defaults
type UploadOptions struct {
	ChunkSize int64 // zero lets the server choose
	Workers   int
	Retries   int // extra attempts per chunk after the first
	Backoff   time.Duration
	// OnStart is called once the total and already-received byte counts are known
	OnStart func(total, received int64)
	// OnChunk is called after each chunk is accepted with its size
	OnChunk func(n int64)
}

func (o *UploadOptions) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 6
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
}

// UploadResult outcome of UploadFile
type UploadResult struct {
	SessionId       string
	FileHash        string
	AlreadyComplete bool
	Uploaded        int // chunks sent by this call
}

// HashFile sha256 of the file, lower-case hex
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// UploadFile sends path through a resumable session: chunks the server already
// holds are skipped, the rest go out in parallel, then the session is finalized.
func (c *Client) UploadFile(ctx context.Context, path string, opts UploadOptions) (*UploadResult, error) {
	opts.applyDefaults()

	fileHash, size, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	session, err := c.StartUpload(ctx, &upload_service.StartSessionRequest{
		FileName:  filepath.Base(path),
		FileSize:  size,
		FileHash:  fileHash,
		ChunkSize: opts.ChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start upload: %w", err)
	}
	result := &UploadResult{SessionId: session.SessionId, FileHash: fileHash}

	received := make(map[int]bool, len(session.ReceivedChunks))
	var receivedBytes int64
	for _, i := range session.ReceivedChunks {
		received[i] = true
		receivedBytes += chunkLen(size, session.ChunkSize, session.TotalChunks, i)
	}
	if opts.OnStart != nil {
		opts.OnStart(size, receivedBytes)
	}
	if session.AlreadyComplete {
		result.AlreadyComplete = true
		return result, nil
	}

	pending := make([]int, 0, session.TotalChunks-len(received))
	for i := 0; i < session.TotalChunks; i++ {
		if !received[i] {
			pending = append(pending, i)
		}
	}
	if err := c.sendChunks(ctx, path, size, fileHash, session, pending, opts); err != nil {
		return nil, err
	}
	result.Uploaded = len(pending)

	if _, err := c.FinalizeUpload(ctx, session.SessionId); err != nil {
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}
	return result, nil
}

func (c *Client) sendChunks(ctx context.Context, path string, size int64, fileHash string, session *upload_service.StartSessionResult, pending []int, opts UploadOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, index := range pending {
		g.Go(func() error {
			n := chunkLen(size, session.ChunkSize, session.TotalChunks, index)
			data := make([]byte, n)
			if _, err := f.ReadAt(data, int64(index)*session.ChunkSize); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read chunk %d: %w", index, err)
			}

			err := withRetry(gctx, opts.Retries+1, opts.Backoff, func() error {
				_, err := c.UploadChunk(gctx, session.SessionId, index, session.TotalChunks, fileHash, data)
				return err
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", index, err)
			}
			if opts.OnChunk != nil {
				opts.OnChunk(n)
			}
			return nil
		})
	}
	return g.Wait()
}

// chunkLen byte length of chunk index
func chunkLen(size, chunkSize int64, total, index int) int64 {
	if index < total-1 {
		return chunkSize
	}
	return size - chunkSize*int64(total-1)
}

// withRetry runs fn up to attempts times, doubling the backoff after each failure.
// 4xx answers are final.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff << attempt):
		}
	}
	return err
}
