// Package client talks to the packager HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req"
	"github.com/tidwall/gjson"

	"bundle-packager/controller/handler"
	"bundle-packager/controller/respond"
	"bundle-packager/model"
	"bundle-packager/service/upload_service"
)

// APIError a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
	// Data is the raw "data" member of the error envelope, if any
	Data gjson.Result
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client packager API client
type Client struct {
	baseURL string
	r       *req.Req
}

// New creates a client for the server at baseURL, e.g. http://127.0.0.1:7290
func New(baseURL string, timeout time.Duration) *Client {
	r := req.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		r:       r,
	}
}

func (c *Client) url(path string, args ...interface{}) string {
	escaped := make([]interface{}, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return c.baseURL + fmt.Sprintf(path, escaped...)
}

// decode unwraps the response envelope into out
func decode(resp *req.Resp, out interface{}) error {
	body, err := resp.ToString()
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	status := resp.Response().StatusCode
	if status < 200 || status >= 300 {
		msg := gjson.Get(body, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(body)
		}
		return &APIError{StatusCode: status, Message: msg, Data: gjson.Get(body, "data")}
	}
	if out == nil {
		return nil
	}
	data := gjson.Get(body, "data")
	if !data.Exists() {
		return fmt.Errorf("response has no data: %s", body)
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StartUpload POST /upload/start
func (c *Client) StartUpload(ctx context.Context, request *upload_service.StartSessionRequest) (*upload_service.StartSessionResult, error) {
	resp, err := c.r.Post(c.url("/upload/start"), req.BodyJSON(request), ctx)
	if err != nil {
		return nil, err
	}
	var out upload_service.StartSessionResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadChunk POST /upload/chunk with the raw chunk as body
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index, total int, fileHash string, data []byte) (*upload_service.ChunkAck, error) {
	resp, err := c.r.Post(c.url("/upload/chunk"),
		req.QueryParam{
			"sessionId":   sessionID,
			"chunkIndex":  index,
			"totalChunks": total,
			"fileHash":    fileHash,
		},
		req.Header{"Content-Type": "application/octet-stream"},
		data,
		ctx,
	)
	if err != nil {
		return nil, err
	}
	var ack upload_service.ChunkAck
	if err := decode(resp, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// FinalizeUpload POST /upload/finalize. A 409 carries the missing indices in
// APIError.Data.missingChunks.
func (c *Client) FinalizeUpload(ctx context.Context, sessionID string) (*upload_service.FinalizeResult, error) {
	resp, err := c.r.Post(c.url("/upload/finalize"), req.BodyJSON(map[string]string{"sessionId": sessionID}), ctx)
	if err != nil {
		return nil, err
	}
	var out upload_service.FinalizeResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUpload GET /upload/:sessionId
func (c *Client) GetUpload(ctx context.Context, sessionID string) (*respond.UploadSessionResponse, error) {
	resp, err := c.r.Get(c.url("/upload/%s", sessionID), ctx)
	if err != nil {
		return nil, err
	}
	var out respond.UploadSessionResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Package POST /package
func (c *Client) Package(ctx context.Context, request *handler.PackageRequest) (*respond.SubmitJobResponse, error) {
	resp, err := c.r.Post(c.url("/package"), req.BodyJSON(request), ctx)
	if err != nil {
		return nil, err
	}
	var out respond.SubmitJobResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob GET /jobs/:id
func (c *Client) GetJob(ctx context.Context, jobID string) (*respond.JobResponse, error) {
	resp, err := c.r.Get(c.url("/jobs/%s", jobID), ctx)
	if err != nil {
		return nil, err
	}
	var out respond.JobResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelJob POST /jobs/:id/cancel, an empty platform cancels every active task
func (c *Client) CancelJob(ctx context.Context, jobID string, platform model.Platform) ([]model.Platform, error) {
	resp, err := c.r.Post(c.url("/jobs/%s/cancel", jobID), req.QueryParam{"platform": string(platform)}, ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Cancelled []model.Platform `json:"cancelled"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Cancelled, nil
}

// RetryJob POST /jobs/:id/retry?platform=
func (c *Client) RetryJob(ctx context.Context, jobID string, platform model.Platform) (*model.PlatformResult, error) {
	resp, err := c.r.Post(c.url("/jobs/%s/retry", jobID), req.QueryParam{"platform": string(platform)}, ctx)
	if err != nil {
		return nil, err
	}
	var out model.PlatformResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadArtifact saves the primary artifact of platform to dst
func (c *Client) DownloadArtifact(ctx context.Context, jobID string, platform model.Platform, dst string) error {
	resp, err := c.r.Get(c.url("/jobs/%s/artifacts/%s", jobID, platform), ctx)
	if err != nil {
		return err
	}
	if resp.Response().StatusCode != http.StatusOK {
		return decode(resp, nil)
	}
	return resp.ToFile(dst)
}

// WaitJob polls until the job reaches a terminal state
func (c *Client) WaitJob(ctx context.Context, jobID string, interval time.Duration, onUpdate func(*respond.JobResponse)) (*respond.JobResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		switch model.JobStatus(job.Status) {
		case model.JobStatusCompleted, model.JobStatusFailed:
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
