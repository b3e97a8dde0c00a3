package packager_service

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imroc/req"
	"github.com/tidwall/gjson"

	"bundle-packager/conf"
	"bundle-packager/model"
)

// RemotePackager delegates builds to a build agent over HTTP. Validation stays local.
//
// Agent protocol:
//
//	POST <url>/build  multipart: bundle=<zip>, jobId, platform, appName, appVersion, options(JSON)
//	  200 body is the artifact, name in X-Artifact-Name or Content-Disposition
//	  non-200 body is {"message": "..."}
//	GET  <url>/health  200 {"data":{"dependencies":{"<name>":true}}}
type RemotePackager struct {
	inner   Packager
	url     string
	cfg     conf.PlatformConfig
	timeout time.Duration
}

// NewRemotePackager wraps inner so Package runs on a build agent, Initialize sets the agent URL
func NewRemotePackager(inner Packager) *RemotePackager {
	return &RemotePackager{inner: inner}
}

func (r *RemotePackager) IsRemote() bool {
	return true
}

func (r *RemotePackager) Platform() model.Platform {
	return r.inner.Platform()
}

func (r *RemotePackager) Initialize(cfg conf.PlatformConfig) error {
	if cfg.RemoteURL == "" {
		return fmt.Errorf("invalid configuration: no remote_url for %s", r.inner.Platform())
	}
	if err := r.inner.Initialize(cfg); err != nil {
		return err
	}
	if cfg.TimeoutMinutes <= 0 {
		cfg.TimeoutMinutes = defaultTimeoutMinutes
	}
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = 0.6
	}
	r.cfg = cfg
	r.url = strings.TrimRight(cfg.RemoteURL, "/")
	r.timeout = time.Duration(cfg.TimeoutMinutes) * time.Minute
	return nil
}

func (r *RemotePackager) Validate(request *Request) *ValidationResult {
	return r.inner.Validate(request)
}

func (r *RemotePackager) Cleanup(tempPath string) error {
	return r.inner.Cleanup(tempPath)
}

func (r *RemotePackager) Package(ctx context.Context, request *Request, report ProgressFunc) (*Result, error) {
	if report == nil {
		report = func(int, string) {}
	}
	report(10, "archiving bundle for build agent")

	outputDir := filepath.Join(request.TempPath, string(r.Platform()))
	bundle := filepath.Join(request.TempPath, "remote-source.zip")
	if err := zipDir(ctx, request.WorkingPath, bundle, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to archive bundle: %w", err)
	}
	defer os.Remove(bundle)
	report(25, "bundle archived")

	f, err := os.Open(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()
	options, _ := json.Marshal(request.Options)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	report(40, "uploading to build agent")
	resp, err := req.Post(r.url+"/build",
		req.Header{"Accept": "application/octet-stream"},
		req.Param{
			"jobId":      request.JobId,
			"platform":   string(r.Platform()),
			"appName":    request.AppName,
			"appVersion": request.AppVersion,
			"options":    string(options),
		},
		req.FileUpload{File: f, FieldName: "bundle", FileName: "bundle.zip"},
		runCtx,
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("build agent timed out after %s: %w", r.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("build agent request failed: %w", err)
	}
	report(50, "build agent finished")

	httpResp := resp.Response()
	if httpResp.StatusCode != http.StatusOK {
		body, _ := resp.ToString()
		msg := gjson.Get(body, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(body)
		}
		return nil, fmt.Errorf("build agent returned %d: %s", httpResp.StatusCode, msg)
	}

	name := artifactName(httpResp, request, r.Platform())
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	dst := filepath.Join(outputDir, name)
	report(75, "downloading artifact")
	if err := resp.ToFile(dst); err != nil {
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}

	report(90, "collecting artifacts")
	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	report(100, "packaged "+name)
	return &Result{
		Filename: name,
		Packages: []string{name},
		Path:     dst,
		Size:     info.Size(),
		Type:     artifactType(name),
	}, nil
}

func artifactName(resp *http.Response, request *Request, platform model.Platform) string {
	if name := resp.Header.Get("X-Artifact-Name"); name != "" {
		return filepath.Base("/" + name)
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		return filepath.Base("/" + params["filename"])
	}
	return fmt.Sprintf("%s-%s-%s.bin", request.AppName, request.AppVersion, platform)
}

func (r *RemotePackager) health(ctx context.Context) (gjson.Result, error) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := req.Get(r.url+"/health", hctx)
	if err != nil {
		return gjson.Result{}, err
	}
	if code := resp.Response().StatusCode; code != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("build agent health returned %d", code)
	}
	body, err := resp.ToString()
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.Parse(body), nil
}

func (r *RemotePackager) CheckDependency(ctx context.Context, name string) DependencyStatus {
	status := DependencyStatus{Name: name, Path: "remote:" + r.url}
	h, err := r.health(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	dep := h.Get("data.dependencies." + gjson.Escape(name))
	status.Available = !dep.Exists() || dep.Bool()
	if !status.Available {
		status.Error = "not available on build agent"
	}
	return status
}

func (r *RemotePackager) HealthCheck(ctx context.Context) *HealthReport {
	item := HealthCheckItem{Name: "agent:" + r.url}
	if _, err := r.health(ctx); err != nil {
		item.Message = err.Error()
	} else {
		item.Passed = true
	}
	report := scoreReport(r.Platform(), r.cfg.HealthThreshold, []HealthCheckItem{item})
	report.Remote = true
	if !item.Passed {
		report.Recommendations = []string{"Check that the build agent at " + r.url + " is reachable"}
	}
	return report
}
