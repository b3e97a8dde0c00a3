package job_service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"bundle-packager/conf"
	"bundle-packager/database"
	"bundle-packager/model"
	"bundle-packager/service/classifier_service"
	"bundle-packager/service/fingerprint_service"
	"bundle-packager/service/packager_service"
	"bundle-packager/service/upload_service"
	"bundle-packager/storage"
)

type packageFunc func(ctx context.Context, req *packager_service.Request, report packager_service.ProgressFunc, call int) (*packager_service.Result, error)

// fakePackager scripted packager, call counts from 1
type fakePackager struct {
	platform model.Platform
	remote   bool
	calls    atomic.Int32
	failing  atomic.Pointer[packager_service.HealthCheckItem]

	mu       sync.Mutex
	requests []*packager_service.Request
	pkg      packageFunc
}

func newFake(platform model.Platform, pkg packageFunc) *fakePackager {
	return &fakePackager{platform: platform, pkg: pkg}
}

func (f *fakePackager) Platform() model.Platform             { return f.platform }
func (f *fakePackager) Initialize(conf.PlatformConfig) error { return nil }
func (f *fakePackager) Cleanup(string) error                 { return nil }
func (f *fakePackager) IsRemote() bool                       { return f.remote }
func (f *fakePackager) HealthCheck(context.Context) *packager_service.HealthReport {
	if item := f.failing.Load(); item != nil {
		return &packager_service.HealthReport{Platform: f.platform, Score: 0.5, Checks: []packager_service.HealthCheckItem{
			{Name: "temp dir writable", Passed: true}, *item,
		}}
	}
	return &packager_service.HealthReport{Platform: f.platform, Healthy: true, Score: 1}
}
func (f *fakePackager) CheckDependency(_ context.Context, name string) packager_service.DependencyStatus {
	return packager_service.DependencyStatus{Name: name, Available: true}
}
func (f *fakePackager) Validate(*packager_service.Request) *packager_service.ValidationResult {
	return &packager_service.ValidationResult{Valid: true}
}
func (f *fakePackager) Package(ctx context.Context, req *packager_service.Request, report packager_service.ProgressFunc) (*packager_service.Result, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.pkg(ctx, req, report, n)
}

func (f *fakePackager) request(i int) *packager_service.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// writeArtifact produces a build output the way a real packager does
func writeArtifact(req *packager_service.Request, platform model.Platform, name, body string) (*packager_service.Result, error) {
	dir := filepath.Join(req.TempPath, string(platform))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		return nil, err
	}
	return &packager_service.Result{Filename: name, Packages: []string{name}, Path: p, Size: int64(len(body)), Type: filepath.Ext(name)[1:]}, nil
}

func succeed(platform model.Platform, name string) packageFunc {
	return func(_ context.Context, req *packager_service.Request, report packager_service.ProgressFunc, _ int) (*packager_service.Result, error) {
		report(50, "halfway")
		return writeArtifact(req, platform, name, "artifact:"+name)
	}
}

type testEnv struct {
	o       *Orchestrator
	uploads *upload_service.UploadService
	store   storage.Storage
	cfg     conf.PackagerConfig
}

func newTestEnv(t *testing.T, fingerprints *fingerprint_service.FingerprintService, packagers ...packager_service.Packager) *testEnv {
	t.Helper()

	db := database.NewMemoryDatabase()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	registry, err := packager_service.NewRegistry(conf.PackagerConfig{})
	require.NoError(t, err)
	for _, p := range packagers {
		registry.Register(p)
	}

	cfg := conf.PackagerConfig{TempRoot: t.TempDir(), MaxConcurrency: 2, MaxAutoRetries: 2, EventBuffer: 16, MaxExtractSize: 10}
	uploads := upload_service.NewUploadService(db, store, conf.UploaderConfig{ChunkSize: 1 << 20, SessionTTLHours: 1})
	o := NewOrchestrator(cfg, Options{
		DB:           db,
		Storage:      store,
		Registry:     registry,
		Uploads:      uploads,
		Fingerprints: fingerprints,
		Classifier:   classifier_service.NewClassifier(),
	})
	t.Cleanup(o.Close)
	return &testEnv{o: o, uploads: uploads, store: store, cfg: cfg}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// upload runs a bundle through a full upload session and returns the session id
func (e *testEnv) upload(t *testing.T, data []byte) string {
	t.Helper()
	ctx := context.Background()
	sum := sha256.Sum256(data)

	start, err := e.uploads.StartSession(ctx, &upload_service.StartSessionRequest{
		FileName: "bundle.zip",
		FileSize: int64(len(data)),
		FileHash: hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)
	if start.AlreadyComplete {
		return start.SessionId
	}
	_, err = e.uploads.UploadChunk(ctx, &upload_service.UploadChunkRequest{SessionId: start.SessionId, ChunkIndex: 0, Data: data})
	require.NoError(t, err)
	_, err = e.uploads.Finalize(ctx, start.SessionId)
	require.NoError(t, err)
	return start.SessionId
}

func defaultBundle(t *testing.T) []byte {
	return zipBytes(t, map[string]string{
		"dist/index.html":    "<html>demo</html>",
		"dist/manifest.json": `{"name":"demo"}`,
		"dist/js/app.js":     "console.log('demo')",
	})
}

func (e *testEnv) waitJob(t *testing.T, jobID string) *model.PackagingJob {
	t.Helper()
	var job *model.PackagingJob
	require.Eventually(t, func() bool {
		var err error
		job, err = e.o.Get(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitDependencyMissingAndSuccess(t *testing.T) {
	t.Parallel()

	windows := newFake(model.PlatformWindows, func(context.Context, *packager_service.Request, packager_service.ProgressFunc, int) (*packager_service.Result, error) {
		return nil, &exec.Error{Name: "electron-builder", Err: exec.ErrNotFound}
	})
	macos := newFake(model.PlatformMacOS, succeed(model.PlatformMacOS, "demo-1.0.0.dmg"))
	env := newTestEnv(t, nil, windows, macos)

	events, unsubscribe := env.o.Hub().Subscribe("")
	defer unsubscribe()

	sessionID := env.upload(t, defaultBundle(t))
	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId:  sessionID,
		AppName:    "demo",
		AppVersion: "1.0.0",
		Platforms:  []model.Platform{"windows", "macos", "windows"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Platform{model.PlatformWindows, model.PlatformMacOS}, job.Platforms)

	job = env.waitJob(t, job.JobId)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.Len(t, job.Results, 2)

	win := job.Results[model.PlatformWindows]
	assert.False(t, win.Success)
	assert.Equal(t, model.TaskStatusFailed, win.Status)
	require.NotNil(t, win.Error)
	assert.Equal(t, model.ErrorTypeDependencyMissing, win.Error.Type)
	assert.Equal(t, model.SeverityHigh, win.Error.Severity)
	assert.NotEmpty(t, win.Error.Suggestions)
	assert.Equal(t, 1, win.Attempt, "dependency errors are not retried")
	assert.Equal(t, int32(1), windows.calls.Load())

	mac := job.Results[model.PlatformMacOS]
	assert.True(t, mac.Success)
	assert.Equal(t, model.TaskOutcomeBuilt, mac.Outcome)
	assert.Equal(t, "demo-1.0.0.dmg", mac.ArtifactName)
	assert.Equal(t, 100, mac.Progress)
	assert.Contains(t, job.ErrorMessage, "windows")

	// the working tree was unwrapped from dist/
	req := macos.request(0)
	assert.FileExists(t, filepath.Join(req.WorkingPath, "index.html"))

	rc, task, err := env.o.OpenArtifact(context.Background(), job.JobId, model.PlatformMacOS)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "artifact:demo-1.0.0.dmg", string(body))
	assert.Equal(t, "packages/"+job.JobId+"/macos/demo-1.0.0.dmg", task.ArtifactKey)

	_, _, err = env.o.OpenArtifact(context.Background(), job.JobId, model.PlatformWindows)
	require.ErrorIs(t, err, ErrNoArtifact)

	// task temp dirs are released, the shared source stays for retries
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(filepath.Join(env.cfg.TempRoot, job.JobId))
		return err == nil && len(entries) == 1 && entries[0].Name() == "source"
	}, 5*time.Second, 10*time.Millisecond)

	seen := map[model.EventType]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[model.EventJobProgress] || !seen[model.EventPackagingCompleted] || !seen[model.EventExtractionCompleted] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, newFake(model.PlatformLinux, succeed(model.PlatformLinux, "demo.deb")))
	sessionID := env.upload(t, defaultBundle(t))
	ctx := context.Background()

	cases := map[string]*SubmitRequest{
		"no platforms":        {SessionId: sessionID, AppName: "demo", AppVersion: "1.0.0"},
		"unknown platform":    {SessionId: sessionID, AppName: "demo", AppVersion: "1.0.0", Platforms: []model.Platform{"beos"}},
		"unregistered":        {SessionId: sessionID, AppName: "demo", AppVersion: "1.0.0", Platforms: []model.Platform{"android"}},
		"unfinished session":  {SessionId: "nope", AppName: "demo", AppVersion: "1.0.0", Platforms: []model.Platform{"linux"}},
		"missing app version": {SessionId: sessionID, AppName: "demo", Platforms: []model.Platform{"linux"}},
	}
	for name, req := range cases {
		_, err := env.o.Submit(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}

	_, err := env.o.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestUnhealthyPackagerRejected(t *testing.T) {
	t.Parallel()

	linux := newFake(model.PlatformLinux, succeed(model.PlatformLinux, "demo.deb"))
	pwa := newFake(model.PlatformPWA, succeed(model.PlatformPWA, "demo.zip"))
	linux.failing.Store(&packager_service.HealthCheckItem{Name: "dpkg-deb", Message: "not found in PATH"})
	env := newTestEnv(t, nil, linux, pwa)
	ctx := context.Background()
	sessionID := env.upload(t, defaultBundle(t))

	_, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: sessionID, AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformPWA, model.PlatformLinux},
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.ErrorIs(t, err, packager_service.ErrUnhealthy)
	assert.Contains(t, err.Error(), "dpkg-deb (not found in PATH)")
	assert.NotContains(t, err.Error(), "temp dir writable")
	assert.Zero(t, linux.calls.Load())
	assert.Zero(t, pwa.calls.Load())

	linux.failing.Store(nil)
	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: sessionID, AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux},
	})
	require.NoError(t, err)
	env.waitJob(t, job.JobId)
	require.EqualValues(t, 1, linux.calls.Load())

	linux.failing.Store(&packager_service.HealthCheckItem{Name: "fakeroot"})
	_, err = env.o.Retry(ctx, job.JobId, model.PlatformLinux)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "fakeroot")
	assert.EqualValues(t, 1, linux.calls.Load())

	job, err = env.o.Get(ctx, job.JobId)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Results[model.PlatformLinux].Attempt)
}

func TestCancelledTaskNeverCompletes(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	linux := newFake(model.PlatformLinux, func(_ context.Context, req *packager_service.Request, _ packager_service.ProgressFunc, _ int) (*packager_service.Result, error) {
		close(started)
		// ignores cancellation and reports success late
		<-release
		return writeArtifact(req, model.PlatformLinux, "demo.deb", "deb")
	})
	env := newTestEnv(t, nil, linux)

	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux},
	})
	require.NoError(t, err)
	<-started

	cancelled, err := env.o.Cancel(context.Background(), job.JobId, "")
	require.NoError(t, err)
	assert.Equal(t, []model.Platform{model.PlatformLinux}, cancelled)
	close(release)

	job = env.waitJob(t, job.JobId)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "all platforms cancelled", job.Message)

	// give the worker time to try its completion
	time.Sleep(100 * time.Millisecond)
	job, err = env.o.Get(context.Background(), job.JobId)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, job.Results[model.PlatformLinux].Status)

	// cancelling again is a no-op
	cancelled, err = env.o.Cancel(context.Background(), job.JobId, model.PlatformLinux)
	require.NoError(t, err)
	assert.Empty(t, cancelled)

	_, err = env.o.Cancel(context.Background(), job.JobId, model.PlatformAndroid)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelOnePlatformKeepsSiblings(t *testing.T) {
	t.Parallel()

	android := newFake(model.PlatformAndroid, func(ctx context.Context, _ *packager_service.Request, _ packager_service.ProgressFunc, _ int) (*packager_service.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pwa := newFake(model.PlatformPWA, succeed(model.PlatformPWA, "demo-pwa.zip"))
	env := newTestEnv(t, nil, android, pwa)

	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformAndroid, model.PlatformPWA},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := env.o.Get(context.Background(), job.JobId)
		return j.Results[model.PlatformAndroid].Status == model.TaskStatusProcessing
	}, 5*time.Second, 10*time.Millisecond)

	_, err = env.o.Cancel(context.Background(), job.JobId, model.PlatformAndroid)
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, model.TaskStatusCancelled, job.Results[model.PlatformAndroid].Status)
	assert.True(t, job.Results[model.PlatformPWA].Success)
	// only the pwa task counts towards progress
	assert.Equal(t, 100, job.Progress)
}

func TestRetryCreatesFreshAttempt(t *testing.T) {
	t.Parallel()

	linux := newFake(model.PlatformLinux, func(_ context.Context, req *packager_service.Request, _ packager_service.ProgressFunc, call int) (*packager_service.Result, error) {
		if call == 1 {
			return nil, errors.New("invalid configuration: missing maintainer")
		}
		return writeArtifact(req, model.PlatformLinux, "demo.deb", "deb")
	})
	env := newTestEnv(t, nil, linux)
	ctx := context.Background()

	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux},
	})
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	first := job.Results[model.PlatformLinux]
	assert.Equal(t, model.ErrorTypeConfigurationError, first.Error.Type)
	assert.Equal(t, 1, first.Attempt)

	task, err := env.o.Retry(ctx, job.JobId, model.PlatformLinux)
	require.NoError(t, err)
	assert.Equal(t, 2, task.Attempt)
	assert.NotEqual(t, first.TaskId, task.TaskId)

	job = env.waitJob(t, job.JobId)
	second := job.Results[model.PlatformLinux]
	assert.True(t, second.Success)
	assert.Equal(t, task.TaskId, second.TaskId)
	assert.NotEqual(t, linux.request(0).TempPath, linux.request(1).TempPath)
	assert.Equal(t, linux.request(0).WorkingPath, linux.request(1).WorkingPath)

	_, err = env.o.Retry(ctx, job.JobId, model.PlatformMacOS)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRetryReextractsMissingSource(t *testing.T) {
	t.Parallel()

	linux := newFake(model.PlatformLinux, succeed(model.PlatformLinux, "demo.deb"))
	env := newTestEnv(t, nil, linux)
	ctx := context.Background()

	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux},
	})
	require.NoError(t, err)
	env.waitJob(t, job.JobId)

	require.NoError(t, os.RemoveAll(filepath.Join(env.cfg.TempRoot, job.JobId, "source")))
	_, err = env.o.Retry(ctx, job.JobId, model.PlatformLinux)
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	assert.True(t, job.Results[model.PlatformLinux].Success)
	assert.Equal(t, 2, job.Results[model.PlatformLinux].Attempt)
	assert.FileExists(t, filepath.Join(linux.request(1).WorkingPath, "index.html"))
}

func TestAutoRetryRecoverableFailure(t *testing.T) {
	t.Parallel()

	windows := newFake(model.PlatformWindows, func(_ context.Context, req *packager_service.Request, _ packager_service.ProgressFunc, call int) (*packager_service.Result, error) {
		if call == 1 {
			return nil, errors.New("windows build failed: exit status 1")
		}
		return writeArtifact(req, model.PlatformWindows, "demo.exe", "exe")
	})
	env := newTestEnv(t, nil, windows)

	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformWindows},
	})
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	result := job.Results[model.PlatformWindows]
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempt)
	assert.Equal(t, int32(2), windows.calls.Load())
}

func TestAutoRetryStopsAtLimit(t *testing.T) {
	t.Parallel()

	windows := newFake(model.PlatformWindows, func(context.Context, *packager_service.Request, packager_service.ProgressFunc, int) (*packager_service.Result, error) {
		return nil, errors.New("windows build failed: exit status 1")
	})
	env := newTestEnv(t, nil, windows)

	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformWindows},
	})
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	assert.Equal(t, 3, job.Results[model.PlatformWindows].Attempt)
	assert.Equal(t, model.ErrorTypeBuildFailed, job.Results[model.PlatformWindows].Error.Type)
	assert.Equal(t, int32(3), windows.calls.Load())
}

func TestFingerprintFastPath(t *testing.T) {
	t.Parallel()

	installRoot := t.TempDir()
	fingerprints := fingerprint_service.NewFingerprintService(conf.FingerprintConfig{
		CoreFiles:     []string{"index.html", "manifest.json"},
		MaxAssetFiles: 50,
		InstallRoots:  []string{installRoot},
		AutoRecord:    true,
	})
	macos := newFake(model.PlatformMacOS, succeed(model.PlatformMacOS, "demo.dmg"))
	env := newTestEnv(t, fingerprints, macos)
	ctx := context.Background()
	bundle := defaultBundle(t)

	submit := func() *model.PackagingJob {
		job, err := env.o.Submit(ctx, &SubmitRequest{
			SessionId: env.upload(t, bundle), AppName: "demo", AppVersion: "1.0.0",
			Platforms: []model.Platform{model.PlatformMacOS},
		})
		require.NoError(t, err)
		return env.waitJob(t, job.JobId)
	}

	first := submit()
	assert.Equal(t, model.TaskOutcomeBuilt, first.Results[model.PlatformMacOS].Outcome)
	record := filepath.Join(installRoot, "demo", "macos", fingerprint_service.RecordFileName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(record)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	second := submit()
	result := second.Results[model.PlatformMacOS]
	assert.True(t, result.Success)
	assert.Equal(t, model.TaskOutcomeUpToDate, result.Outcome)
	assert.Equal(t, "already up to date", result.Message)
	assert.Zero(t, result.ArtifactSize)
	assert.Equal(t, int32(1), macos.calls.Load())

	// a changed core file forces a build
	changed := zipBytes(t, map[string]string{
		"dist/index.html":    "<html>demo v2</html>",
		"dist/manifest.json": `{"name":"demo"}`,
		"dist/js/app.js":     "console.log('demo')",
	})
	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: env.upload(t, changed), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformMacOS},
	})
	require.NoError(t, err)
	third := env.waitJob(t, job.JobId)
	assert.Equal(t, model.TaskOutcomeBuilt, third.Results[model.PlatformMacOS].Outcome)
	assert.Equal(t, int32(2), macos.calls.Load())
}

func TestIngestionFailureFailsJob(t *testing.T) {
	t.Parallel()

	linux := newFake(model.PlatformLinux, succeed(model.PlatformLinux, "demo.deb"))
	env := newTestEnv(t, nil, linux)

	evil := zipBytes(t, map[string]string{"../evil.txt": "x", "index.html": "<html></html>"})
	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId: env.upload(t, evil), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux},
	})
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "bundle extraction failed")
	result := job.Results[model.PlatformLinux]
	assert.Equal(t, model.TaskStatusFailed, result.Status)
	assert.Equal(t, model.ErrorTypeFileSystemError, result.Error.Type)
	assert.Zero(t, linux.calls.Load())
}

func TestRetryIngestionFailureKeepsSiblingResults(t *testing.T) {
	t.Parallel()

	linux := newFake(model.PlatformLinux, succeed(model.PlatformLinux, "demo.deb"))
	pwa := newFake(model.PlatformPWA, succeed(model.PlatformPWA, "demo.zip"))
	env := newTestEnv(t, nil, linux, pwa)
	ctx := context.Background()

	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux, model.PlatformPWA},
	})
	require.NoError(t, err)
	job = env.waitJob(t, job.JobId)
	require.Equal(t, model.JobStatusCompleted, job.Status)

	// re-extraction cannot spool the bundle over a directory
	jobDir := filepath.Join(env.cfg.TempRoot, job.JobId)
	require.NoError(t, os.RemoveAll(filepath.Join(jobDir, "source")))
	require.NoError(t, os.MkdirAll(filepath.Join(jobDir, "bundle.zip", "blocker"), 0755))

	_, err = env.o.Retry(ctx, job.JobId, model.PlatformLinux)
	require.NoError(t, err)

	job = env.waitJob(t, job.JobId)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.True(t, job.Results[model.PlatformPWA].Success)
	result := job.Results[model.PlatformLinux]
	assert.Equal(t, model.TaskStatusFailed, result.Status)
	assert.Equal(t, 2, result.Attempt)
	assert.Equal(t, model.ErrorTypeFileSystemError, result.Error.Type)
	assert.Contains(t, job.ErrorMessage, "linux: bundle extraction failed")
	assert.EqualValues(t, 1, linux.calls.Load())
}

func TestRemotePackagersSkipSemaphore(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	var running atomic.Int32
	slow := func(platform model.Platform) packageFunc {
		return func(_ context.Context, req *packager_service.Request, _ packager_service.ProgressFunc, _ int) (*packager_service.Result, error) {
			running.Add(1)
			<-block
			return writeArtifact(req, platform, "out.zip", "x")
		}
	}
	windows := newFake(model.PlatformWindows, slow(model.PlatformWindows))
	linux := newFake(model.PlatformLinux, slow(model.PlatformLinux))
	macos := newFake(model.PlatformMacOS, slow(model.PlatformMacOS))
	macos.remote = true

	env := newTestEnv(t, nil, windows, linux, macos)
	// one local slot
	env.o.sem = semaphore.NewWeighted(1)

	job, err := env.o.Submit(context.Background(), &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformWindows, model.PlatformLinux, model.PlatformMacOS},
	})
	require.NoError(t, err)

	// one local build plus the remote one
	require.Eventually(t, func() bool { return running.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), running.Load())

	close(block)
	job = env.waitJob(t, job.JobId)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(3), running.Load())
}

func TestOperationsAfterClose(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, newFake(model.PlatformLinux, succeed(model.PlatformLinux, "demo.deb")))
	ctx := context.Background()

	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux},
	})
	require.NoError(t, err)
	env.waitJob(t, job.JobId)
	env.o.Close()

	require.NotPanics(t, func() {
		_, err = env.o.Cancel(ctx, job.JobId, "")
		require.ErrorIs(t, err, ErrClosed)
		_, err = env.o.Retry(ctx, job.JobId, model.PlatformLinux)
		require.ErrorIs(t, err, ErrClosed)
		require.ErrorIs(t, env.o.Delete(ctx, job.JobId), ErrClosed)
		env.o.emit(model.ProgressEvent{Type: model.EventJobProgress, JobId: job.JobId})
	})

	got, err := env.o.Get(ctx, job.JobId)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestDeleteRemovesEverything(t *testing.T) {
	t.Parallel()

	pwa := newFake(model.PlatformPWA, succeed(model.PlatformPWA, "demo-pwa.zip"))
	env := newTestEnv(t, nil, pwa)
	ctx := context.Background()

	job, err := env.o.Submit(ctx, &SubmitRequest{
		SessionId: env.upload(t, defaultBundle(t)), AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformPWA},
	})
	require.NoError(t, err)
	job = env.waitJob(t, job.JobId)
	key := "packages/" + job.JobId + "/pwa/demo-pwa.zip"
	require.True(t, env.store.Exists(key))

	require.NoError(t, env.o.Delete(ctx, job.JobId))
	assert.False(t, env.store.Exists(key))
	assert.NoDirExists(t, filepath.Join(env.cfg.TempRoot, job.JobId))
	_, err = env.o.Get(ctx, job.JobId)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestListAndRecover(t *testing.T) {
	t.Parallel()

	db := database.NewMemoryDatabase()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	// state left behind by a previous process
	require.NoError(t, db.CreatePackagingJob(&model.PackagingJob{
		JobId: "job-stale", AppName: "demo", AppVersion: "1.0.0",
		Platforms: []model.Platform{model.PlatformLinux, model.PlatformPWA},
		Status:    model.JobStatusProcessing,
	}))
	require.NoError(t, db.CreatePlatformTask(&model.PlatformTask{TaskId: "t-linux", JobId: "job-stale", Platform: model.PlatformLinux, Attempt: 1, Status: model.TaskStatusProcessing}))
	require.NoError(t, db.CreatePlatformTask(&model.PlatformTask{TaskId: "t-pwa", JobId: "job-stale", Platform: model.PlatformPWA, Attempt: 1, Status: model.TaskStatusCompleted, Progress: 100}))

	registry, err := packager_service.NewRegistry(conf.PackagerConfig{})
	require.NoError(t, err)
	o := NewOrchestrator(conf.PackagerConfig{TempRoot: t.TempDir()}, Options{
		DB:       db,
		Storage:  store,
		Registry: registry,
		Uploads:  upload_service.NewUploadService(db, store, conf.UploaderConfig{}),
	})
	defer o.Close()

	require.NoError(t, o.Recover(context.Background()))

	jobs, next, err := o.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(1), next)

	job := jobs[0]
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	linux := job.Results[model.PlatformLinux]
	assert.Equal(t, model.TaskStatusFailed, linux.Status)
	assert.Equal(t, "interrupted by service restart", linux.Error.Message)
	assert.True(t, linux.Error.Recoverable)
	assert.True(t, job.Results[model.PlatformPWA].Success)
}
