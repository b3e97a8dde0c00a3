package job_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"bundle-packager/conf"
	"bundle-packager/database"
	"bundle-packager/logger"
	"bundle-packager/model"
	"bundle-packager/model/dao"
	"bundle-packager/service/classifier_service"
	"bundle-packager/service/fingerprint_service"
	"bundle-packager/service/packager_service"
	"bundle-packager/storage"
)

// ArtifactSource opens finalized upload bundles
type ArtifactSource interface {
	OpenArtifact(ctx context.Context, sessionID string) (io.ReadCloser, *model.UploadArtifact, error)
	OpenArtifactByHash(ctx context.Context, fileHash string) (io.ReadCloser, *model.UploadArtifact, error)
}

// Options orchestrator collaborators. Fingerprints may be nil to always build.
type Options struct {
	DB           database.Database
	Storage      storage.Storage
	Registry     *packager_service.Registry
	Uploads      ArtifactSource
	Fingerprints *fingerprint_service.FingerprintService
	Classifier   *classifier_service.Classifier
}

// Orchestrator runs packaging jobs: one task per platform, each through its packager
type Orchestrator struct {
	cfg          conf.PackagerConfig
	jobDAO       *dao.PackagingJobDAO
	taskDAO      *dao.PlatformTaskDAO
	storage      storage.Storage
	registry     *packager_service.Registry
	uploads      ArtifactSource
	fingerprints *fingerprint_service.FingerprintService
	classifier   *classifier_service.Classifier

	sem        *semaphore.Weighted
	events     chan model.ProgressEvent
	reporter   *Reporter
	hub        *Hub
	aggregator *Aggregator
	// sendMu guards events against close while a send is in flight
	sendMu     sync.RWMutex
	sinkClosed bool

	mu     sync.Mutex
	runs   map[string]*jobRun
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// jobRun in-memory state of a job. Task transitions happen under mu.
type jobRun struct {
	mu      sync.Mutex
	job     *model.PackagingJob
	latest  map[model.Platform]*model.PlatformTask
	cancels map[string]context.CancelFunc // taskId -> cancel, non-terminal tasks only
	deleted bool

	// opMu serializes cancel and retry so a platform never has two live tasks
	opMu sync.Mutex
	wg   sync.WaitGroup

	srcMu       sync.Mutex
	workingPath string
	current     *model.FileFingerprintSet
	previous    map[model.Platform]*model.FileFingerprintSet
}

func newJobRun(job *model.PackagingJob) *jobRun {
	return &jobRun{
		job:      job,
		latest:   make(map[model.Platform]*model.PlatformTask),
		cancels:  make(map[string]context.CancelFunc),
		previous: make(map[model.Platform]*model.FileFingerprintSet),
	}
}

// NewOrchestrator create orchestrator and start its progress aggregator
func NewOrchestrator(cfg conf.PackagerConfig, opts Options) *Orchestrator {
	if cfg.TempRoot == "" {
		cfg.TempRoot = filepath.Join(os.TempDir(), "bundle-packager")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	if cfg.MaxAutoRetries < 0 {
		cfg.MaxAutoRetries = 0
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier_service.NewClassifier()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		jobDAO:       dao.NewPackagingJobDAO(opts.DB),
		taskDAO:      dao.NewPlatformTaskDAO(opts.DB),
		storage:      opts.Storage,
		registry:     opts.Registry,
		uploads:      opts.Uploads,
		fingerprints: opts.Fingerprints,
		classifier:   opts.Classifier,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		events:       make(chan model.ProgressEvent, cfg.EventBuffer),
		hub:          NewHub(),
		runs:         make(map[string]*jobRun),
		ctx:          logger.WithName(ctx, "orchestrator"),
		cancel:       cancel,
		now:          time.Now,
	}
	o.reporter = NewReporter(o.events)
	o.aggregator = newAggregator(o.events, o, o.hub)
	go o.aggregator.Run()
	return o
}

// Hub progress fan-out for subscribers
func (o *Orchestrator) Hub() *Hub {
	return o.hub
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close cancels running tasks, waits for workers and stops the aggregator
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.sendMu.Lock()
	o.sinkClosed = true
	close(o.events)
	o.sendMu.Unlock()
	<-o.aggregator.Done()
}

// SubmitRequest packaging request
type SubmitRequest struct {
	SessionId  string            `json:"sessionId"`
	AppName    string            `json:"appName"`
	AppVersion string            `json:"appVersion"`
	Platforms  []model.Platform  `json:"platforms"`
	Options    map[string]string `json:"options"`
}

// Submit creates a job with one queued task per platform and starts it
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*model.PackagingJob, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	switch {
	case strings.TrimSpace(req.SessionId) == "":
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	case strings.TrimSpace(req.AppName) == "":
		return nil, fmt.Errorf("%w: appName is required", ErrInvalidRequest)
	case strings.TrimSpace(req.AppVersion) == "":
		return nil, fmt.Errorf("%w: appVersion is required", ErrInvalidRequest)
	case len(req.Platforms) == 0:
		return nil, fmt.Errorf("%w: at least one platform is required", ErrInvalidRequest)
	}

	var platforms []model.Platform
	seen := make(map[model.Platform]bool)
	for _, p := range req.Platforms {
		p = model.Platform(strings.ToLower(string(p)))
		if seen[p] {
			continue
		}
		seen[p] = true
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidRequest, p)
		}
		if _, err := o.registry.Ready(ctx, p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		platforms = append(platforms, p)
	}

	rc, artifact, err := o.uploads.OpenArtifact(ctx, req.SessionId)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s has no finalized bundle: %w", ErrInvalidRequest, req.SessionId, err)
	}
	rc.Close()

	options := make(map[string]string, len(req.Options))
	for k, v := range req.Options {
		options[k] = v
	}
	job := &model.PackagingJob{
		JobId:      uuid.NewString(),
		AppName:    req.AppName,
		AppVersion: req.AppVersion,
		Platforms:  platforms,
		SessionId:  req.SessionId,
		FileHash:   artifact.FileHash,
		Options:    options,
		Status:     model.JobStatusQueued,
		Message:    "queued",
	}
	if err := o.jobDAO.Create(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	run := newJobRun(job)
	tasks := make([]*model.PlatformTask, 0, len(platforms))
	for _, p := range platforms {
		task := o.newTask(job.JobId, p, 1)
		if err := o.taskDAO.Create(task); err != nil {
			return nil, fmt.Errorf("failed to create task: %w", err)
		}
		run.latest[p] = task
		tasks = append(tasks, task)
	}

	o.mu.Lock()
	o.runs[job.JobId] = run
	o.mu.Unlock()

	logger.InfoKV(ctx, "Packaging job submitted", "jobId", job.JobId, "app", job.AppName, "version", job.AppVersion, "platforms", platforms)
	for _, t := range tasks {
		o.emit(taskEvent(job, t, model.EventPackagingQueued))
	}
	o.launch(run, tasks)
	return o.view(run), nil
}

func (o *Orchestrator) newTask(jobID string, platform model.Platform, attempt int) *model.PlatformTask {
	return &model.PlatformTask{
		TaskId:   uuid.NewString(),
		JobId:    jobID,
		Platform: platform,
		Attempt:  attempt,
		Status:   model.TaskStatusQueued,
		Message:  "queued",
	}
}

// launch registers task contexts and starts the job goroutine for tasks
func (o *Orchestrator) launch(run *jobRun, tasks []*model.PlatformTask) {
	ctxs := make(map[string]context.Context, len(tasks))
	run.mu.Lock()
	for _, t := range tasks {
		ctx, cancel := context.WithCancel(o.ctx)
		ctxs[t.TaskId] = ctx
		run.cancels[t.TaskId] = cancel
	}
	run.mu.Unlock()

	o.wg.Add(1)
	run.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer run.wg.Done()
		o.runJob(run, tasks, ctxs)
	}()
}

func (o *Orchestrator) emit(ev model.ProgressEvent) {
	o.sendMu.RLock()
	defer o.sendMu.RUnlock()
	if o.sinkClosed {
		return
	}
	if err := o.reporter.Emit(o.ctx, ev); err != nil {
		logger.DebugKV(o.ctx, "Progress event dropped", "jobId", ev.JobId, "type", ev.Type, "error", err)
	}
}

func taskEvent(job *model.PackagingJob, t *model.PlatformTask, typ model.EventType) model.ProgressEvent {
	return model.ProgressEvent{
		Type:      typ,
		JobId:     job.JobId,
		TaskId:    t.TaskId,
		Platform:  t.Platform,
		Status:    string(t.Status),
		Progress:  t.Progress,
		Message:   t.Message,
		Outcome:   t.Outcome,
		Error:     t.Error,
		ElapsedMs: t.ElapsedMs,
	}
}

var transitionEvents = map[model.TaskStatus]model.EventType{
	model.TaskStatusProcessing: model.EventPackagingStarted,
	model.TaskStatusCompleted:  model.EventPackagingCompleted,
	model.TaskStatusFailed:     model.EventPackagingFailed,
	model.TaskStatusCancelled:  model.EventPackagingCancelled,
}

// transition moves task to next, persists it and the job, and returns the event to emit.
// A task that already left the state next requires is reported with ErrInvalidTransition.
func (o *Orchestrator) transition(run *jobRun, task *model.PlatformTask, next model.TaskStatus, mutate func(t *model.PlatformTask)) (model.ProgressEvent, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if !task.Status.CanTransitionTo(next) {
		return model.ProgressEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, next)
	}
	task.Status = next
	now := o.now()
	if next == model.TaskStatusProcessing {
		task.StartedAt = &now
	}
	if next.IsTerminal() {
		task.FinishedAt = &now
		if task.StartedAt != nil {
			task.ElapsedMs = now.Sub(*task.StartedAt).Milliseconds()
		}
		if cancel := run.cancels[task.TaskId]; cancel != nil {
			cancel()
			delete(run.cancels, task.TaskId)
		}
	}
	if mutate != nil {
		mutate(task)
	}

	if err := o.taskDAO.Update(task); err != nil {
		logger.WarnKV(o.ctx, "Failed to persist task", "taskId", task.TaskId, "status", next, "error", err)
	}
	o.syncJob(run)
	return taskEvent(run.job, task, transitionEvents[next]), nil
}

// syncJob recomputes and persists the aggregate job state. Caller holds run.mu.
func (o *Orchestrator) syncJob(run *jobRun) {
	job := run.job
	status, progress, message := aggregate(job.Platforms, run.latest)
	job.Status = status
	job.Progress = progress
	job.Message = message

	var failures []string
	for _, p := range job.Platforms {
		if t := run.latest[p]; t != nil && t.Status == model.TaskStatusFailed && t.Error != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", p, t.Error.Message))
		}
	}
	job.ErrorMessage = strings.Join(failures, "; ")
	if status == model.JobStatusFailed && job.ErrorMessage == "" {
		job.ErrorMessage = message
	}

	if status.IsTerminal() {
		if job.FinishedAt == nil {
			now := o.now()
			job.FinishedAt = &now
		}
	} else {
		job.FinishedAt = nil
	}

	if run.deleted {
		return
	}
	if err := o.jobDAO.Update(job); err != nil {
		logger.WarnKV(o.ctx, "Failed to persist job", "jobId", job.JobId, "error", err)
	}
}

// applyEvent persists task progress and returns the job-progress event for the aggregator
func (o *Orchestrator) applyEvent(ev *model.ProgressEvent) (*model.ProgressEvent, bool) {
	o.mu.Lock()
	run := o.runs[ev.JobId]
	o.mu.Unlock()
	if run == nil {
		return nil, true
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	task := run.latest[ev.Platform]
	if ev.Type == model.EventPackagingProgress {
		// progress of a superseded or finished task is stale
		if task == nil || task.TaskId != ev.TaskId || task.Status != model.TaskStatusProcessing {
			return nil, false
		}
		if ev.Progress > task.Progress {
			task.Progress = ev.Progress
		}
		task.Message = ev.Message
		if err := o.taskDAO.Update(task); err != nil {
			logger.WarnKV(o.ctx, "Failed to persist task progress", "taskId", task.TaskId, "error", err)
		}
		o.syncJob(run)
	}

	return &model.ProgressEvent{
		Type:      model.EventJobProgress,
		JobId:     run.job.JobId,
		Status:    string(run.job.Status),
		Progress:  run.job.Progress,
		Message:   run.job.Message,
		Timestamp: o.now(),
	}, true
}

// load returns the in-memory run of a job, rebuilding it from the database when needed
func (o *Orchestrator) load(jobID string) (*jobRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run := o.runs[jobID]; run != nil {
		return run, nil
	}

	job, err := o.jobDAO.GetByJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	latest, err := o.taskDAO.LatestByPlatform(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	run := newJobRun(job)
	run.latest = latest
	o.runs[jobID] = run
	return run, nil
}

// view snapshots the job with its per-platform results
func (o *Orchestrator) view(run *jobRun) *model.PackagingJob {
	run.mu.Lock()
	defer run.mu.Unlock()
	return jobView(run.job, run.latest)
}

func jobView(job *model.PackagingJob, latest map[model.Platform]*model.PlatformTask) *model.PackagingJob {
	cp := *job
	cp.Platforms = append([]model.Platform(nil), job.Platforms...)
	cp.Results = make(map[model.Platform]*model.PlatformResult, len(latest))
	for p, t := range latest {
		cp.Results[p] = t.ToResult()
	}
	return &cp
}

// Get returns the job with the latest result of every platform
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*model.PackagingJob, error) {
	run, err := o.load(jobID)
	if err != nil {
		return nil, err
	}
	return o.view(run), nil
}

// List returns a page of jobs, newest first, and the next cursor
func (o *Orchestrator) List(ctx context.Context, cursor int64, size int) ([]*model.PackagingJob, int64, error) {
	if size <= 0 {
		size = 20
	}
	jobs, next, err := o.jobDAO.ListWithCursor(cursor, size)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*model.PackagingJob, 0, len(jobs))
	for _, job := range jobs {
		o.mu.Lock()
		run := o.runs[job.JobId]
		o.mu.Unlock()
		if run != nil {
			out = append(out, o.view(run))
			continue
		}
		latest, err := o.taskDAO.LatestByPlatform(job.JobId)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
		}
		out = append(out, jobView(job, latest))
	}
	return out, next, nil
}

// Cancel cancels the active task of platform, or of every platform when platform is empty.
// Tasks already finished are left alone. Returns the platforms that were cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string, platform model.Platform) ([]model.Platform, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	run, err := o.load(jobID)
	if err != nil {
		return nil, err
	}
	if platform != "" && !hasPlatform(run.job.Platforms, platform) {
		return nil, fmt.Errorf("%w: job %s has no platform %s", ErrInvalidRequest, jobID, platform)
	}

	run.opMu.Lock()
	defer run.opMu.Unlock()
	cancelled := o.cancelTasks(run, platform)
	if len(cancelled) > 0 {
		logger.InfoKV(ctx, "Packaging cancelled", "jobId", jobID, "platforms", cancelled)
	}
	return cancelled, nil
}

// cancelTasks caller holds run.opMu
func (o *Orchestrator) cancelTasks(run *jobRun, platform model.Platform) []model.Platform {
	run.mu.Lock()
	var active []*model.PlatformTask
	for _, p := range run.job.Platforms {
		if platform != "" && p != platform {
			continue
		}
		if t := run.latest[p]; t != nil && !t.Status.IsTerminal() {
			active = append(active, t)
		}
	}
	run.mu.Unlock()

	var cancelled []model.Platform
	for _, t := range active {
		ev, err := o.transition(run, t, model.TaskStatusCancelled, func(t *model.PlatformTask) {
			t.Message = "cancelled"
		})
		if err != nil {
			// finished before we got to it
			continue
		}
		if t.TempPath != "" {
			_ = os.RemoveAll(t.TempPath)
		}
		o.emit(ev)
		cancelled = append(cancelled, t.Platform)
	}
	return cancelled
}

// Retry replaces the latest task of platform with a fresh attempt
func (o *Orchestrator) Retry(ctx context.Context, jobID string, platform model.Platform) (*model.PlatformTask, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	run, err := o.load(jobID)
	if err != nil {
		return nil, err
	}
	if !hasPlatform(run.job.Platforms, platform) {
		return nil, fmt.Errorf("%w: job %s has no platform %s", ErrInvalidRequest, jobID, platform)
	}
	if _, err := o.registry.Ready(ctx, platform); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	run.opMu.Lock()
	defer run.opMu.Unlock()
	task, err := o.retry(run, platform)
	if err != nil {
		return nil, err
	}
	logger.InfoKV(ctx, "Packaging retried", "jobId", jobID, "platform", platform, "attempt", task.Attempt)
	return task, nil
}

// retry caller holds run.opMu
func (o *Orchestrator) retry(run *jobRun, platform model.Platform) (*model.PlatformTask, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	run.mu.Lock()
	deleted := run.deleted
	prev := run.latest[platform]
	run.mu.Unlock()
	if deleted {
		return nil, ErrJobNotFound
	}

	attempt := 1
	if prev != nil {
		attempt = prev.Attempt + 1
		if !prev.Status.IsTerminal() {
			o.cancelTasks(run, platform)
		}
	}

	task := o.newTask(run.job.JobId, platform, attempt)
	if err := o.taskDAO.Create(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	run.mu.Lock()
	run.latest[platform] = task
	o.syncJob(run)
	job := run.job
	snapshot := *task
	run.mu.Unlock()

	o.emit(taskEvent(job, &snapshot, model.EventPackagingQueued))
	o.launch(run, []*model.PlatformTask{task})
	return &snapshot, nil
}

// Delete cancels the job, waits for its workers and removes its temp tree, stored artifacts and records
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	if o.isClosed() {
		return ErrClosed
	}
	run, err := o.load(jobID)
	if err != nil {
		return err
	}

	run.opMu.Lock()
	o.cancelTasks(run, "")
	run.mu.Lock()
	run.deleted = true
	run.mu.Unlock()
	run.opMu.Unlock()

	done := make(chan struct{})
	go func() {
		run.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	delete(o.runs, jobID)
	o.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(o.cfg.TempRoot, jobID)); err != nil {
		logger.WarnKV(ctx, "Failed to remove job temp dir", "jobId", jobID, "error", err)
	}
	if err := o.storage.DeletePrefix(packagePrefix(jobID)); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	if err := o.jobDAO.Delete(jobID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	logger.InfoKV(ctx, "Packaging job deleted", "jobId", jobID)
	return nil
}

// OpenArtifact opens the stored primary artifact of platform's latest completed task
func (o *Orchestrator) OpenArtifact(ctx context.Context, jobID string, platform model.Platform) (io.ReadCloser, *model.PlatformTask, error) {
	run, err := o.load(jobID)
	if err != nil {
		return nil, nil, err
	}
	run.mu.Lock()
	var task *model.PlatformTask
	if t := run.latest[platform]; t != nil {
		cp := *t
		task = &cp
	}
	run.mu.Unlock()

	if task == nil || task.Status != model.TaskStatusCompleted || task.ArtifactKey == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoArtifact, platform)
	}
	rc, err := o.storage.Open(task.ArtifactKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoArtifact, platform)
		}
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return rc, task, nil
}

// Recover fails the tasks a previous process left queued or processing
func (o *Orchestrator) Recover(ctx context.Context) error {
	recovered := 0
	for _, status := range []model.JobStatus{model.JobStatusQueued, model.JobStatusProcessing} {
		jobs, err := o.jobDAO.ListByStatus(status, 1000)
		if err != nil {
			return fmt.Errorf("failed to list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			run, err := o.load(job.JobId)
			if err != nil {
				return err
			}
			run.mu.Lock()
			var stale []*model.PlatformTask
			for _, t := range run.latest {
				if !t.Status.IsTerminal() {
					stale = append(stale, t)
				}
			}
			run.mu.Unlock()

			sort.Slice(stale, func(i, j int) bool { return stale[i].Platform < stale[j].Platform })
			for _, t := range stale {
				rec := o.classifier.NewRecord(model.ErrorTypeUnknownError, "interrupted by service restart",
					model.ErrorContext{JobId: job.JobId, Platform: t.Platform, Operation: "recover"}, "")
				rec.Recoverable = true
				rec.Suggestions = []string{"Retry the platform"}
				if _, err := o.transition(run, t, model.TaskStatusFailed, func(t *model.PlatformTask) {
					t.Error = rec
					t.Message = rec.Message
				}); err != nil {
					continue
				}
				recovered++
			}
			run.mu.Lock()
			o.syncJob(run)
			run.mu.Unlock()
		}
	}
	if recovered > 0 {
		logger.InfoKV(ctx, "Recovered interrupted tasks", "count", recovered)
	}
	return nil
}

func hasPlatform(platforms []model.Platform, p model.Platform) bool {
	for _, x := range platforms {
		if x == p {
			return true
		}
	}
	return false
}

func packagePrefix(jobID string) string {
	return "packages/" + jobID
}

func artifactKey(jobID string, platform model.Platform, name string) string {
	return fmt.Sprintf("packages/%s/%s/%s", jobID, platform, filepath.Base(name))
}
