package job_service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bundle-packager/logger"
	"bundle-packager/model"
	"bundle-packager/service/classifier_service"
	"bundle-packager/service/fingerprint_service"
	"bundle-packager/service/packager_service"
)

// runJob makes sure the bundle is extracted, then runs tasks concurrently
func (o *Orchestrator) runJob(run *jobRun, tasks []*model.PlatformTask, ctxs map[string]context.Context) {
	ctx := logger.WithKV(o.ctx, "jobId", run.job.JobId)

	if err := o.prepareSource(ctx, run); err != nil {
		o.failIngestion(ctx, run, tasks, err)
		return
	}

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runTask(ctxs[t.TaskId], run, t)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) jobDir(jobID string) string {
	return filepath.Join(o.cfg.TempRoot, jobID)
}

// prepareSource extracts the bundle into <temp_root>/<jobId>/source unless it is still
// there, then fingerprints it and loads the previous install records
func (o *Orchestrator) prepareSource(ctx context.Context, run *jobRun) error {
	run.srcMu.Lock()
	defer run.srcMu.Unlock()

	if run.workingPath != "" {
		if info, err := os.Stat(run.workingPath); err == nil && info.IsDir() {
			return nil
		}
	}

	job := run.job
	o.emit(model.ProgressEvent{Type: model.EventExtractionStarted, JobId: job.JobId, Message: "extracting bundle"})

	rc, artifact, err := o.uploads.OpenArtifactByHash(ctx, job.FileHash)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	archive := filepath.Join(o.jobDir(job.JobId), "bundle.zip")
	err = spool(rc, archive)
	rc.Close()
	if err != nil {
		return fmt.Errorf("failed to spool bundle: %w", err)
	}
	defer os.Remove(archive)

	src := filepath.Join(o.jobDir(job.JobId), "source")
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("failed to clear source dir: %w", err)
	}

	lastPct := -1
	progress := func(done, total int) {
		pct := done * 100 / total
		if pct/10 == lastPct/10 && done != total {
			return
		}
		lastPct = pct
		o.emit(model.ProgressEvent{
			Type:     model.EventExtractionProgress,
			JobId:    job.JobId,
			Progress: pct,
			Message:  fmt.Sprintf("extracted %d/%d entries", done, total),
		})
	}
	working, err := extractZip(ctx, archive, src, o.cfg.MaxExtractSize*1024*1024, progress)
	if err != nil {
		_ = os.RemoveAll(src)
		return err
	}

	run.workingPath = working
	run.current = nil
	run.previous = make(map[model.Platform]*model.FileFingerprintSet)
	if o.fingerprints != nil {
		current, err := o.fingerprints.ComputeFingerprint(working)
		if err != nil {
			logger.WarnKV(ctx, "Fingerprint failed, every platform will build", "error", err)
		} else {
			current.AppName = job.AppName
			current.AppVersion = job.AppVersion
			run.current = current
			for _, p := range job.Platforms {
				if prev, ok := o.fingerprints.LoadPrevious(fingerprint_service.InstallTarget{AppName: job.AppName, Platform: p}); ok {
					run.previous[p] = prev
				}
			}
		}
	}

	o.emit(model.ProgressEvent{
		Type:     model.EventExtractionCompleted,
		JobId:    job.JobId,
		Progress: 100,
		Message:  fmt.Sprintf("extracted %s", artifact.FileName),
	})
	logger.InfoKV(ctx, "Bundle extracted", "workingPath", working)
	return nil
}

// failIngestion fails every still-queued task with a FileSystemError. The job fails
// with them unless other platforms already hold results.
func (o *Orchestrator) failIngestion(ctx context.Context, run *jobRun, tasks []*model.PlatformTask, cause error) {
	logger.ErrorKV(ctx, "Bundle extraction failed", "error", cause)
	o.emit(model.ProgressEvent{Type: model.EventExtractionFailed, JobId: run.job.JobId, Message: cause.Error()})

	errCtx := model.ErrorContext{JobId: run.job.JobId, Operation: "extract"}
	for _, t := range tasks {
		errCtx.Platform = t.Platform
		rec := o.classifier.NewRecord(model.ErrorTypeFileSystemError, "bundle extraction failed: "+cause.Error(), errCtx, "")
		ev, err := o.transition(run, t, model.TaskStatusFailed, func(t *model.PlatformTask) {
			t.Error = rec
			t.Message = rec.Message
		})
		if err != nil {
			continue
		}
		o.emit(ev)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if hasOtherResults(run, tasks) {
		// a retry lost its source; earlier results of the other platforms still stand
		o.syncJob(run)
		return
	}
	now := o.now()
	run.job.Status = model.JobStatusFailed
	run.job.ErrorMessage = "bundle extraction failed: " + cause.Error()
	run.job.FinishedAt = &now
	if !run.deleted {
		if err := o.jobDAO.Update(run.job); err != nil {
			logger.WarnKV(ctx, "Failed to persist job", "error", err)
		}
	}
}

// hasOtherResults reports whether a platform outside tasks has a live latest task. Caller holds run.mu.
func hasOtherResults(run *jobRun, tasks []*model.PlatformTask) bool {
	batch := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		batch[t.TaskId] = true
	}
	for _, p := range run.job.Platforms {
		if t := run.latest[p]; t != nil && !batch[t.TaskId] && t.Status != model.TaskStatusCancelled {
			return true
		}
	}
	return false
}

// runTask drives one task from queued to a terminal state
func (o *Orchestrator) runTask(ctx context.Context, run *jobRun, task *model.PlatformTask) {
	job := run.job
	ctx = logger.WithKV(ctx, "jobId", job.JobId, "platform", task.Platform, "attempt", task.Attempt)
	errCtx := model.ErrorContext{JobId: job.JobId, Platform: task.Platform, Operation: "package"}

	p, err := o.registry.Get(task.Platform)
	if err != nil {
		o.fail(ctx, run, task, o.classifier.NewRecord(model.ErrorTypeConfigurationError, err.Error(), errCtx, ""))
		return
	}

	if !packager_service.IsRemote(p) {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			// cancelled while waiting for a slot
			return
		}
		defer o.sem.Release(1)
	}

	tempPath := filepath.Join(o.jobDir(job.JobId), task.TaskId)
	ev, err := o.transition(run, task, model.TaskStatusProcessing, func(t *model.PlatformTask) {
		t.TempPath = tempPath
		t.Message = "started"
	})
	if err != nil {
		return
	}
	o.emit(ev)
	defer o.release(ctx, p, tempPath)

	if o.upToDate(run, task.Platform) {
		ev, err := o.transition(run, task, model.TaskStatusCompleted, func(t *model.PlatformTask) {
			t.Outcome = model.TaskOutcomeUpToDate
			t.Progress = 100
			t.Message = "already up to date"
		})
		if err == nil {
			logger.InfoKV(ctx, "Build skipped, already up to date")
			o.emit(ev)
		}
		return
	}

	if err := os.MkdirAll(tempPath, 0755); err != nil {
		o.fail(ctx, run, task, o.classifier.Classify(err, errCtx))
		return
	}

	run.srcMu.Lock()
	workingPath := run.workingPath
	run.srcMu.Unlock()

	req := &packager_service.Request{
		JobId:       job.JobId,
		TaskId:      task.TaskId,
		WorkingPath: workingPath,
		TempPath:    tempPath,
		AppName:     job.AppName,
		AppVersion:  job.AppVersion,
		LogoPath:    job.Options["logo"],
		Options:     job.Options,
	}
	started := o.now()
	report := func(progress int, message string) {
		_ = o.reporter.Emit(ctx, model.ProgressEvent{
			Type:      model.EventPackagingProgress,
			JobId:     job.JobId,
			TaskId:    task.TaskId,
			Platform:  task.Platform,
			Status:    string(model.TaskStatusProcessing),
			Progress:  progress,
			Message:   message,
			ElapsedMs: o.now().Sub(started).Milliseconds(),
		})
	}

	res, rec := packager_service.SafeExecute(ctx, p, req, report, o.classifier)
	if rec == nil && ctx.Err() != nil {
		// cancelled while building, nothing is stored
		return
	}
	if rec == nil {
		if err := o.storeArtifacts(job.JobId, task.Platform, res); err != nil {
			errCtx.Operation = "upload"
			rec = o.classifier.Classify(err, errCtx)
		}
	}
	if rec != nil {
		o.fail(ctx, run, task, rec)
		return
	}

	ev, err = o.transition(run, task, model.TaskStatusCompleted, func(t *model.PlatformTask) {
		t.Outcome = model.TaskOutcomeBuilt
		t.Progress = 100
		t.Message = "packaged " + res.Filename
		t.ArtifactName = res.Filename
		t.ArtifactKey = artifactKey(job.JobId, task.Platform, res.Filename)
		t.ArtifactSize = res.Size
		t.ArtifactType = res.Type
		t.Packages = append([]string(nil), res.Packages...)
	})
	if err != nil {
		logger.InfoKV(ctx, "Build finished after the task was cancelled")
		return
	}
	o.emit(ev)
	logger.InfoKV(ctx, "Build completed", "artifact", res.Filename, "size", res.Size)

	o.recordFingerprint(ctx, run, task.Platform)
}

// fail moves task to failed. A failure eligible for auto retry is replaced by a new
// queued attempt in the same step, so the job never reads as finished in between.
func (o *Orchestrator) fail(ctx context.Context, run *jobRun, task *model.PlatformTask, rec *model.ErrorRecord) {
	var successor *model.PlatformTask
	if classifier_service.ShouldAutoRetry(rec, task.Attempt, o.cfg.MaxAutoRetries) && !o.isClosed() {
		successor = o.newTask(run.job.JobId, task.Platform, task.Attempt+1)
		run.opMu.Lock()
		defer run.opMu.Unlock()
	}

	ev, err := o.transition(run, task, model.TaskStatusFailed, func(t *model.PlatformTask) {
		t.Error = rec
		t.Message = rec.Message
		if successor != nil && !run.deleted && run.latest[t.Platform] == t {
			run.latest[t.Platform] = successor
		} else {
			successor = nil
		}
	})
	if err != nil {
		return
	}
	logger.WarnKV(ctx, "Build failed", "type", rec.Type, "error", rec.Message)
	o.emit(ev)
	if successor == nil {
		return
	}

	if err := o.taskDAO.Create(successor); err != nil {
		logger.WarnKV(ctx, "Auto retry not started", "error", err)
		run.mu.Lock()
		run.latest[task.Platform] = task
		o.syncJob(run)
		run.mu.Unlock()
		return
	}
	logger.InfoKV(ctx, "Auto retry scheduled", "nextAttempt", successor.Attempt, "type", rec.Type)
	o.emit(taskEvent(run.job, successor, model.EventPackagingQueued))
	o.launch(run, []*model.PlatformTask{successor})
}

// upToDate reports whether the platform's last install matches the bundle
func (o *Orchestrator) upToDate(run *jobRun, platform model.Platform) bool {
	run.srcMu.Lock()
	defer run.srcMu.Unlock()

	prev := run.previous[platform]
	if prev == nil || run.current == nil || len(run.current.Files) == 0 {
		return false
	}
	return fingerprint_service.Diff(prev, run.current).IsIdentical
}

func (o *Orchestrator) recordFingerprint(ctx context.Context, run *jobRun, platform model.Platform) {
	if o.fingerprints == nil || !o.fingerprints.AutoRecord() {
		return
	}
	run.srcMu.Lock()
	current := run.current
	run.srcMu.Unlock()
	if current == nil {
		return
	}

	target := fingerprint_service.InstallTarget{AppName: run.job.AppName, Platform: platform}
	if err := o.fingerprints.Record(target, current); err != nil {
		logger.WarnKV(ctx, "Failed to record fingerprint", "error", err)
	}
}

// storeArtifacts uploads every package of res under packages/<jobId>/<platform>/
func (o *Orchestrator) storeArtifacts(jobID string, platform model.Platform, res *packager_service.Result) error {
	names := res.Packages
	if len(names) == 0 {
		names = []string{res.Filename}
	}
	prefix := fmt.Sprintf("%s/%s", packagePrefix(jobID), platform)
	if err := o.storage.DeletePrefix(prefix); err != nil {
		return fmt.Errorf("failed to clear previous artifacts: %w", err)
	}

	dir := filepath.Dir(res.Path)
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to open artifact: %w", err)
		}
		err = o.storage.SaveStream(artifactKey(jobID, platform, name), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to store artifact %s: %w", name, err)
		}
	}
	return nil
}

// release removes the task temp dir and lets the packager drop its own state
func (o *Orchestrator) release(ctx context.Context, p packager_service.Packager, tempPath string) {
	if err := p.Cleanup(tempPath); err != nil {
		logger.WarnKV(ctx, "Packager cleanup failed", "error", err)
	}
	if err := os.RemoveAll(tempPath); err != nil {
		logger.WarnKV(ctx, "Failed to remove task temp dir", "tempPath", tempPath, "error", err)
	}
}
