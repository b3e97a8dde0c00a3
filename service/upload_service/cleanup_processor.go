package upload_service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bundle-packager/logger"
)

// CleanupProcessor periodically evicts expired upload sessions
type CleanupProcessor struct {
	uploadService *UploadService
	cron          *cron.Cron
	spec          string
	batchSize     int
	grace         time.Duration // only sessions expired longer than this are swept
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewCleanupProcessor create cleanup processor, spec is a cron expression with seconds
func NewCleanupProcessor(uploadService *UploadService, spec string) *CleanupProcessor {
	if spec == "" {
		spec = "0 */10 * * * *"
	}
	cl := cronLogger{l: logger.Logger().Named("upload-cleanup")}
	return &CleanupProcessor{
		uploadService: uploadService,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
		),
		spec:      spec,
		batchSize: 100,
		grace:     time.Hour,
	}
}

// Start registers the sweep, runs it once and starts the scheduler
func (cp *CleanupProcessor) Start() error {
	if _, err := cp.cron.AddFunc(cp.spec, cp.cleanupExpiredUploads); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cp.spec, err)
	}

	go cp.cleanupExpiredUploads()
	cp.cron.Start()
	logger.Logger().Infof("Cleanup processor started (schedule: %s)", cp.spec)
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (cp *CleanupProcessor) Stop() {
	logger.Logger().Info("Stopping cleanup processor...")
	<-cp.cron.Stop().Done()
	logger.Logger().Info("Cleanup processor stopped")
}

// cleanupExpiredUploads sweeps in batches until a short batch comes back
func (cp *CleanupProcessor) cleanupExpiredUploads() {
	ctx := logger.WithName(context.Background(), "upload-cleanup")
	before := time.Now().Add(-cp.grace)

	total := 0
	for {
		n, err := cp.uploadService.CleanupExpiredSessions(ctx, before, cp.batchSize)
		if err != nil {
			logger.Errorf(ctx, "Failed to cleanup expired uploads: %v", err)
			return
		}
		total += n
		if n < cp.batchSize {
			break
		}
	}

	if total > 0 {
		logger.Infof(ctx, "Cleaned up %d expired upload sessions (expired before %s)", total, before.Format(time.RFC3339))
	}
}
