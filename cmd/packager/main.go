package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bundle-packager/conf"
	"bundle-packager/controller"
	"bundle-packager/database"
	"bundle-packager/logger"
	"bundle-packager/service/classifier_service"
	"bundle-packager/service/fingerprint_service"
	"bundle-packager/service/job_service"
	"bundle-packager/service/packager_service"
	"bundle-packager/service/upload_service"
	"bundle-packager/storage"
)

var ENV string

func init() {
	flag.StringVar(&ENV, "env", "loc", "Environment: loc/dev/prod")
}

// app everything main starts and stops
type app struct {
	srv          *http.Server
	orchestrator *job_service.Orchestrator
	cleanup      *upload_service.CleanupProcessor
}

func main() {
	a := initAll()
	ctx := logger.WithName(context.Background(), "main")

	if err := a.cleanup.Start(); err != nil {
		logger.Fatalf(ctx, "Failed to start cleanup processor: %v", err)
	}

	// Start HTTP API service (in goroutine)
	go startServer(a.srv)
	logger.Infof(ctx, "Packager API service listening on %s", a.srv.Addr)

	// Wait for shutdown signal
	waitForShutdown()

	logger.Info(ctx, "Shutting down packager service...")
	shutdownServer(a.srv)
	a.cleanup.Stop()
	a.orchestrator.Close()

	if database.DB != nil {
		database.DB.Close()
	}
	if err := database.CloseRedis(); err != nil {
		logger.Warnf(ctx, "Failed to close Redis: %v", err)
	}
	logger.Info(ctx, "Server exited")
	logger.Sync()
}

// initAll initialize all components
func initAll() *app {
	flag.Parse()
	conf.SystemEnvironmentEnum = conf.ParseEnvironment(ENV)

	if err := conf.InitConfig(); err != nil {
		logger.Fatalf(context.Background(), "Failed to initialize config: %v", err)
	}
	if level, ok := logger.ParseLogLevel(conf.Cfg.Log.Level); ok {
		logger.SetLevel(level)
	}
	ctx := logger.WithName(context.Background(), "init")
	logger.InfoKV(ctx, "Configuration loaded", "env", conf.SystemEnvironmentEnum, "port", conf.Cfg.Port)

	if err := initDatabase(); err != nil {
		logger.Fatalf(ctx, "Failed to initialize database: %v", err)
	}

	// Redis is optional, cache and pub/sub are skipped without it
	if err := database.InitRedis(); err != nil {
		logger.Warnf(ctx, "Redis initialization failed (cache will be disabled): %v", err)
	}

	stor, err := storage.NewStorage(conf.Cfg.Storage)
	if err != nil {
		logger.Fatalf(ctx, "Failed to initialize storage: %v", err)
	}
	logger.InfoKV(ctx, "Storage initialized", "type", conf.Cfg.Storage.Type)

	registry, err := packager_service.NewRegistry(conf.Cfg.Packager)
	if err != nil {
		logger.Fatalf(ctx, "Failed to initialize packagers: %v", err)
	}
	logger.InfoKV(ctx, "Packagers registered", "platforms", registry.Platforms())

	uploadService := upload_service.NewUploadService(database.DB, stor, conf.Cfg.Uploader)
	orchestrator := job_service.NewOrchestrator(conf.Cfg.Packager, job_service.Options{
		DB:           database.DB,
		Storage:      stor,
		Registry:     registry,
		Uploads:      uploadService,
		Fingerprints: fingerprint_service.NewFingerprintService(conf.Cfg.Fingerprint),
		Classifier:   classifier_service.NewClassifier(),
	})
	if err := orchestrator.Recover(ctx); err != nil {
		logger.Warnf(ctx, "Failed to recover interrupted jobs: %v", err)
	}

	router := controller.SetupRouter(controller.Services{
		Uploads:       uploadService,
		Orchestrator:  orchestrator,
		Registry:      registry,
		MaxChunkBytes: conf.Cfg.Uploader.MaxChunkSize,
	})

	return &app{
		srv: &http.Server{
			Addr:              ":" + conf.Cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		orchestrator: orchestrator,
		cleanup:      upload_service.NewCleanupProcessor(uploadService, conf.Cfg.Uploader.CleanupCron),
	}
}

// initDatabase initialize database based on configuration
func initDatabase() error {
	dbType := database.DBType(conf.Cfg.Database.Type)

	switch dbType {
	case database.DBTypeMySQL:
		return database.InitDatabase(database.DBTypeMySQL, &database.MySQLConfig{
			DSN:          conf.Cfg.Database.Dsn,
			MaxOpenConns: conf.Cfg.Database.MaxOpenConns,
			MaxIdleConns: conf.Cfg.Database.MaxIdleConns,
		})
	case database.DBTypePebble:
		return database.InitDatabase(database.DBTypePebble, &database.PebbleConfig{
			DataDir: conf.Cfg.Database.DataDir,
		})
	default:
		return database.InitDatabase(database.DBTypeMemory, nil)
	}
}

// startServer start HTTP server
func startServer(srv *http.Server) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf(context.Background(), "Failed to start server: %v", err)
	}
}

// waitForShutdown wait for shutdown signal
func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}

// shutdownServer gracefully shutdown server
func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf(ctx, "Server forced to shutdown: %v", err)
	}
}
