package controller

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bundle-packager/controller/handler"
	"bundle-packager/controller/respond"
	"bundle-packager/service/job_service"
	"bundle-packager/service/packager_service"
	"bundle-packager/service/upload_service"
)

// Services everything the HTTP layer serves
type Services struct {
	Uploads       *upload_service.UploadService
	Orchestrator  *job_service.Orchestrator
	Registry      *packager_service.Registry
	MaxChunkBytes int64
}

// SetupRouter setup packaging service router
func SetupRouter(s Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Content-Encoding", "Accept-Encoding", "Authorization", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * 3600, // 12 hours
	}))

	r.Use(respond.TimingMiddleware())

	uploadHandler := handler.NewUploadHandler(s.Uploads, s.MaxChunkBytes)
	packageHandler := handler.NewPackageHandler(s.Orchestrator, s.Registry)
	progressHandler := handler.NewProgressHandler(s.Orchestrator)

	v1 := r.Group("/api/v1")
	{
		upload := v1.Group("/upload")
		{
			upload.POST("/start", uploadHandler.StartUpload)
			upload.POST("/chunk", uploadHandler.UploadChunk)
			upload.POST("/finalize", uploadHandler.FinalizeUpload)
			upload.GET("/:sessionId", uploadHandler.GetUpload)
			upload.DELETE("/:sessionId", uploadHandler.AbandonUpload)
		}

		v1.POST("/package", packageHandler.Package)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", packageHandler.ListJobs)
			jobs.GET("/:id", packageHandler.GetJob)
			jobs.POST("/:id/cancel", packageHandler.CancelJob)
			jobs.POST("/:id/retry", packageHandler.RetryJob)
			jobs.DELETE("/:id", packageHandler.DeleteJob)
			jobs.GET("/:id/artifacts/:platform", packageHandler.DownloadArtifact)
			jobs.GET("/:id/events", progressHandler.Stream)
		}

		v1.GET("/packagers/health", packageHandler.PackagersHealth)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "packager",
		})
	})

	return r
}
