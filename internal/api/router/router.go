package router

import (
	"github.com/cuongbtq/doc-converter/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, maxMultipartMemory int64) *gin.Engine {
	r := gin.New()
	if maxMultipartMemory > 0 {
		r.MaxMultipartMemory = maxMultipartMemory
	}

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	conversionHandler := handler.NewConversionHandler(deps)

	v1 := r.Group("/api/v1")
	{
		conversions := v1.Group("/conversions")
		{
			// POST /api/v1/conversions - Submit a document, get a result or a job handle
			conversions.POST("", conversionHandler.SubmitConversion)

			// GET /api/v1/conversions/:content_hash - Read a stored conversion
			conversions.GET("/:content_hash", conversionHandler.GetConversion)
		}

		// GET /api/v1/jobs/:job_id - Poll a conversion job
		v1.GET("/jobs/:job_id", conversionHandler.GetJob)

		// GET /api/v1/queue/status - Count conversions waiting on a worker
		v1.GET("/queue/status", conversionHandler.QueueStatus)
	}

	return r
}
