package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/talktotext/talktotext-pro/internal/api/handler"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker func() error

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, checks map[string]HealthChecker) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		overall := "healthy"
		detail := gin.H{}
		for name, check := range checks {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				overall = "degraded"
				detail[name] = err.Error()
			} else {
				detail[name] = "ok"
			}
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"service": "talktotext-api",
			"checks":  detail,
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - submit a new processing job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs/:job_id/status - poll job progress
			jobs.GET("/:job_id/status", jobHandler.GetJobStatus)
		}

		history := v1.Group("/history")
		{
			// GET /api/v1/history - list the owner's jobs, newest first
			history.GET("", jobHandler.ListHistory)

			// DELETE /api/v1/history/:job_id - delete one terminal job
			history.DELETE("/:job_id", jobHandler.DeleteJob)

			// POST /api/v1/history/clear_all - delete all terminal jobs
			history.POST("/clear_all", jobHandler.ClearAll)
		}
	}

	return r
}
