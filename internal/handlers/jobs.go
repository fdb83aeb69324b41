package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterJobsRoutes registers GET /jobs/:id.
func RegisterJobsRoutes(r *gin.Engine, cfg Config) {
	r.GET("/jobs/:id", func(c *gin.Context) {
		job, err := cfg.Jobs.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	})
}
