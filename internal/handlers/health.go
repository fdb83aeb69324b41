package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Worker   string `json:"worker"`
}

// RegisterHealthRoutes registers GET /health. It always answers 200; degraded state is
// reported in the body.
func RegisterHealthRoutes(r *gin.Engine, cfg Config) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok", Worker: "running"}
		for _, s := range cfg.Stores {
			if err := s.Ping(ctx); err != nil {
				cfg.Log.Warn("health check: store unreachable", zap.Error(err))
				resp.Database = "error"
				break
			}
		}
		if !cfg.Jobs.Running() {
			resp.Worker = "stopped"
		}
		if resp.Database != "ok" || resp.Worker != "running" {
			resp.Status = "degraded"
		}
		c.JSON(http.StatusOK, resp)
	})
}
