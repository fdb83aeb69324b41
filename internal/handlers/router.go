// Package handlers exposes the order, job and health endpoints over gin.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/hope-orderflow/internal/apperr"
	"github.com/imrishuroy/hope-orderflow/internal/auth"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"github.com/imrishuroy/hope-orderflow/internal/idempotency"
	"github.com/imrishuroy/hope-orderflow/internal/jobs"
	"github.com/imrishuroy/hope-orderflow/internal/logger"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"go.uber.org/zap"
)

// OrderService creates and reads orders. *orders.Creator satisfies it.
type OrderService interface {
	Create(ctx context.Context, userID string, lines []orders.Line, shippingAddress string) (*orders.Order, error)
	Get(ctx context.Context, userID, orderID string) (*orders.Order, error)
}

// JobService enqueues jobs and reports their status. *jobs.Service satisfies it.
type JobService interface {
	Enqueue(ctx context.Context, t jobs.Type, orderID string, metadata map[string]string) (string, error)
	Status(ctx context.Context, jobID string) (*jobs.Job, error)
	Running() bool
}

// Pinger checks a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config groups dependencies for the router.
type Config struct {
	Orders      OrderService
	Jobs        JobService
	Idempotency *idempotency.Store
	// Stores are pinged by the health check.
	Stores             []Pinger
	JWTSecret          []byte
	RateLimitPerMinute int
	Metrics            *aws.MetricsClient
	Log                *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger(cfg.Log))

	RegisterOrdersRoutes(r, cfg)
	RegisterJobsRoutes(r, cfg)
	RegisterHealthRoutes(r, cfg)
	return r
}

// writeError renders err with its taxonomy status. Server errors are also attached to the
// context so the idempotency middleware does not record them.
func writeError(c *gin.Context, err error) {
	ae := apperr.As(err)
	if ae.Code >= 500 {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(ae.Code, ae)
}

func requireAuth(cfg Config) gin.HandlerFunc {
	return auth.Middleware(cfg.JWTSecret)
}
