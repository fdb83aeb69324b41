package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/hope-orderflow/internal/auth"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"github.com/imrishuroy/hope-orderflow/internal/idempotency"
	"github.com/imrishuroy/hope-orderflow/internal/jobs"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"github.com/imrishuroy/hope-orderflow/internal/validation"
	"go.uber.org/zap"
)

// jobRefs holds the job ids created for an order. An empty id means the job row could
// not be recorded.
type jobRefs struct {
	Receipt       string `json:"receipt"`
	InventorySync string `json:"inventory_sync"`
}

type createOrderResponse struct {
	*orders.Order
	Jobs jobRefs `json:"jobs"`
}

type ordersHandler struct {
	orders   OrderService
	jobs     JobService
	validate *validatorv10.Validate
	metrics  *aws.MetricsClient
	log      *zap.Logger
}

// RegisterOrdersRoutes registers routes for order API. Creation runs behind auth, then
// idempotency, then the rate limiter, so replays never spend rate budget.
func RegisterOrdersRoutes(r *gin.Engine, cfg Config) {
	h := &ordersHandler{
		orders:   cfg.Orders,
		jobs:     cfg.Jobs,
		validate: validation.New(),
		metrics:  cfg.Metrics,
		log:      cfg.Log,
	}
	limiter := auth.NewRateLimiter(cfg.RateLimitPerMinute)

	g := r.Group("/orders", requireAuth(cfg))
	g.POST("",
		idempotency.Middleware(cfg.Idempotency, cfg.Log, cfg.Metrics),
		limiter.Middleware(),
		h.create,
	)
	g.GET("/:id", h.get)
}

func (h *ordersHandler) create(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		writeError(c, err)
		return
	}

	userID := auth.UserID(c)
	order, err := h.orders.Create(ctx, userID, req.Lines(), req.ShippingAddress)
	if err != nil {
		writeError(c, err)
		return
	}

	// The order is committed; from here on job recording failures do not fail the request.
	meta := map[string]string{"user_id": userID}
	refs := jobRefs{
		Receipt:       h.enqueue(c, jobs.TypeSendReceipt, order.OrderID, meta),
		InventorySync: h.enqueue(c, jobs.TypeInventorySync, order.OrderID, meta),
	}

	_ = h.metrics.RecordCount(ctx, aws.MetricOrdersCreated, nil)
	h.log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", userID),
		zap.String("total_amount", order.TotalAmount.String()),
		zap.Int("lines", len(order.Items)))

	c.Header("Location", "/orders/"+order.OrderID)
	c.JSON(http.StatusCreated, createOrderResponse{
		Order: order,
		Jobs:  refs,
	})
}

func (h *ordersHandler) enqueue(c *gin.Context, t jobs.Type, orderID string, meta map[string]string) string {
	id, err := h.jobs.Enqueue(c.Request.Context(), t, orderID, meta)
	if err != nil {
		h.log.Error("job not recorded for committed order",
			zap.String("order_id", orderID), zap.String("job_type", string(t)), zap.Error(err))
		return ""
	}
	return id
}

func (h *ordersHandler) get(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
