package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/apperr"
	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/money"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"go.uber.org/zap"
)

// Handler performs one job. A returned error marks the job failed.
type Handler func(ctx context.Context, job *Job) error

// Registry maps job types to handlers.
type Registry struct {
	handlers map[Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[Type]Handler{}}
}

// Register installs h for t, replacing any previous handler.
func (r *Registry) Register(t Type, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the handler for t or an UnknownJobType error.
func (r *Registry) Lookup(t Type) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, apperr.UnknownJobType(string(t))
	}
	return h, nil
}

// Notifier delivers a receipt. *aws.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, subject string, message []byte) error
}

// Deps are the collaborators of the built-in handlers.
type Deps struct {
	Orders    orders.Repository
	Inventory inventory.Ledger
	// Notifier may be nil, in which case receipts are only logged.
	Notifier Notifier
	Metrics  *aws.MetricsClient
	Log      *zap.Logger
	// SimulatedWork is slept before each handler runs.
	SimulatedWork time.Duration
}

// NewDefaultRegistry registers send_receipt and inventory_sync.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(TypeSendReceipt, WithDelay(d.SimulatedWork, SendReceipt(d.Orders, d.Notifier, d.Log)))
	r.Register(TypeInventorySync, WithDelay(d.SimulatedWork, InventorySync(d.Orders, d.Inventory, d.Metrics, d.Log)))
	return r
}

// WithDelay waits d (or until ctx is done) before calling h.
func WithDelay(d time.Duration, h Handler) Handler {
	if d <= 0 {
		return h
	}
	return func(ctx context.Context, job *Job) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		return h(ctx, job)
	}
}

type receipt struct {
	OrderID     string            `json:"order_id"`
	UserID      string            `json:"user_id"`
	TotalAmount money.Money       `json:"total_amount"`
	Items       []orders.LineItem `json:"items"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SendReceipt publishes the order's receipt. Re-running it sends the receipt again.
func SendReceipt(repo orders.Repository, notifier Notifier, log *zap.Logger) Handler {
	return func(ctx context.Context, job *Job) error {
		o, err := loadOrder(ctx, repo, job.OrderID)
		if err != nil {
			return err
		}

		body, err := json.Marshal(receipt{
			OrderID:     o.OrderID,
			UserID:      o.UserID,
			TotalAmount: o.TotalAmount,
			Items:       o.Items,
			CreatedAt:   o.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal receipt: %w", err)
		}

		if notifier == nil {
			log.Info("receipt sent", zap.String("order_id", o.OrderID), zap.String("user_id", o.UserID),
				zap.String("total_amount", o.TotalAmount.String()))
			return nil
		}
		return notifier.Notify(ctx, "Order receipt "+o.OrderID, body)
	}
}

// InventorySync decrements stock for each line of the order. Stock short of the ordered
// amount is clamped to zero, logged and counted rather than failing the job.
func InventorySync(repo orders.Repository, ledger inventory.Ledger, metrics *aws.MetricsClient, log *zap.Logger) Handler {
	return func(ctx context.Context, job *Job) error {
		o, err := loadOrder(ctx, repo, job.OrderID)
		if err != nil {
			return err
		}

		for _, li := range o.Items {
			clamped, err := ledger.Decrement(ctx, li.InventoryItemID, li.Quantity)
			if err != nil {
				return fmt.Errorf("sync item %s: %w", li.InventoryItemID, err)
			}
			if clamped {
				log.Warn("inventory oversold, clamped at zero",
					zap.String("order_id", o.OrderID),
					zap.String("inventory_item_id", li.InventoryItemID),
					zap.Int("quantity", li.Quantity))
				_ = metrics.RecordCount(ctx, aws.MetricInventoryOversold, map[string]string{"inventory_item_id": li.InventoryItemID})
			}
		}
		return nil
	}
}

func loadOrder(ctx context.Context, repo orders.Repository, orderID string) (*orders.Order, error) {
	o, err := repo.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o == nil {
		return nil, apperr.NotFound("Order %s not found", orderID)
	}
	return o, nil
}
