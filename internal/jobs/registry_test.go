package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/apperr"
	internalaws "github.com/imrishuroy/hope-orderflow/internal/aws"
	"github.com/imrishuroy/hope-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/money"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"go.uber.org/zap"
)

type handlerFixture struct {
	orders *orders.Store
	ledger *inventory.DynamoLedger
	sns    *awstest.FakeSNS
	cw     *awstest.FakeCloudWatch
	deps   Deps
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	fake := awstest.NewFakeDynamo(map[string]string{"orders": "order_id", "inventory": "id"})
	f := &handlerFixture{
		orders: orders.NewStore(fake, "orders"),
		ledger: inventory.NewDynamoLedger(fake, "inventory"),
		sns:    &awstest.FakeSNS{},
		cw:     &awstest.FakeCloudWatch{},
	}
	ctx := context.Background()
	_ = f.ledger.Put(ctx, &inventory.Item{ID: "a", Name: "Item A", Price: money.MustParse("10.00"), Quantity: 5})
	_ = f.ledger.Put(ctx, &inventory.Item{ID: "b", Name: "Item B", Price: money.MustParse("1.00"), Quantity: 1})
	err := f.orders.Create(ctx, &orders.Order{
		OrderID: "o1", UserID: "u1", Status: orders.StatusProcessing, TotalAmount: money.MustParse("32.00"),
		Items: []orders.LineItem{
			{ID: "l1", OrderID: "o1", InventoryItemID: "a", Quantity: 3, PriceAtPurchase: money.MustParse("10.00")},
			{ID: "l2", OrderID: "o1", InventoryItemID: "b", Quantity: 2, PriceAtPurchase: money.MustParse("1.00")},
		},
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	f.deps = Deps{
		Orders:    f.orders,
		Inventory: f.ledger,
		Notifier:  internalaws.NewNotifier(f.sns, "arn:aws:sns:us-east-1:000000000000:receipts"),
		Metrics:   internalaws.NewMetricsClient(f.cw, "Test", true),
		Log:       zap.NewNop(),
	}
	return f
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewDefaultRegistry(Deps{Log: zap.NewNop()})
	if _, err := r.Lookup(TypeSendReceipt); err != nil {
		t.Fatalf("send_receipt not registered: %v", err)
	}
	if _, err := r.Lookup(TypeInventorySync); err != nil {
		t.Fatalf("inventory_sync not registered: %v", err)
	}
	if _, err := r.Lookup("nope"); !errors.Is(err, apperr.ErrUnknownJobType) {
		t.Fatalf("expected unknown job type, got %v", err)
	}
}

func TestSendReceipt_PublishesReceipt(t *testing.T) {
	f := newHandlerFixture(t)
	h := SendReceipt(f.deps.Orders, f.deps.Notifier, f.deps.Log)

	if err := h(context.Background(), &Job{OrderID: "o1"}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if f.sns.Count() != 1 {
		t.Fatalf("expected one notification")
	}
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(*f.sns.Published[0].Message), &body); err != nil {
		t.Fatalf("receipt is not JSON: %v", err)
	}
	if body["order_id"] != "o1" || body["total_amount"] != "32.00" {
		t.Fatalf("unexpected receipt %v", body)
	}

	// logging only without a notifier
	if err := SendReceipt(f.deps.Orders, nil, zap.NewNop())(context.Background(), &Job{OrderID: "o1"}); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if err := h(context.Background(), &Job{OrderID: "missing"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInventorySync_DecrementsAndClamps(t *testing.T) {
	f := newHandlerFixture(t)
	h := InventorySync(f.deps.Orders, f.deps.Inventory, f.deps.Metrics, f.deps.Log)
	ctx := context.Background()

	if err := h(ctx, &Job{OrderID: "o1"}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	a, _ := f.ledger.Get(ctx, "a")
	b, _ := f.ledger.Get(ctx, "b")
	if a.Quantity != 2 {
		t.Fatalf("expected 2 of a, got %d", a.Quantity)
	}
	if b.Quantity != 0 {
		t.Fatalf("expected b clamped at 0, got %d", b.Quantity)
	}
	names := f.cw.Names()
	if len(names) != 1 || names[0] != internalaws.MetricInventoryOversold {
		t.Fatalf("expected one oversold metric, got %v", names)
	}
}

func TestWithDelay(t *testing.T) {
	called := false
	h := WithDelay(30*time.Millisecond, func(ctx context.Context, job *Job) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := h(ctx, &Job{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if called {
		t.Fatalf("handler must not run after cancellation")
	}

	start := time.Now()
	if err := h(context.Background(), &Job{}); err != nil || !called {
		t.Fatalf("expected handler to run, err=%v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("delay not applied")
	}
}
