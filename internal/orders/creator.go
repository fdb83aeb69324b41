package orders

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/imrishuroy/hope-orderflow/internal/apperr"
	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/money"
)

// Creator validates requested lines against the inventory ledger and persists orders.
// Stock is checked, not reserved: the decrement happens later in the inventory_sync job.
type Creator struct {
	ledger inventory.Ledger
	store  Repository
	newID  func() string
}

// NewCreator returns a Creator.
func NewCreator(ledger inventory.Ledger, store Repository) *Creator {
	return &Creator{
		ledger: ledger,
		store:  store,
		newID:  func() string { return uuid.New().String() },
	}
}

// Create builds and persists an order for userID. Nothing is written unless every line
// resolves to an item with enough recorded stock.
func (c *Creator) Create(ctx context.Context, userID string, lines []Line, shippingAddress string) (*Order, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	orderID := c.newID()
	order := &Order{
		OrderID:         orderID,
		UserID:          userID,
		Status:          StatusProcessing,
		ShippingAddress: shippingAddress,
		TotalAmount:     money.Zero,
		Items:           make([]LineItem, 0, len(lines)),
	}

	items := make(map[string]*inventory.Item, len(lines))
	requested := make(map[string]int, len(lines))
	for _, l := range lines {
		it, ok := items[l.InventoryItemID]
		if !ok {
			var err error
			it, err = c.ledger.Get(ctx, l.InventoryItemID)
			if err != nil {
				return nil, apperr.Persistence("Failed to load inventory item", err)
			}
			if it == nil {
				return nil, apperr.NotFound("Inventory item %s not found", l.InventoryItemID)
			}
			items[l.InventoryItemID] = it
		}

		requested[it.ID] += l.Quantity
		if requested[it.ID] > it.Quantity {
			return nil, apperr.InsufficientQuantity("Insufficient quantity for item %s", it.Name)
		}

		order.Items = append(order.Items, LineItem{
			ID:              c.newID(),
			OrderID:         orderID,
			InventoryItemID: it.ID,
			Quantity:        l.Quantity,
			PriceAtPurchase: it.Price,
		})
		order.TotalAmount = order.TotalAmount.Add(it.Price.Mul(l.Quantity))
	}

	if err := c.store.Create(ctx, order); err != nil {
		return nil, apperr.Persistence("Failed to create order", err)
	}
	return order, nil
}

// Get returns userID's order. Orders of other users are reported as not found.
func (c *Creator) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Persistence("Failed to load order", err)
	}
	if o == nil || o.UserID != userID {
		return nil, apperr.NotFound("Order %s not found", orderID)
	}
	return o, nil
}

func validateLines(lines []Line) error {
	if len(lines) == 0 {
		return apperr.Validation("Order must contain at least one item", map[string]string{"items": "required"})
	}
	details := map[string]string{}
	for i, l := range lines {
		field := "items[" + strconv.Itoa(i) + "]"
		switch {
		case l.InventoryItemID == "":
			details[field+".inventory_item_id"] = "required"
		case l.Quantity < 1:
			details[field+".quantity"] = "must be at least 1"
		}
	}
	if len(details) > 0 {
		return apperr.Validation("Invalid order items", details)
	}
	return nil
}
