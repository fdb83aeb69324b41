package validation

import "github.com/imrishuroy/hope-orderflow/internal/orders"

// OrderItem represents a single requested order line.
type OrderItem struct {
	InventoryItemID string `json:"inventory_item_id" validate:"required,max=64"`
	Quantity        int    `json:"quantity" validate:"required,min=1"` // must be >= 1
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	Items           []OrderItem `json:"items" validate:"required,min=1,dive"` // at least one item
	ShippingAddress string      `json:"shipping_address,omitempty" validate:"omitempty,max=500"`
}

// Lines converts the request items to order lines, preserving order.
func (r CreateOrderRequest) Lines() []orders.Line {
	lines := make([]orders.Line, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, orders.Line{InventoryItemID: it.InventoryItemID, Quantity: it.Quantity})
	}
	return lines
}
