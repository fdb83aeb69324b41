package orders

import (
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/money"
)

// Order statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Order represents the item stored in the Orders DynamoDB table. Line items live inside
// the order item so both are written by a single PutItem.
type Order struct {
	OrderID         string      `dynamodbav:"order_id" json:"id"` // PK
	UserID          string      `dynamodbav:"user_id" json:"user_id"`
	TotalAmount     money.Money `dynamodbav:"total_amount" json:"total_amount"`
	Status          string      `dynamodbav:"status" json:"status"` // pending | processing | completed | cancelled
	ShippingAddress string      `dynamodbav:"shipping_address,omitempty" json:"shipping_address,omitempty"`
	Items           []LineItem  `dynamodbav:"items" json:"items"`
	CreatedAt       time.Time   `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `dynamodbav:"updated_at" json:"updated_at"`
}

// LineItem is a quantity of one inventory item with its price captured at order time.
type LineItem struct {
	ID              string      `dynamodbav:"id" json:"id"`
	OrderID         string      `dynamodbav:"order_id" json:"order_id"`
	InventoryItemID string      `dynamodbav:"inventory_item_id" json:"inventory_item_id"`
	Quantity        int         `dynamodbav:"quantity" json:"quantity"`
	PriceAtPurchase money.Money `dynamodbav:"price_at_purchase" json:"price_at_purchase"`
}

// Line is one requested (item, quantity) pair.
type Line struct {
	InventoryItemID string
	Quantity        int
}
