// Package inventory is the stock ledger read at order time and decremented by the
// inventory_sync job. Two backends exist: DynamoDB and Postgres (via gorm).
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/money"
)

// ErrItemNotFound is returned by Decrement for an unknown item id.
var ErrItemNotFound = errors.New("inventory item not found")

// Item is a stock-keeping unit with its unit price and available quantity.
type Item struct {
	ID          string      `dynamodbav:"id" json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name        string      `dynamodbav:"name" json:"name" gorm:"type:varchar(100);not null"`
	Description string      `dynamodbav:"description,omitempty" json:"description,omitempty" gorm:"type:text"`
	Price       money.Money `dynamodbav:"price" json:"price" gorm:"type:numeric(10,2);not null"`
	Quantity    int         `dynamodbav:"quantity" json:"quantity" gorm:"not null;default:0"`
	Category    string      `dynamodbav:"category" json:"category" gorm:"type:varchar(50);not null"`
	SKU         string      `dynamodbav:"sku" json:"sku" gorm:"type:varchar(50);uniqueIndex"`
	CreatedAt   time.Time   `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `dynamodbav:"updated_at" json:"updated_at"`
}

// TableName sets the SQL table name.
func (Item) TableName() string { return "inventory_items" }

// Ledger is durable per-item stock.
type Ledger interface {
	// Get returns (nil, nil) when the item does not exist.
	Get(ctx context.Context, id string) (*Item, error)
	Put(ctx context.Context, item *Item) error
	// Decrement lowers the available quantity by qty, clamping at zero. clamped reports
	// whether fewer than qty units were on hand.
	Decrement(ctx context.Context, id string, qty int) (clamped bool, err error)
	Ping(ctx context.Context) error
}
