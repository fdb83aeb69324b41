package app

import (
	"context"
	"fmt"

	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/money"
)

// Catalogue is the starter inventory. Items are keyed by SKU so reseeding is a no-op.
var Catalogue = []inventory.Item{
	{ID: "FB-001", SKU: "FB-001", Name: "Food Box", Description: "Emergency food supply box", Price: money.MustParse("25.00"), Quantity: 100, Category: "food"},
	{ID: "BL-001", SKU: "BL-001", Name: "Blanket", Description: "Warm winter blanket", Price: money.MustParse("15.00"), Quantity: 50, Category: "clothing"},
	{ID: "HK-001", SKU: "HK-001", Name: "Hygiene Kit", Description: "Personal hygiene essentials", Price: money.MustParse("10.00"), Quantity: 75, Category: "hygiene"},
	{ID: "SS-001", SKU: "SS-001", Name: "School Supplies", Description: "Backpack with school supplies", Price: money.MustParse("30.00"), Quantity: 40, Category: "education"},
}

// Seed writes every Catalogue item that is not already present.
func Seed(ctx context.Context, ledger inventory.Ledger) error {
	for i := range Catalogue {
		it := Catalogue[i]
		existing, err := ledger.Get(ctx, it.ID)
		if err != nil {
			return fmt.Errorf("seed lookup %s: %w", it.ID, err)
		}
		if existing != nil {
			continue
		}
		if err := ledger.Put(ctx, &it); err != nil {
			return fmt.Errorf("seed %s: %w", it.ID, err)
		}
	}
	return nil
}
