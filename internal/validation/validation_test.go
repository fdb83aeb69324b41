package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/hope-orderflow/internal/apperr"
)

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		Items: []OrderItem{
			{InventoryItemID: "item-1", Quantity: 2},
			{InventoryItemID: "item-2", Quantity: 1},
		},
		ShippingAddress: "1 Main St",
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	lines := req.Lines()
	if len(lines) != 2 || lines[0].InventoryItemID != "item-1" || lines[1].Quantity != 1 {
		t.Fatalf("unexpected lines %+v", lines)
	}
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()

	if err := v.Struct(CreateOrderRequest{Items: []OrderItem{}}); err == nil {
		t.Fatal("expected validation error for empty items, got nil")
	}
	if err := v.Struct(CreateOrderRequest{Items: []OrderItem{{InventoryItemID: "a", Quantity: 0}}}); err == nil {
		t.Fatal("expected validation error for zero quantity, got nil")
	}
	if err := v.Struct(CreateOrderRequest{Items: []OrderItem{{Quantity: 1}}}); err == nil {
		t.Fatal("expected validation error for missing item id, got nil")
	}
}

func TestCreateOrderRequest_BlankAddress(t *testing.T) {
	v := New()
	req := CreateOrderRequest{Items: []OrderItem{{InventoryItemID: "a", Quantity: 1}}, ShippingAddress: "   "}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for blank address, got nil")
	}
}

func bind(body string) error {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateOrderRequest
	return BindAndValidate(c, &req, New())
}

func TestBindAndValidate(t *testing.T) {
	if err := bind(`{"items":[{"inventory_item_id":"a","quantity":3}]}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := bind(`{"items":[{"inventory_item_id":"a","quantity":0}]}`)
	var ae *apperr.Error
	if !errors.As(err, &ae) || !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ae.Details["items[0].quantity"] != "required" {
		t.Fatalf("unexpected details %v", ae.Details)
	}

	err = bind(`{"items":[]}`)
	if !errors.As(err, &ae) || ae.Details["items"] != "must contain at least 1 item(s)" {
		t.Fatalf("unexpected error %v", err)
	}

	if err := bind(`{"items":`); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for malformed JSON, got %v", err)
	}
}
