package models

import (
	"errors"
	"testing"
)

func TestCheckQuantitySignRules(t *testing.T) {
	tests := []struct {
		movementType MovementType
		quantity     int
		valid        bool
	}{
		{MovementOrderReduction, -3, true},
		{MovementOrderReduction, 3, false},
		{MovementOutbound, -1, true},
		{MovementOutbound, 0, false},
		{MovementOrderCancellation, 3, true},
		{MovementOrderCancellation, -3, false},
		{MovementInbound, 10, true},
		{MovementInbound, -10, false},
		{MovementManualAdjustment, -2, true},
		{MovementManualAdjustment, 2, true},
		{MovementManualAdjustment, 0, false},
		{"RESERVATION", 1, false},
	}

	for _, tt := range tests {
		err := tt.movementType.CheckQuantity(tt.quantity)
		if tt.valid && err != nil {
			t.Errorf("%s %d: expected valid, got %v", tt.movementType, tt.quantity, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidMovement) {
			t.Errorf("%s %d: expected ErrInvalidMovement, got %v", tt.movementType, tt.quantity, err)
		}
	}
}

func TestOrderDrivenMovementsNeedOrderID(t *testing.T) {
	orderID := int64(7)

	if err := (MovementRequest{ProductID: 1, Type: MovementOrderReduction, Quantity: -1}).Validate(); !errors.Is(err, ErrInvalidMovement) {
		t.Errorf("Expected ErrInvalidMovement without order id, got %v", err)
	}
	if err := (MovementRequest{ProductID: 1, Type: MovementOrderReduction, Quantity: -1, OrderID: &orderID}).Validate(); err != nil {
		t.Errorf("Expected valid request, got %v", err)
	}
	if err := (MovementRequest{ProductID: 1, Type: MovementInbound, Quantity: 5}).Validate(); err != nil {
		t.Errorf("Expected manual inbound without order id to be valid, got %v", err)
	}
}

func TestSignedQuantity(t *testing.T) {
	if got := MovementOutbound.SignedQuantity(4); got != -4 {
		t.Errorf("Expected -4, got %d", got)
	}
	if got := MovementInbound.SignedQuantity(-4); got != 4 {
		t.Errorf("Expected 4, got %d", got)
	}
}

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	var err error = &InsufficientStockError{ProductID: 1, Available: 0, Requested: 1}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("Expected InsufficientStockError to match ErrInsufficientStock")
	}
}

func TestLowStock(t *testing.T) {
	p := Product{StockAvailable: 2, StockMinimum: 2}
	if !p.LowStock() {
		t.Error("Expected stock at the minimum to be low")
	}
	p.StockAvailable = 3
	if p.LowStock() {
		t.Error("Expected stock above the minimum not to be low")
	}
}
