package models

import (
	"fmt"
	"time"
)

type MovementType string

const (
	MovementOrderReduction    MovementType = "ORDER_REDUCTION"
	MovementOrderCancellation MovementType = "ORDER_CANCELLATION"
	MovementManualAdjustment  MovementType = "MANUAL_ADJUSTMENT"
	MovementInbound           MovementType = "INBOUND"
	MovementOutbound          MovementType = "OUTBOUND"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementOrderReduction, MovementOrderCancellation, MovementManualAdjustment, MovementInbound, MovementOutbound:
		return true
	}
	return false
}

// OrderDriven reports whether movements of this type must carry an order id.
func (t MovementType) OrderDriven() bool {
	return t == MovementOrderReduction || t == MovementOrderCancellation
}

// CheckQuantity enforces the sign rule of the movement type on a signed quantity.
func (t MovementType) CheckQuantity(quantity int) error {
	switch t {
	case MovementOrderReduction, MovementOutbound:
		if quantity >= 0 {
			return fmt.Errorf("%w: %s requires a negative quantity, got %d", ErrInvalidMovement, t, quantity)
		}
	case MovementOrderCancellation, MovementInbound:
		if quantity <= 0 {
			return fmt.Errorf("%w: %s requires a positive quantity, got %d", ErrInvalidMovement, t, quantity)
		}
	case MovementManualAdjustment:
		if quantity == 0 {
			return fmt.Errorf("%w: %s requires a non-zero quantity", ErrInvalidMovement, t)
		}
	default:
		return fmt.Errorf("%w: unknown movement type %q", ErrInvalidMovement, t)
	}
	return nil
}

// SignedQuantity turns a manual request quantity into the signed quantity
// the ledger books. INBOUND and OUTBOUND take a magnitude.
func (t MovementType) SignedQuantity(quantity int) int {
	if quantity < 0 {
		quantity = -quantity
	}
	switch t {
	case MovementOrderReduction, MovementOutbound:
		return -quantity
	}
	return quantity
}

// MovementRequest asks the ledger for one balance change.
type MovementRequest struct {
	ProductID int64
	Type      MovementType
	Quantity  int
	OrderID   *int64
	EventID   string
	Reason    string
}

func (r MovementRequest) Validate() error {
	if r.ProductID <= 0 {
		return fmt.Errorf("%w: product id %d", ErrInvalidMovement, r.ProductID)
	}
	if err := r.Type.CheckQuantity(r.Quantity); err != nil {
		return err
	}
	if r.Type.OrderDriven() && r.OrderID == nil {
		return fmt.Errorf("%w: %s requires an order id", ErrInvalidMovement, r.Type)
	}
	return nil
}

// StockMovement is one immutable ledger row.
type StockMovement struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	Type          MovementType `json:"movement_type"`
	Quantity      int          `json:"quantity"`
	PreviousStock int          `json:"previous_stock"`
	NewStock      int          `json:"new_stock"`
	OrderID       *int64       `json:"order_id,omitempty"`
	EventID       string       `json:"event_id,omitempty"`
	Reason        string       `json:"reason"`
	CreatedAt     time.Time    `json:"created_at"`
}

// LedgerReport is the outcome of replaying a product's movement chain.
type LedgerReport struct {
	ProductID      int64  `json:"product_id"`
	Movements      int    `json:"movements"`
	StockAvailable int    `json:"stock_available"`
	ReplayedStock  int    `json:"replayed_stock"`
	Consistent     bool   `json:"consistent"`
	BrokenAt       *int64 `json:"broken_at,omitempty"`
}
