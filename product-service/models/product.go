package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidMovement     = errors.New("invalid stock movement")
	ErrDuplicateMovement   = errors.New("stock movement already applied")
	ErrNothingToCompensate = errors.New("no order reduction to compensate")
	ErrInvalidProduct      = errors.New("invalid product")
)

// InsufficientStockError reports a reduction that would take the balance
// below zero. It matches ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Product struct {
	ID             int64           `json:"id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	StockAvailable int             `json:"stock_available"`
	StockMinimum   int             `json:"stock_minimum"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LowStock reports whether the balance has reached the reorder threshold.
func (p *Product) LowStock() bool {
	return p.StockAvailable <= p.StockMinimum
}

type CreateProductRequest struct {
	SKU            string          `json:"sku" binding:"required"`
	Name           string          `json:"name" binding:"required"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	StockAvailable int             `json:"stock_available" binding:"gte=0"`
	StockMinimum   int             `json:"stock_minimum" binding:"gte=0"`
}

func (r *CreateProductRequest) Validate() error {
	if !r.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidProduct)
	}
	return nil
}

// StockUpdateRequest is a manual stock change booked through the ledger.
// Quantity is signed for MANUAL_ADJUSTMENT and a magnitude otherwise.
type StockUpdateRequest struct {
	MovementType MovementType `json:"movement_type" binding:"required"`
	Quantity     int          `json:"quantity" binding:"required"`
	Reason       string       `json:"reason" binding:"max=255"`
}
