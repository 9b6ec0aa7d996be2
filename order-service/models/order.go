package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcommerce/stock-saga/events"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCart      OrderStatus = "CART"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

var (
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrItemNotFound       = errors.New("item not found in order")
	ErrEmptyOrder         = errors.New("order has no items")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrInvalidAmount      = errors.New("amount must not be negative")
	ErrOrderNotFound      = errors.New("order not found")
	ErrCartNotFound       = errors.New("cart not found")
	ErrProductUnavailable = errors.New("product unavailable")
)

// transitions lists, per status, the statuses it may move to.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCart:      {OrderStatusPending, OrderStatusCancelled},
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusCancelled},
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order is the aggregate root. Items reference their order by id only.
type Order struct {
	ID              int64           `json:"id"`
	ClientID        int64           `json:"client_id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ClientEmail     string          `json:"client_email,omitempty"`
	ClientFirstName string          `json:"client_first_name,omitempty"`
	ClientLastName  string          `json:"client_last_name,omitempty"`
	ClientPhone     string          `json:"client_phone,omitempty"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	Carrier         string          `json:"carrier,omitempty"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	ClientComment   string          `json:"client_comment,omitempty"`
	InternalComment string          `json:"internal_comment,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ValidatedAt     *time.Time      `json:"validated_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	Items           []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductSKU  string          `json:"product_sku"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProductSnapshot is what an item captures from the catalog when added.
type ProductSnapshot struct {
	ProductID int64
	Name      string
	SKU       string
	UnitPrice decimal.Decimal
}

// GenerateOrderNumber returns ORD-<yyyyMMddHHmmss>-<8 upper hex>.
func GenerateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102150405"), suffix)
}

// NewCart returns an empty cart with zero totals plus the given shipping cost.
func NewCart(clientID int64, shippingCost decimal.Decimal, now time.Time) *Order {
	o := &Order{
		ClientID:       clientID,
		OrderNumber:    GenerateOrderNumber(now),
		Status:         OrderStatusCart,
		PaymentStatus:  PaymentStatusPending,
		Subtotal:       decimal.Zero,
		ShippingCost:   shippingCost,
		TaxAmount:      decimal.Zero,
		DiscountAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          []OrderItem{},
	}
	o.Recalculate()
	return o
}

func (o *Order) CanTransition(to OrderStatus) bool {
	for _, next := range transitions[o.Status] {
		if next == to {
			return true
		}
	}
	return false
}

func (o *Order) transition(to OrderStatus) error {
	if !o.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// Item returns the item for productID, or nil.
func (o *Order) Item(productID int64) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i]
		}
	}
	return nil
}

// AddItem appends a product or, if it is already present, increments its
// quantity. Name, sku and unit price of an existing line are kept.
func (o *Order) AddItem(p ProductSnapshot, qty int, now time.Time) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if o.Status != OrderStatusCart {
		return fmt.Errorf("%w: items can only change while in %s", ErrInvalidTransition, OrderStatusCart)
	}

	if item := o.Item(p.ProductID); item != nil {
		item.Quantity += qty
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	} else {
		o.Items = append(o.Items, OrderItem{
			OrderID:     o.ID,
			ProductID:   p.ProductID,
			ProductName: p.Name,
			ProductSKU:  p.SKU,
			UnitPrice:   p.UnitPrice,
			Quantity:    qty,
			Subtotal:    p.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
			CreatedAt:   now,
		})
	}

	o.Recalculate()
	o.UpdatedAt = now
	return nil
}

func (o *Order) RemoveItem(productID int64, now time.Time) error {
	if o.Status != OrderStatusCart {
		return fmt.Errorf("%w: items can only change while in %s", ErrInvalidTransition, OrderStatusCart)
	}
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			o.Recalculate()
			o.UpdatedAt = now
			return nil
		}
	}
	return ErrItemNotFound
}

// Recalculate recomputes every item subtotal and the order totals:
// total = subtotal + shipping + tax - discount.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for i := range o.Items {
		o.Items[i].Subtotal = o.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(o.Items[i].Quantity)))
		subtotal = subtotal.Add(o.Items[i].Subtotal)
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal.Add(o.ShippingCost).Add(o.TaxAmount).Sub(o.DiscountAmount)
}

func (o *Order) ApplyCharges(shipping, tax, discount decimal.Decimal) error {
	if shipping.IsNegative() || tax.IsNegative() || discount.IsNegative() {
		return ErrInvalidAmount
	}
	o.ShippingCost = shipping
	o.TaxAmount = tax
	o.DiscountAmount = discount
	o.Recalculate()
	return nil
}

// Validate moves a non-empty cart to PENDING, taking immutable copies of
// the addresses and of the client's contact details.
func (o *Order) Validate(shipping, billing *Address, client *ClientProfile, now time.Time) error {
	if o.Status != OrderStatusCart {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, OrderStatusPending)
	}
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	if err := o.transition(OrderStatusPending); err != nil {
		return err
	}

	if shipping != nil {
		addr := *shipping
		o.ShippingAddress = &addr
	}
	if billing != nil {
		addr := *billing
		o.BillingAddress = &addr
	} else if shipping != nil {
		addr := *shipping
		o.BillingAddress = &addr
	}
	if client != nil {
		o.ClientEmail = client.Email
		o.ClientFirstName = client.FirstName
		o.ClientLastName = client.LastName
		o.ClientPhone = client.Phone
	}

	o.ValidatedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *Order) MarkPaid(now time.Time) error {
	if err := o.transition(OrderStatusConfirmed); err != nil {
		return err
	}
	o.PaymentStatus = PaymentStatusPaid
	o.PaidAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *Order) Ship(carrier, trackingNumber string, now time.Time) error {
	if err := o.transition(OrderStatusShipped); err != nil {
		return err
	}
	o.Carrier = carrier
	o.TrackingNumber = trackingNumber
	o.ShippedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *Order) Deliver(now time.Time) error {
	if err := o.transition(OrderStatusDelivered); err != nil {
		return err
	}
	o.DeliveredAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *Order) Cancel(reason string, now time.Time) error {
	if err := o.transition(OrderStatusCancelled); err != nil {
		return err
	}
	if reason != "" {
		o.AppendInternalComment("cancelled: "+reason, now)
	}
	o.CancelledAt = &now
	o.UpdatedAt = now
	return nil
}

// AppendInternalComment adds a timestamped line to the staff-only notes.
func (o *Order) AppendInternalComment(note string, now time.Time) {
	line := fmt.Sprintf("[%s] %s", now.UTC().Format(time.RFC3339), note)
	if o.InternalComment == "" {
		o.InternalComment = line
	} else {
		o.InternalComment += "\n" + line
	}
	o.UpdatedAt = now
}

// Event builds the envelope describing the order's current state.
func (o *Order) Event(eventType events.Type) events.Envelope {
	env := events.New(eventType, o.ID, events.SourceOrders)
	items := make([]events.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.Item{
			ProductID: it.ProductID,
			SKU:       it.ProductSKU,
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	env.Order = &events.OrderPayload{
		OrderNumber: o.OrderNumber,
		ClientID:    o.ClientID,
		ClientEmail: o.ClientEmail,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		Items:       items,
	}
	return env
}
