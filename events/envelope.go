package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchemaVersion is stamped on every envelope this module publishes.
const SchemaVersion = "1.0"

var ErrUnsupportedVersion = errors.New("unsupported envelope version")

const (
	SourceOrders   = "orders-service"
	SourceProducts = "products-service"
	SourceClients  = "clients-service"
)

const (
	TopicOrderEvents   = "order-events"
	TopicProductEvents = "product-events"
	TopicClientEvents  = "client-events"
)

type Type string

const (
	OrderCreated   Type = "ORDER_CREATED"
	OrderUpdated   Type = "ORDER_UPDATED"
	OrderConfirmed Type = "ORDER_CONFIRMED"
	OrderCancelled Type = "ORDER_CANCELLED"
	ItemAdded      Type = "ITEM_ADDED"
	ItemRemoved    Type = "ITEM_REMOVED"

	StockUpdated      Type = "STOCK_UPDATED"
	StockReserved     Type = "STOCK_RESERVED"
	StockReleased     Type = "STOCK_RELEASED"
	StockInsufficient Type = "STOCK_INSUFFICIENT"
	StockError        Type = "STOCK_ERROR"

	ProductCreated Type = "PRODUCT_CREATED"
	ProductUpdated Type = "PRODUCT_UPDATED"
	ProductDeleted Type = "PRODUCT_DELETED"

	ClientCreated Type = "CLIENT_CREATED"
	ClientUpdated Type = "CLIENT_UPDATED"
	ClientDeleted Type = "CLIENT_DELETED"
)

// Envelope is the versioned unit published on the log. Exactly one of the
// payload pointers is set, depending on the event family.
type Envelope struct {
	EventID     string    `json:"eventId"`
	EventType   Type      `json:"eventType"`
	AggregateID int64     `json:"aggregateId"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Version     string    `json:"version"`

	Order  *OrderPayload  `json:"order,omitempty"`
	Stock  *StockPayload  `json:"stock,omitempty"`
	Client *ClientPayload `json:"client,omitempty"`
}

type OrderPayload struct {
	OrderNumber string          `json:"orderNumber"`
	ClientID    int64           `json:"clientId"`
	ClientEmail string          `json:"clientEmail,omitempty"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []Item          `json:"items"`
}

type Item struct {
	ProductID int64           `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type StockPayload struct {
	ProductID      int64  `json:"productId"`
	SKU            string `json:"sku,omitempty"`
	StockAvailable int    `json:"stockAvailable"`
	PreviousStock  int    `json:"previousStock"`
	NewStock       int    `json:"newStock"`
	Quantity       int    `json:"quantity,omitempty"`
	MovementType   string `json:"movementType,omitempty"`
	OrderID        *int64 `json:"orderId,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type ClientPayload struct {
	ClientID  int64  `json:"clientId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Active    bool   `json:"active"`
}

// New returns an envelope with a fresh event id and the current UTC time.
func New(eventType Type, aggregateID int64, source string) Envelope {
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Source:      source,
		Version:     SchemaVersion,
	}
}

// Key is the partition key. All events of one aggregate share it.
func (e Envelope) Key() string {
	return fmt.Sprintf("%d", e.AggregateID)
}

// Supported reports whether the envelope's major schema version is one this
// build understands.
func (e Envelope) Supported() bool {
	major, _, _ := strings.Cut(e.Version, ".")
	return major == "1"
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("envelope has no eventId")
	}
	if e.EventType == "" {
		return fmt.Errorf("envelope %s has no eventType", e.EventID)
	}
	if !e.Supported() {
		return fmt.Errorf("envelope %s version %q: %w", e.EventID, e.Version, ErrUnsupportedVersion)
	}
	return nil
}

func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a raw envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
