package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microcommerce/stock-saga/catalog"
	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/order-service/models"
	"github.com/microcommerce/stock-saga/order-service/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	Get(ctx context.Context, orderID int64) (*models.Order, error)
	FindCart(ctx context.Context, clientID int64) (*models.Order, error)
	CreateCart(ctx context.Context, cart *models.Order) (*models.Order, error)
	ListByClient(ctx context.Context, clientID int64, limit, offset int) ([]*models.Order, error)
	Update(ctx context.Context, orderID int64, fn repository.MutateFunc) (*models.Order, error)
}

type ClientDirectory interface {
	Get(ctx context.Context, clientID int64) (*models.ClientProfile, error)
	Upsert(ctx context.Context, p *models.ClientProfile) error
	Deactivate(ctx context.Context, clientID int64, at time.Time) error
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (*catalog.Product, error)
}

type OrderService struct {
	orders       OrderRepository
	clients      ClientDirectory
	catalog      ProductCatalog
	shippingCost decimal.Decimal
	now          func() time.Time
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewOrderService(
	orders OrderRepository,
	clients ClientDirectory,
	productCatalog ProductCatalog,
	shippingCost decimal.Decimal,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:       orders,
		clients:      clients,
		catalog:      productCatalog,
		shippingCost: shippingCost,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
		tracer:       otel.Tracer("order-service"),
	}
}

// GetOrCreateCart returns the client's open cart, creating an empty one on
// first access.
func (s *OrderService) GetOrCreateCart(ctx context.Context, clientID int64) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "GetOrCreateCart")
	defer span.End()
	span.SetAttributes(attribute.Int64("client.id", clientID))

	cart, err := s.orders.FindCart(ctx, clientID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, models.ErrCartNotFound) {
		span.RecordError(err)
		return nil, err
	}

	// The cart may be validated between insert and read; a fresh attempt
	// then creates the next one.
	for attempt := 0; attempt < 3; attempt++ {
		cart, err = s.orders.CreateCart(ctx, models.NewCart(clientID, s.shippingCost, s.now()))
		if !errors.Is(err, models.ErrCartNotFound) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("Cart ready",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("client_id", clientID),
		zap.Int64("order_id", cart.ID),
	)
	return cart, nil
}

func (s *OrderService) AddItem(ctx context.Context, clientID, productID int64, qty int) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "AddItem")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("client.id", clientID),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", qty),
	)

	if qty < 1 {
		return nil, models.ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: product %d is inactive", models.ErrProductUnavailable, productID)
	}

	cart, err := s.GetOrCreateCart(ctx, clientID)
	if err != nil {
		return nil, err
	}

	snapshot := models.ProductSnapshot{
		ProductID: product.ID,
		Name:      product.Name,
		SKU:       product.SKU,
		UnitPrice: product.Price,
	}
	order, err := s.orders.Update(ctx, cart.ID, func(o *models.Order) ([]events.Envelope, error) {
		if err := o.AddItem(snapshot, qty, s.now()); err != nil {
			return nil, err
		}
		return []events.Envelope{o.Event(events.ItemAdded)}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("Item added to cart",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("order_id", order.ID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
	)
	return order, nil
}

func (s *OrderService) RemoveItem(ctx context.Context, clientID, productID int64) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "RemoveItem")
	defer span.End()

	cart, err := s.orders.FindCart(ctx, clientID)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Update(ctx, cart.ID, func(o *models.Order) ([]events.Envelope, error) {
		if err := o.RemoveItem(productID, s.now()); err != nil {
			return nil, err
		}
		return []events.Envelope{o.Event(events.ItemRemoved)}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("Item removed from cart",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("order_id", order.ID),
		zap.Int64("product_id", productID),
	)
	return order, nil
}

// Validate confirms the cart: it becomes PENDING and ORDER_CONFIRMED is
// emitted for the stock reconciler.
func (s *OrderService) Validate(ctx context.Context, orderID int64, req models.ValidateOrderRequest) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ValidateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	profile, err := s.clients.Get(ctx, current.ClientID)
	switch {
	case errors.Is(err, repository.ErrClientNotFound):
		s.logger.Warn("No client profile to snapshot",
			zap.String("trace_id", middleware.TraceID(ctx)),
			zap.Int64("client_id", current.ClientID),
		)
		profile = nil
	case err != nil:
		span.RecordError(err)
		return nil, err
	}

	order, err := s.orders.Update(ctx, orderID, func(o *models.Order) ([]events.Envelope, error) {
		if req.ClientComment != "" {
			o.ClientComment = req.ClientComment
		}
		if err := o.Validate(req.ShippingAddress, req.BillingAddress, profile, s.now()); err != nil {
			return nil, err
		}
		return []events.Envelope{o.Event(events.OrderConfirmed)}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("Order validated",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

func (s *OrderService) MarkPaid(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.transition(ctx, "MarkOrderPaid", orderID, events.OrderUpdated, func(o *models.Order) error {
		return o.MarkPaid(s.now())
	})
}

func (s *OrderService) Ship(ctx context.Context, orderID int64, carrier, trackingNumber string) (*models.Order, error) {
	return s.transition(ctx, "ShipOrder", orderID, events.OrderUpdated, func(o *models.Order) error {
		return o.Ship(carrier, trackingNumber, s.now())
	})
}

func (s *OrderService) Deliver(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.transition(ctx, "DeliverOrder", orderID, events.OrderUpdated, func(o *models.Order) error {
		return o.Deliver(s.now())
	})
}

// Cancel emits ORDER_CANCELLED, which the stock reconciler compensates.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	return s.transition(ctx, "CancelOrder", orderID, events.OrderCancelled, func(o *models.Order) error {
		return o.Cancel(reason, s.now())
	})
}

func (s *OrderService) transition(ctx context.Context, name string, orderID int64, eventType events.Type, apply func(o *models.Order) error) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err := s.orders.Update(ctx, orderID, func(o *models.Order) ([]events.Envelope, error) {
		if err := apply(o); err != nil {
			return nil, err
		}
		return []events.Envelope{o.Event(eventType)}, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("Order status changed",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "GetOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	return s.orders.Get(ctx, orderID)
}

func (s *OrderService) ListClientOrders(ctx context.Context, clientID int64, limit, offset int) ([]*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ListClientOrders")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.orders.ListByClient(ctx, clientID, limit, offset)
}
