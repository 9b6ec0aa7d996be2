package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/order-service/models"
	"go.uber.org/zap"
)

// HandleEvent routes an envelope consumed from the product or client topics.
// Unknown event types are ignored.
func (s *OrderService) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.StockInsufficient, events.StockError:
		return s.RecordStockFollowUp(ctx, env)
	case events.ClientCreated, events.ClientUpdated, events.ClientDeleted:
		return s.ApplyClientEvent(ctx, env)
	default:
		return nil
	}
}

// RecordStockFollowUp notes on the order that its stock could not be taken.
// The order itself is left as is; resolving it is up to staff.
func (s *OrderService) RecordStockFollowUp(ctx context.Context, env events.Envelope) error {
	ctx, span := s.tracer.Start(ctx, "RecordStockFollowUp")
	defer span.End()

	if env.Stock == nil || env.Stock.OrderID == nil {
		s.logger.Warn("Stock follow-up without order reference",
			zap.String("event_id", env.EventID),
			zap.String("event_type", string(env.EventType)),
		)
		return nil
	}
	stock := env.Stock
	orderID := *stock.OrderID

	note := fmt.Sprintf("%s for product %d (%s): requested %d, available %d",
		env.EventType, stock.ProductID, stock.SKU, stock.Quantity, stock.StockAvailable)
	if stock.Reason != "" {
		note += ": " + stock.Reason
	}
	note += " [event " + env.EventID + "]"

	_, err := s.orders.Update(ctx, orderID, func(o *models.Order) ([]events.Envelope, error) {
		// redelivered follow-ups are noted once
		if strings.Contains(o.InternalComment, env.EventID) {
			return nil, nil
		}
		o.AppendInternalComment(note, s.now())
		return nil, nil
	})
	if errors.Is(err, models.ErrOrderNotFound) {
		s.logger.Warn("Stock follow-up for unknown order",
			zap.Int64("order_id", orderID),
			zap.String("event_id", env.EventID),
		)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	middleware.RecordStockFollowUp(string(env.EventType))
	s.logger.Warn("Stock follow-up recorded on order",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("order_id", orderID),
		zap.Int64("product_id", stock.ProductID),
		zap.String("event_type", string(env.EventType)),
	)
	return nil
}

func (s *OrderService) ApplyClientEvent(ctx context.Context, env events.Envelope) error {
	if env.EventType == events.ClientDeleted {
		return s.clients.Deactivate(ctx, env.AggregateID, env.Timestamp)
	}
	if env.Client == nil {
		s.logger.Warn("Client event without payload", zap.String("event_id", env.EventID))
		return nil
	}

	return s.clients.Upsert(ctx, &models.ClientProfile{
		ClientID:  env.Client.ClientID,
		Email:     env.Client.Email,
		FirstName: env.Client.FirstName,
		LastName:  env.Client.LastName,
		Phone:     env.Client.Phone,
		Active:    env.Client.Active,
		UpdatedAt: env.Timestamp,
	})
}
