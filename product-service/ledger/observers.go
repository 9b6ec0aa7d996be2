package ledger

import (
	"context"

	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/product-service/models"
	"go.uber.org/zap"
)

type CacheInvalidator interface {
	Invalidate(ctx context.Context, productID int64) error
}

// NewCacheObserver drops the cached copy of a product after each movement.
func NewCacheObserver(cache CacheInvalidator, logger *zap.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, product *models.Product, movement *models.StockMovement) {
		if err := cache.Invalidate(ctx, product.ID); err != nil {
			logger.Warn("Failed to invalidate product cache",
				zap.Int64("product_id", product.ID),
				zap.Error(err),
			)
		}
	})
}

// NewMetricsObserver counts movements by type and flags products at or
// below their minimum stock.
func NewMetricsObserver(logger *zap.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, product *models.Product, movement *models.StockMovement) {
		middleware.RecordStockMovement(string(movement.Type))
		if product.LowStock() {
			middleware.RecordLowStock(product.ID)
			logger.Warn("Product stock at or below minimum",
				zap.String("trace_id", middleware.TraceID(ctx)),
				zap.Int64("product_id", product.ID),
				zap.String("sku", product.SKU),
				zap.Int("stock_available", product.StockAvailable),
				zap.Int("stock_minimum", product.StockMinimum),
			)
		}
	})
}

// NewStockEventObserver publishes STOCK_UPDATED on the product topic.
// A failed publish is logged; the movement is already committed.
func NewStockEventObserver(publisher events.Publisher, logger *zap.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, product *models.Product, movement *models.StockMovement) {
		env := StockUpdatedEvent(product, movement)
		if err := publisher.Publish(ctx, events.TopicProductEvents, env); err != nil {
			logger.Error("Failed to publish stock update",
				zap.String("trace_id", middleware.TraceID(ctx)),
				zap.Int64("product_id", product.ID),
				zap.Int64("movement_id", movement.ID),
				zap.Error(err),
			)
		}
	})
}

func StockUpdatedEvent(product *models.Product, movement *models.StockMovement) events.Envelope {
	env := events.New(events.StockUpdated, product.ID, events.SourceProducts)
	env.Stock = &events.StockPayload{
		ProductID:      product.ID,
		SKU:            product.SKU,
		StockAvailable: movement.NewStock,
		PreviousStock:  movement.PreviousStock,
		NewStock:       movement.NewStock,
		Quantity:       movement.Quantity,
		MovementType:   string(movement.Type),
		OrderID:        movement.OrderID,
		Reason:         movement.Reason,
	}
	return env
}
