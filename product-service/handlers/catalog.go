package handlers

import (
	"context"
	"errors"

	"github.com/microcommerce/stock-saga/catalog"
	"github.com/microcommerce/stock-saga/product-service/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CatalogServer answers the order service's product lookups from the same
// cache the REST API reads through.
type CatalogServer struct {
	ledger Ledger
	cache  ProductCache
	logger *zap.Logger
}

func NewCatalogServer(ledger Ledger, cache ProductCache, logger *zap.Logger) *CatalogServer {
	return &CatalogServer{ledger: ledger, cache: cache, logger: logger}
}

func (s *CatalogServer) GetProduct(ctx context.Context, req *catalog.GetProductRequest) (*catalog.Product, error) {
	ctx, span := otel.Tracer("product-service").Start(ctx, "GetProduct_gRPC")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", req.ProductID))

	if req.ProductID < 1 {
		return nil, status.Errorf(codes.InvalidArgument, "invalid product id %d", req.ProductID)
	}

	p, hit, err := s.cache.Get(ctx, req.ProductID, s.ledger.GetProduct)
	if errors.Is(err, models.ErrProductNotFound) {
		return nil, status.Errorf(codes.NotFound, "product %d not found", req.ProductID)
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Error("Catalog lookup failed", zap.Int64("product_id", req.ProductID), zap.Error(err))
		return nil, status.Error(codes.Internal, "catalog lookup failed")
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))

	return &catalog.Product{
		ID:             p.ID,
		SKU:            p.SKU,
		Name:           p.Name,
		Price:          p.Price,
		StockAvailable: p.StockAvailable,
		StockMinimum:   p.StockMinimum,
		Active:         p.Active,
	}, nil
}
