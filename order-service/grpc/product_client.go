package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/microcommerce/stock-saga/catalog"
	"github.com/microcommerce/stock-saga/circuitbreaker"
	"github.com/microcommerce/stock-saga/order-service/models"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ProductClient reads the product catalog over gRPC behind a circuit breaker.
type ProductClient struct {
	conn           *grpc.ClientConn
	client         catalog.ProductCatalogClient
	circuitBreaker *circuitbreaker.CircuitBreaker
	timeout        time.Duration
	logger         *zap.Logger
}

func InitProductClient(address string, timeout time.Duration, logger *zap.Logger) (*ProductClient, error) {
	conn, err := grpc.NewClient(
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Product Service: %w", err)
	}

	pc := NewProductClient(catalog.NewProductCatalogClient(conn), timeout, logger)
	pc.conn = conn
	return pc, nil
}

func NewProductClient(client catalog.ProductCatalogClient, timeout time.Duration, logger *zap.Logger) *ProductClient {
	return &ProductClient{
		client: client,
		circuitBreaker: circuitbreaker.NewCircuitBreaker(5, 30*time.Second,
			circuitbreaker.WithFailureFilter(isDependencyFailure)),
		timeout: timeout,
		logger:  logger,
	}
}

// isDependencyFailure reports whether err says something about the product
// service's health rather than about the requested product.
func isDependencyFailure(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument:
		return false
	default:
		return true
	}
}

// GetProduct returns the catalog entry for productID. Unknown products map to
// models.ErrProductUnavailable.
func (pc *ProductClient) GetProduct(ctx context.Context, productID int64) (*catalog.Product, error) {
	var resp *catalog.Product

	err := pc.circuitBreaker.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, pc.timeout)
		defer cancel()

		var err error
		resp, err = pc.client.GetProduct(callCtx, &catalog.GetProductRequest{ProductID: productID})
		return err
	})

	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: product %d not found", models.ErrProductUnavailable, productID)
	}
	if err != nil {
		pc.logger.Error("Product catalog call failed",
			zap.Int64("product_id", productID),
			zap.String("circuit", pc.circuitBreaker.GetState().String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	return resp, nil
}

func (pc *ProductClient) Close() error {
	if pc.conn == nil {
		return nil
	}
	return pc.conn.Close()
}
