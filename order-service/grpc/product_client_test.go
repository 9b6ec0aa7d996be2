package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/microcommerce/stock-saga/catalog"
	"github.com/microcommerce/stock-saga/circuitbreaker"
	"github.com/microcommerce/stock-saga/order-service/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubCatalogClient struct {
	err   error
	calls int
}

func (s *stubCatalogClient) GetProduct(ctx context.Context, req *catalog.GetProductRequest, opts ...grpc.CallOption) (*catalog.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &catalog.Product{ID: req.ProductID, SKU: "A-1", Name: "Widget", Price: decimal.RequireFromString("10"), Active: true}, nil
}

func TestGetProduct(t *testing.T) {
	pc := NewProductClient(&stubCatalogClient{}, time.Second, zaptest.NewLogger(t))

	p, err := pc.GetProduct(context.Background(), 4)
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if p.ID != 4 || p.SKU != "A-1" {
		t.Errorf("Unexpected product %+v", p)
	}
}

func TestGetProductNotFoundKeepsCircuitClosed(t *testing.T) {
	stub := &stubCatalogClient{err: status.Error(codes.NotFound, "no such product")}
	pc := NewProductClient(stub, time.Second, zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		if _, err := pc.GetProduct(context.Background(), 4); !errors.Is(err, models.ErrProductUnavailable) {
			t.Fatalf("Expected ErrProductUnavailable, got %v", err)
		}
	}
	if pc.circuitBreaker.GetState() != circuitbreaker.StateClosed {
		t.Errorf("Expected circuit closed, got %s", pc.circuitBreaker.GetState())
	}
}

func TestGetProductOpensCircuitOnOutage(t *testing.T) {
	stub := &stubCatalogClient{err: status.Error(codes.Unavailable, "connection refused")}
	pc := NewProductClient(stub, time.Second, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		if _, err := pc.GetProduct(context.Background(), 4); !errors.Is(err, ErrCatalogUnavailable) {
			t.Fatalf("Expected ErrCatalogUnavailable, got %v", err)
		}
	}

	_, err := pc.GetProduct(context.Background(), 4)
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Errorf("Expected ErrCatalogUnavailable, got %v", err)
	}
	if stub.calls != 5 {
		t.Errorf("Expected open circuit to short-circuit the sixth call, got %d calls", stub.calls)
	}
}
