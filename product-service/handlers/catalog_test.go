package handlers

import (
	"context"
	"testing"

	"github.com/microcommerce/stock-saga/catalog"
	"github.com/microcommerce/stock-saga/product-service/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCatalogGetProduct(t *testing.T) {
	l := &stubLedger{products: map[int64]*models.Product{
		1: {ID: 1, SKU: "SKU-1", Name: "Desk Lamp", Price: decimal.RequireFromString("10.99"), StockAvailable: 5, Active: true},
	}}
	s := NewCatalogServer(l, passthroughCache{}, zaptest.NewLogger(t))

	p, err := s.GetProduct(context.Background(), &catalog.GetProductRequest{ProductID: 1})
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if p.SKU != "SKU-1" || !p.Price.Equal(decimal.RequireFromString("10.99")) || !p.Active {
		t.Errorf("Unexpected catalog product %+v", p)
	}
}

func TestCatalogGetProductErrors(t *testing.T) {
	s := NewCatalogServer(&stubLedger{products: map[int64]*models.Product{}}, passthroughCache{}, zaptest.NewLogger(t))

	tests := map[int64]codes.Code{
		0:  codes.InvalidArgument,
		42: codes.NotFound,
	}
	for id, want := range tests {
		_, err := s.GetProduct(context.Background(), &catalog.GetProductRequest{ProductID: id})
		if status.Code(err) != want {
			t.Errorf("Product %d: expected %s, got %v", id, want, err)
		}
	}
}
