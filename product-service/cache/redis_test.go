package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/microcommerce/stock-saga/product-service/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func sampleProduct() *models.Product {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Product{
		ID:             5,
		SKU:            "SKU-5",
		Name:           "Desk Lamp",
		Price:          decimal.RequireFromString("19.99"),
		StockAvailable: 3,
		StockMinimum:   1,
		Active:         true,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func TestGetMissLoadsAndStores(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewProductCache(db, time.Minute, zaptest.NewLogger(t))
	product := sampleProduct()
	data, _ := json.Marshal(product)

	mock.ExpectGet("product:5").RedisNil()
	mock.ExpectSet("product:5", data, time.Minute).SetVal("OK")

	loads := 0
	got, hit, err := c.Get(context.Background(), 5, func(ctx context.Context, id int64) (*models.Product, error) {
		loads++
		return product, nil
	})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit || loads != 1 || got.SKU != "SKU-5" {
		t.Errorf("Expected one load on a miss, got hit=%v loads=%d", hit, loads)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetHitSkipsLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewProductCache(db, time.Minute, zaptest.NewLogger(t))
	data, _ := json.Marshal(sampleProduct())

	mock.ExpectGet("product:5").SetVal(string(data))

	got, hit, err := c.Get(context.Background(), 5, func(ctx context.Context, id int64) (*models.Product, error) {
		t.Error("Expected no load on a hit")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit || !got.Price.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("Expected cached product, got hit=%v %+v", hit, got)
	}
}

func TestGetFallsThroughOnRedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewProductCache(db, time.Minute, zaptest.NewLogger(t))
	product := sampleProduct()
	data, _ := json.Marshal(product)

	mock.ExpectGet("product:5").SetErr(errors.New("connection refused"))
	mock.ExpectSet("product:5", data, time.Minute).SetErr(errors.New("connection refused"))

	got, _, err := c.Get(context.Background(), 5, func(ctx context.Context, id int64) (*models.Product, error) {
		return product, nil
	})
	if err != nil || got.ID != 5 {
		t.Errorf("Expected the loaded product despite Redis errors, got %v", err)
	}
}

func TestGetPropagatesLoadError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewProductCache(db, time.Minute, zaptest.NewLogger(t))

	mock.ExpectGet("product:9").RedisNil()

	_, _, err := c.Get(context.Background(), 9, func(ctx context.Context, id int64) (*models.Product, error) {
		return nil, models.ErrProductNotFound
	})
	if !errors.Is(err, models.ErrProductNotFound) {
		t.Errorf("Expected ErrProductNotFound, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewProductCache(db, time.Minute, zaptest.NewLogger(t))

	mock.ExpectDel("product:5").SetVal(1)

	if err := c.Invalidate(context.Background(), 5); err != nil {
		t.Errorf("Invalidate failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLoadOverlappingInvalidationIsNotCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	core, logs := observer.New(zap.DebugLevel)
	c := NewProductCache(db, time.Minute, zap.New(core))
	product := sampleProduct()

	mock.ExpectGet("product:5").RedisNil()
	mock.ExpectDel("product:5").SetVal(0)

	got, hit, err := c.Get(context.Background(), 5, func(ctx context.Context, id int64) (*models.Product, error) {
		// a movement commits while the row is being read
		if err := c.Invalidate(ctx, id); err != nil {
			t.Errorf("Invalidate failed: %v", err)
		}
		return product, nil
	})
	if err != nil || hit || got.ID != 5 {
		t.Fatalf("Expected the loaded product, got hit=%v err=%v", hit, err)
	}

	if logs.FilterMessage("Skipping cache fill after invalidation").Len() != 1 {
		t.Error("Expected the stale fill to be skipped")
	}
	if logs.FilterMessage("Product cache write failed").Len() != 0 {
		t.Error("Expected no cache write")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLoadAfterInvalidationIsCached(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewProductCache(db, time.Minute, zaptest.NewLogger(t))
	product := sampleProduct()
	data, _ := json.Marshal(product)

	mock.ExpectDel("product:5").SetVal(1)
	mock.ExpectGet("product:5").RedisNil()
	mock.ExpectSet("product:5", data, time.Minute).SetVal("OK")

	if err := c.Invalidate(context.Background(), 5); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, _, err := c.Get(context.Background(), 5, func(ctx context.Context, id int64) (*models.Product, error) {
		return product, nil
	}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
