package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	productgrpc "github.com/microcommerce/stock-saga/order-service/grpc"
	"github.com/microcommerce/stock-saga/order-service/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// stubOrderService returns err when set, otherwise an order built from the call.
type stubOrderService struct {
	err       error
	lastCall  string
	lastQty   int
	lastLimit int
	lastReq   models.ValidateOrderRequest
}

func (s *stubOrderService) order(id int64, status models.OrderStatus) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: id, ClientID: 1, Status: status, TotalAmount: decimal.RequireFromString("29.00"), Items: []models.OrderItem{}}, nil
}

func (s *stubOrderService) GetOrCreateCart(ctx context.Context, clientID int64) (*models.Order, error) {
	s.lastCall = "cart"
	return s.order(1, models.OrderStatusCart)
}

func (s *stubOrderService) AddItem(ctx context.Context, clientID, productID int64, qty int) (*models.Order, error) {
	s.lastCall, s.lastQty = "add", qty
	return s.order(1, models.OrderStatusCart)
}

func (s *stubOrderService) RemoveItem(ctx context.Context, clientID, productID int64) (*models.Order, error) {
	s.lastCall = "remove"
	return s.order(1, models.OrderStatusCart)
}

func (s *stubOrderService) Validate(ctx context.Context, orderID int64, req models.ValidateOrderRequest) (*models.Order, error) {
	s.lastCall, s.lastReq = "validate", req
	return s.order(orderID, models.OrderStatusPending)
}

func (s *stubOrderService) MarkPaid(ctx context.Context, orderID int64) (*models.Order, error) {
	s.lastCall = "pay"
	return s.order(orderID, models.OrderStatusConfirmed)
}

func (s *stubOrderService) Ship(ctx context.Context, orderID int64, carrier, trackingNumber string) (*models.Order, error) {
	s.lastCall = "ship"
	return s.order(orderID, models.OrderStatusShipped)
}

func (s *stubOrderService) Deliver(ctx context.Context, orderID int64) (*models.Order, error) {
	s.lastCall = "deliver"
	return s.order(orderID, models.OrderStatusDelivered)
}

func (s *stubOrderService) Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	s.lastCall = "cancel"
	return s.order(orderID, models.OrderStatusCancelled)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.lastCall = "get"
	return s.order(orderID, models.OrderStatusPending)
}

func (s *stubOrderService) ListClientOrders(ctx context.Context, clientID int64, limit, offset int) ([]*models.Order, error) {
	s.lastCall, s.lastLimit = "list", limit
	o, err := s.order(1, models.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	return []*models.Order{o}, nil
}

func setupOrderTest(t *testing.T, svc *stubOrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewOrderHandler(svc, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
	handler.RegisterRoutes(router)
	return router
}

func TestOrderHandler_Routes(t *testing.T) {
	tests := []struct {
		method, path, body string
		wantCall           string
	}{
		{http.MethodGet, "/api/v1/orders/cart?client_id=1", "", "cart"},
		{http.MethodPost, "/api/v1/orders/cart/items", `{"client_id":1,"product_id":10,"quantity":2}`, "add"},
		{http.MethodDelete, "/api/v1/orders/cart/items/10?client_id=1", "", "remove"},
		{http.MethodGet, "/api/v1/orders/5", "", "get"},
		{http.MethodGet, "/api/v1/orders?client_id=1&limit=5", "", "list"},
		{http.MethodPost, "/api/v1/orders/5/validate", "", "validate"},
		{http.MethodPost, "/api/v1/orders/5/pay", "", "pay"},
		{http.MethodPost, "/api/v1/orders/5/ship", `{"carrier":"UPS","tracking_number":"1Z"}`, "ship"},
		{http.MethodPost, "/api/v1/orders/5/deliver", "", "deliver"},
		{http.MethodPost, "/api/v1/orders/5/cancel", `{"reason":"changed mind"}`, "cancel"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			svc := &stubOrderService{}
			router := setupOrderTest(t, svc)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
			}
			if svc.lastCall != tt.wantCall {
				t.Errorf("Expected call %s, got %s", tt.wantCall, svc.lastCall)
			}
		})
	}
}

func TestOrderHandler_GetOrder_Body(t *testing.T) {
	router := setupOrderTest(t, &stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["status"] != "PENDING" || body["total_amount"] != "29" {
		t.Errorf("Unexpected body %s", w.Body.String())
	}
}

func TestOrderHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidQuantity, http.StatusBadRequest},
		{models.ErrEmptyOrder, http.StatusBadRequest},
		{fmt.Errorf("%w: product 3", models.ErrProductUnavailable), http.StatusBadRequest},
		{models.ErrOrderNotFound, http.StatusNotFound},
		{models.ErrItemNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: CART -> CONFIRMED", models.ErrInvalidTransition), http.StatusConflict},
		{productgrpc.ErrCatalogUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := setupOrderTest(t, &stubOrderService{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/5/pay", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestOrderHandler_BadInput(t *testing.T) {
	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/v1/orders/abc", ""},
		{http.MethodGet, "/api/v1/orders/cart", ""},
		{http.MethodPost, "/api/v1/orders/cart/items", `{"client_id":1}`},
		{http.MethodPost, "/api/v1/orders/5/ship", `{"carrier":"UPS"}`},
		{http.MethodDelete, "/api/v1/orders/cart/items/x?client_id=1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			svc := &stubOrderService{}
			router := setupOrderTest(t, svc)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			if svc.lastCall != "" {
				t.Errorf("Expected service not to be called, got %s", svc.lastCall)
			}
		})
	}
}
