package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	productgrpc "github.com/microcommerce/stock-saga/order-service/grpc"
	"github.com/microcommerce/stock-saga/order-service/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderService interface {
	GetOrCreateCart(ctx context.Context, clientID int64) (*models.Order, error)
	AddItem(ctx context.Context, clientID, productID int64, qty int) (*models.Order, error)
	RemoveItem(ctx context.Context, clientID, productID int64) (*models.Order, error)
	Validate(ctx context.Context, orderID int64, req models.ValidateOrderRequest) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID int64) (*models.Order, error)
	Ship(ctx context.Context, orderID int64, carrier, trackingNumber string) (*models.Order, error)
	Deliver(ctx context.Context, orderID int64) (*models.Order, error)
	Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListClientOrders(ctx context.Context, clientID int64, limit, offset int) ([]*models.Order, error)
}

type OrderHandler struct {
	service OrderService
	logger  *zap.Logger
}

func NewOrderHandler(service OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{service: service, logger: logger}
}

func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	orders := r.Group("/api/v1/orders")
	orders.GET("/cart", h.GetCart)
	orders.POST("/cart/items", h.AddItem)
	orders.DELETE("/cart/items/:productId", h.RemoveItem)
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/validate", h.ValidateOrder)
	orders.POST("/:id/pay", h.PayOrder)
	orders.POST("/:id/ship", h.ShipOrder)
	orders.POST("/:id/deliver", h.DeliverOrder)
	orders.POST("/:id/cancel", h.CancelOrder)
}

func (h *OrderHandler) GetCart(c *gin.Context) {
	clientID, ok := queryID(c, "client_id")
	if !ok {
		return
	}

	cart, err := h.service.GetOrCreateCart(c.Request.Context(), clientID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *OrderHandler) AddItem(c *gin.Context) {
	var req models.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.AddItem(c.Request.Context(), req.ClientID, req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) RemoveItem(c *gin.Context) {
	clientID, ok := queryID(c, "client_id")
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	order, err := h.service.RemoveItem(c.Request.Context(), clientID, productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	clientID, ok := queryID(c, "client_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := h.service.ListClientOrders(c.Request.Context(), clientID, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "limit": limit, "offset": offset})
}

func (h *OrderHandler) ValidateOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var req models.ValidateOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	order, err := h.service.Validate(c.Request.Context(), orderID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) PayOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.service.MarkPaid(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ShipOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var req models.ShipOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.Ship(c.Request.Context(), orderID, req.Carrier, req.TrackingNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) DeliverOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.service.Deliver(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var req models.CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	order, err := h.service.Cancel(c.Request.Context(), orderID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrEmptyOrder),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrProductUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrCartNotFound),
		errors.Is(err, models.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, productgrpc.ErrCatalogUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Product service unavailable"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
