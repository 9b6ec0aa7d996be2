package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/product-service/cache"
	"github.com/microcommerce/stock-saga/product-service/ledger"
	"github.com/microcommerce/stock-saga/product-service/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Ledger interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, req models.CreateProductRequest) (*models.Product, error)
	ApplyMovement(ctx context.Context, req models.MovementRequest) (*models.StockMovement, error)
	ListMovements(ctx context.Context, productID int64, limit, offset int) ([]models.StockMovement, error)
	Replay(ctx context.Context, productID int64) (*models.LedgerReport, error)
}

type ProductCache interface {
	Get(ctx context.Context, id int64, load cache.LoadFunc) (*models.Product, bool, error)
}

type ProductHandler struct {
	ledger    Ledger
	cache     ProductCache
	publisher events.Publisher
	logger    *zap.Logger
}

func NewProductHandler(ledger Ledger, cache ProductCache, publisher events.Publisher, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		ledger:    ledger,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *ProductHandler) RegisterRoutes(r gin.IRouter) {
	products := r.Group("/api/v1/products")
	products.POST("", h.CreateProduct)
	products.GET("/:id", h.GetProduct)
	products.POST("/:id/stock", h.UpdateStock)
	products.GET("/:id/movements", h.ListMovements)
	products.GET("/:id/ledger/verify", h.VerifyLedger)
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer("product-service").Start(c.Request.Context(), "GetProduct")
	defer span.End()

	id, ok := pathID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("product.id", id))

	product, hit, err := h.cache.Get(ctx, id, h.ledger.GetProduct)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("product-service").Start(c.Request.Context(), "CreateProduct")
	defer span.End()

	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.ledger.CreateProduct(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	env := events.New(events.ProductCreated, product.ID, events.SourceProducts)
	env.Stock = &events.StockPayload{ProductID: product.ID, SKU: product.SKU, StockAvailable: product.StockAvailable, NewStock: product.StockAvailable}
	if err := h.publisher.Publish(ctx, events.TopicProductEvents, env); err != nil {
		h.logger.Error("Failed to publish product created",
			zap.String("trace_id", middleware.TraceID(ctx)),
			zap.Int64("product_id", product.ID),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.Int64("product.id", product.ID))
	h.logger.Info("Product created",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("product_id", product.ID),
		zap.String("sku", product.SKU),
		zap.Int("stock_available", product.StockAvailable),
	)
	c.JSON(http.StatusCreated, product)
}

// UpdateStock books a manual INBOUND, OUTBOUND or MANUAL_ADJUSTMENT movement.
// Order-driven movements only come from order events.
func (h *ProductHandler) UpdateStock(c *gin.Context) {
	ctx, span := otel.Tracer("product-service").Start(c.Request.Context(), "UpdateStock")
	defer span.End()

	id, ok := pathID(c)
	if !ok {
		return
	}

	var req models.StockUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.MovementType.Valid() || req.MovementType.OrderDriven() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "movement_type must be INBOUND, OUTBOUND or MANUAL_ADJUSTMENT"})
		return
	}

	quantity := req.Quantity
	if req.MovementType != models.MovementManualAdjustment {
		quantity = req.MovementType.SignedQuantity(req.Quantity)
	}

	movement, err := h.ledger.ApplyMovement(ctx, models.MovementRequest{
		ProductID: id,
		Type:      req.MovementType,
		Quantity:  quantity,
		Reason:    req.Reason,
	})
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	h.logger.Info("Stock updated",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.Int64("product_id", id),
		zap.String("movement_type", string(movement.Type)),
		zap.Int("previous_stock", movement.PreviousStock),
		zap.Int("new_stock", movement.NewStock),
	)
	c.JSON(http.StatusCreated, movement)
}

func (h *ProductHandler) ListMovements(c *gin.Context) {
	ctx, span := otel.Tracer("product-service").Start(c.Request.Context(), "ListMovements")
	defer span.End()

	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, offset, ok := page(c)
	if !ok {
		return
	}

	if _, err := h.ledger.GetProduct(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}

	movements, err := h.ledger.ListMovements(ctx, id, limit, offset)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("movements.count", len(movements)))
	c.JSON(http.StatusOK, movements)
}

func (h *ProductHandler) VerifyLedger(c *gin.Context) {
	ctx, span := otel.Tracer("product-service").Start(c.Request.Context(), "VerifyLedger")
	defer span.End()

	id, ok := pathID(c)
	if !ok {
		return
	}

	report, err := h.ledger.Replay(ctx, id)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err)
		return
	}

	span.SetAttributes(attribute.Bool("ledger.consistent", report.Consistent))
	c.JSON(http.StatusOK, report)
}

func (h *ProductHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidMovement),
		errors.Is(err, models.ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, ledger.ErrDuplicateSKU):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Product is busy, retry later"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return 0, false
	}
	return id, true
}

func page(c *gin.Context) (int, int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return 0, 0, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return 0, 0, false
	}
	return limit, offset, true
}
