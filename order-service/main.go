package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/middleware"
	"github.com/microcommerce/stock-saga/order-service/config"
	"github.com/microcommerce/stock-saga/order-service/database"
	"github.com/microcommerce/stock-saga/order-service/grpc"
	"github.com/microcommerce/stock-saga/order-service/handlers"
	"github.com/microcommerce/stock-saga/order-service/kafka"
	"github.com/microcommerce/stock-saga/order-service/outbox"
	"github.com/microcommerce/stock-saga/order-service/repository"
	"github.com/microcommerce/stock-saga/order-service/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("order-service", cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Initialize database
	db, err := database.InitDB(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Kafka producer
	producer, err := events.InitProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize gRPC client for Product Service
	productClient, err := grpc.InitProductClient(cfg.ProductServiceGRPC, cfg.CatalogTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Product gRPC client", zap.Error(err))
	}
	defer productClient.Close()

	orderService := service.NewOrderService(
		repository.NewOrderRepository(db),
		repository.NewClientRepository(db),
		productClient,
		cfg.ShippingCost,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay committed order events to Kafka
	relay := outbox.NewRelay(db, events.NewKafkaPublisher(producer, logger), cfg.OutboxBatchSize, cfg.OutboxMaxAttempts, cfg.OutboxPollInterval, logger)
	go relay.Run(ctx)

	// Consume stock follow-ups and client profile changes
	group, err := events.InitConsumerGroup(cfg.KafkaBrokers, cfg.ConsumerGroup, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer group", zap.Error(err))
	}
	defer group.Close()

	go func() {
		handler := events.NewGroupHandler(kafka.NewMessageHandler(orderService, logger), logger)
		if err := events.RunConsumerGroup(ctx, group, kafka.Topics, handler, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("order-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Order endpoints
	handlers.NewOrderHandler(orderService, logger).RegisterRoutes(router)

	// Start REST server
	restSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Order Service REST API started", zap.String("addr", cfg.HTTPAddr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	// Stop background workers before the connections they use
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	}

	logger.Info("Servers exited")
}
