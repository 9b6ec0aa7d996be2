package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	HTTPAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	KafkaBrokers  []string
	ConsumerGroup string

	ProductServiceGRPC string
	CatalogTimeout     time.Duration

	JaegerEndpoint string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	ShippingCost decimal.Decimal
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8082"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", "postgres"),
		DBName:             getEnv("DB_NAME", "orderdb"),
		KafkaBrokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "order-service"),
		ProductServiceGRPC: getEnv("PRODUCT_SERVICE_GRPC", "localhost:50052"),
		JaegerEndpoint:     getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	var err error
	if cfg.CatalogTimeout, err = time.ParseDuration(getEnv("CATALOG_TIMEOUT", "2s")); err != nil {
		return nil, fmt.Errorf("invalid CATALOG_TIMEOUT: %w", err)
	}
	if cfg.OutboxPollInterval, err = time.ParseDuration(getEnv("OUTBOX_POLL_INTERVAL", "500ms")); err != nil {
		return nil, fmt.Errorf("invalid OUTBOX_POLL_INTERVAL: %w", err)
	}
	if cfg.OutboxBatchSize, err = strconv.Atoi(getEnv("OUTBOX_BATCH_SIZE", "100")); err != nil || cfg.OutboxBatchSize < 1 {
		return nil, fmt.Errorf("invalid OUTBOX_BATCH_SIZE %q", getEnv("OUTBOX_BATCH_SIZE", "100"))
	}
	if cfg.OutboxMaxAttempts, err = strconv.Atoi(getEnv("OUTBOX_MAX_ATTEMPTS", "20")); err != nil || cfg.OutboxMaxAttempts < 1 {
		return nil, fmt.Errorf("invalid OUTBOX_MAX_ATTEMPTS %q", getEnv("OUTBOX_MAX_ATTEMPTS", "20"))
	}
	if cfg.ShippingCost, err = decimal.NewFromString(getEnv("SHIPPING_COST", "0")); err != nil || cfg.ShippingCost.IsNegative() {
		return nil, fmt.Errorf("invalid SHIPPING_COST %q", getEnv("SHIPPING_COST", "0"))
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
