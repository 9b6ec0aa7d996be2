package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// schema is applied in order on start-up. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		client_id BIGINT NOT NULL,
		order_number VARCHAR(40) NOT NULL UNIQUE,
		status VARCHAR(20) NOT NULL,
		payment_status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		subtotal NUMERIC(12, 2) NOT NULL DEFAULT 0,
		shipping_cost NUMERIC(12, 2) NOT NULL DEFAULT 0,
		tax_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
		discount_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
		total_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
		client_email VARCHAR(255) NOT NULL DEFAULT '',
		client_first_name VARCHAR(100) NOT NULL DEFAULT '',
		client_last_name VARCHAR(100) NOT NULL DEFAULT '',
		client_phone VARCHAR(40) NOT NULL DEFAULT '',
		shipping_address JSONB,
		billing_address JSONB,
		carrier VARCHAR(100) NOT NULL DEFAULT '',
		tracking_number VARCHAR(100) NOT NULL DEFAULT '',
		client_comment TEXT NOT NULL DEFAULT '',
		internal_comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		validated_at TIMESTAMPTZ,
		paid_at TIMESTAMPTZ,
		shipped_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ
	)`,
	// At most one open cart per client.
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_one_cart_per_client ON orders (client_id) WHERE status = 'CART'`,
	`CREATE INDEX IF NOT EXISTS orders_client_created ON orders (client_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		product_sku VARCHAR(100) NOT NULL,
		unit_price NUMERIC(12, 2) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		subtotal NUMERIC(12, 2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (order_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_outbox (
		id BIGSERIAL PRIMARY KEY,
		event_id VARCHAR(36) NOT NULL UNIQUE,
		topic VARCHAR(100) NOT NULL,
		event_key VARCHAR(100) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload BYTEA NOT NULL,
		trace_context TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at TIMESTAMPTZ,
		parked_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS order_outbox_pending ON order_outbox (id) WHERE published_at IS NULL AND parked_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS client_profiles (
		client_id BIGINT PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		first_name VARCHAR(100) NOT NULL DEFAULT '',
		last_name VARCHAR(100) NOT NULL DEFAULT '',
		phone VARCHAR(40) NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func InitDB(dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}

	logger.Info("Database connection established")
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
