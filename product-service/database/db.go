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
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		sku VARCHAR(100) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC(10, 2) NOT NULL CHECK (price > 0),
		stock_available INTEGER NOT NULL DEFAULT 0 CHECK (stock_available >= 0),
		stock_minimum INTEGER NOT NULL DEFAULT 0 CHECK (stock_minimum >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products (id),
		movement_type VARCHAR(30) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity <> 0),
		previous_stock INTEGER NOT NULL CHECK (previous_stock >= 0),
		new_stock INTEGER NOT NULL CHECK (new_stock >= 0),
		order_id BIGINT,
		event_id VARCHAR(36) NOT NULL DEFAULT '',
		reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (new_stock = previous_stock + quantity)
	)`,
	// One movement of a given type per order and product.
	`CREATE UNIQUE INDEX IF NOT EXISTS stock_movements_order_dedup
		ON stock_movements (order_id, product_id, movement_type) WHERE order_id IS NOT NULL`,
	// Order lines refused for insufficient stock. Never retried.
	`CREATE TABLE IF NOT EXISTS stock_rejections (
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL REFERENCES products (id),
		movement_type VARCHAR(30) NOT NULL,
		requested INTEGER NOT NULL CHECK (requested > 0),
		available INTEGER NOT NULL CHECK (available >= 0),
		event_id VARCHAR(36) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (order_id, product_id, movement_type)
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_product ON stock_movements (product_id, id DESC)`,
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
