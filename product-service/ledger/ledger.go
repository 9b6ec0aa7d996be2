// Package ledger owns the product stock balance. Every balance change is an
// immutable stock_movements row written in the same transaction as the new
// balance, under an exclusive lock on the product row.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/microcommerce/stock-saga/product-service/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrLockTimeout  = errors.New("timed out waiting for product lock")
	ErrDuplicateSKU = errors.New("product sku already exists")
)

const (
	pqLockNotAvailable = "55P03"
	pqUniqueViolation  = "23505"
)

const (
	productColumns  = "id, sku, name, description, price, stock_available, stock_minimum, active, created_at, updated_at"
	movementColumns = "id, product_id, movement_type, quantity, previous_stock, new_stock, order_id, event_id, reason, created_at"
)

// Observer is told about every committed movement. Observers cannot fail
// the movement; they log their own errors.
type Observer interface {
	MovementApplied(ctx context.Context, product *models.Product, movement *models.StockMovement)
}

type ObserverFunc func(ctx context.Context, product *models.Product, movement *models.StockMovement)

func (f ObserverFunc) MovementApplied(ctx context.Context, product *models.Product, movement *models.StockMovement) {
	f(ctx, product, movement)
}

type PostgresLedger struct {
	db          *sql.DB
	lockTimeout time.Duration
	observers   []Observer
	logger      *zap.Logger
}

func NewPostgresLedger(db *sql.DB, lockTimeout time.Duration, logger *zap.Logger, observers ...Observer) *PostgresLedger {
	return &PostgresLedger{
		db:          db,
		lockTimeout: lockTimeout,
		observers:   observers,
		logger:      logger,
	}
}

// ApplyMovement books req against the product balance. A movement already
// recorded for the same order, product and type is returned together with
// ErrDuplicateMovement and the balance is left alone. An order reduction
// rejected for insufficient stock is recorded and rejected again on every
// later attempt.
func (l *PostgresLedger) ApplyMovement(ctx context.Context, req models.MovementRequest) (*models.StockMovement, error) {
	ctx, span := otel.Tracer("product-service").Start(ctx, "ApplyMovement")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("product.id", req.ProductID),
		attribute.String("movement.type", string(req.Type)),
		attribute.Int("movement.quantity", req.Quantity),
	)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := l.begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer tx.Rollback()

	product, err := scanProduct(tx.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE",
		req.ProductID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, req.ProductID)
	}
	if err != nil {
		err = lockError(err)
		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock product %d: %w", req.ProductID, err)
	}

	movement, err := l.book(ctx, tx, product, req)
	if err != nil {
		var insufficient *models.InsufficientStockError
		if errors.As(err, &insufficient) && req.OrderID != nil {
			// keep the recorded rejection
			if commitErr := tx.Commit(); commitErr != nil {
				span.RecordError(commitErr)
				return nil, fmt.Errorf("failed to commit stock rejection: %w", commitErr)
			}
		}
		if !errors.Is(err, models.ErrDuplicateMovement) {
			span.RecordError(err)
		}
		return movement, err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit movement: %w", err)
	}

	product.StockAvailable = movement.NewStock
	l.notify(ctx, product, movement)
	return movement, nil
}

// CreateProduct inserts a product with a zero balance and books the opening
// stock as an INBOUND movement in the same transaction.
func (l *PostgresLedger) CreateProduct(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	ctx, span := otel.Tracer("product-service").Start(ctx, "CreateProduct")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	product, err := scanProduct(tx.QueryRowContext(ctx,
		`INSERT INTO products (sku, name, description, price, stock_available, stock_minimum)
		VALUES ($1, $2, $3, $4, 0, $5) RETURNING `+productColumns,
		req.SKU, req.Name, req.Description, req.Price, req.StockMinimum,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSKU, req.SKU)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	var opening *models.StockMovement
	if req.StockAvailable > 0 {
		opening, err = l.book(ctx, tx, product, models.MovementRequest{
			ProductID: product.ID,
			Type:      models.MovementInbound,
			Quantity:  req.StockAvailable,
			Reason:    "opening stock",
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		product.StockAvailable = opening.NewStock
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit product: %w", err)
	}

	span.SetAttributes(attribute.Int64("product.id", product.ID))
	if opening != nil {
		l.notify(ctx, product, opening)
	}
	return product, nil
}

func (l *PostgresLedger) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := scanProduct(l.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1",
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// ListMovements returns a page of the product's movements, newest first.
func (l *PostgresLedger) ListMovements(ctx context.Context, productID int64, limit, offset int) ([]models.StockMovement, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+movementColumns+" FROM stock_movements WHERE product_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3",
		productID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

// Replay walks the product's movements oldest first and checks that each
// one continues the previous balance and that the chain ends at the stored
// balance.
func (l *PostgresLedger) Replay(ctx context.Context, productID int64) (*models.LedgerReport, error) {
	product, err := l.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT "+movementColumns+" FROM stock_movements WHERE product_id = $1 ORDER BY id",
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to replay movements: %w", err)
	}
	defer rows.Close()

	movements, err := scanMovements(rows)
	if err != nil {
		return nil, err
	}

	report := &models.LedgerReport{
		ProductID:      productID,
		Movements:      len(movements),
		StockAvailable: product.StockAvailable,
		Consistent:     true,
	}
	balance := 0
	for _, m := range movements {
		if report.Consistent && (m.PreviousStock != balance || m.NewStock != m.PreviousStock+m.Quantity) {
			id := m.ID
			report.Consistent = false
			report.BrokenAt = &id
		}
		balance = m.NewStock
	}
	report.ReplayedStock = balance
	if balance != product.StockAvailable {
		report.Consistent = false
	}

	if !report.Consistent {
		l.logger.Warn("Stock ledger inconsistent",
			zap.Int64("product_id", productID),
			zap.Int("stock_available", product.StockAvailable),
			zap.Int("replayed_stock", balance),
		)
	}
	return report, nil
}

func (l *PostgresLedger) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if l.lockTimeout > 0 {
		// SET does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}
	return tx, nil
}

// book writes the movement and the new balance. The caller holds the
// product row lock and owns the transaction.
func (l *PostgresLedger) book(ctx context.Context, tx *sql.Tx, product *models.Product, req models.MovementRequest) (*models.StockMovement, error) {
	if req.OrderID != nil {
		existing, err := findOrderMovement(ctx, tx, *req.OrderID, req.ProductID, req.Type)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, fmt.Errorf("%w: order %d product %d %s", models.ErrDuplicateMovement, *req.OrderID, req.ProductID, req.Type)
		}
	}

	// an order line rejected once stays rejected, even if stock arrived since
	if req.Type == models.MovementOrderReduction {
		rejected, err := findRejection(ctx, tx, *req.OrderID, req.ProductID, req.Type)
		if err != nil {
			return nil, err
		}
		if rejected != nil {
			return nil, rejected
		}
	}

	quantity := req.Quantity
	if req.Type == models.MovementOrderCancellation {
		reduction, err := findOrderMovement(ctx, tx, *req.OrderID, req.ProductID, models.MovementOrderReduction)
		if err != nil {
			return nil, err
		}
		if reduction == nil {
			return nil, fmt.Errorf("%w: order %d product %d", models.ErrNothingToCompensate, *req.OrderID, req.ProductID)
		}
		quantity = -reduction.Quantity
	}

	previous := product.StockAvailable
	next := previous + quantity
	if quantity < 0 && next < 0 {
		rejected := &models.InsufficientStockError{ProductID: product.ID, Available: previous, Requested: -quantity}
		if req.OrderID != nil {
			if err := recordRejection(ctx, tx, *req.OrderID, req, rejected); err != nil {
				return nil, err
			}
		}
		return nil, rejected
	}

	movement := &models.StockMovement{
		ProductID:     req.ProductID,
		Type:          req.Type,
		Quantity:      quantity,
		PreviousStock: previous,
		NewStock:      next,
		OrderID:       req.OrderID,
		EventID:       req.EventID,
		Reason:        req.Reason,
	}
	err := tx.QueryRowContext(ctx,
		`INSERT INTO stock_movements (product_id, movement_type, quantity, previous_stock, new_stock, order_id, event_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id, product_id, movement_type) WHERE order_id IS NOT NULL DO NOTHING
		RETURNING id, created_at`,
		movement.ProductID, string(movement.Type), movement.Quantity, movement.PreviousStock, movement.NewStock,
		nullInt64(movement.OrderID), movement.EventID, movement.Reason,
	).Scan(&movement.ID, &movement.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := findOrderMovement(ctx, tx, *req.OrderID, req.ProductID, req.Type)
		if findErr != nil {
			return nil, findErr
		}
		return existing, fmt.Errorf("%w: order %d product %d %s", models.ErrDuplicateMovement, *req.OrderID, req.ProductID, req.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record movement: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET stock_available = $1, updated_at = NOW() WHERE id = $2",
		next, product.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update stock: %w", err)
	}
	return movement, nil
}

func (l *PostgresLedger) notify(ctx context.Context, product *models.Product, movement *models.StockMovement) {
	for _, o := range l.observers {
		o.MovementApplied(ctx, product, movement)
	}
}

func findOrderMovement(ctx context.Context, tx *sql.Tx, orderID, productID int64, movementType models.MovementType) (*models.StockMovement, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+movementColumns+" FROM stock_movements WHERE order_id = $1 AND product_id = $2 AND movement_type = $3",
		orderID, productID, string(movementType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up order movement: %w", err)
	}
	defer rows.Close()

	movements, err := scanMovements(rows)
	if err != nil {
		return nil, err
	}
	if len(movements) == 0 {
		return nil, nil
	}
	return &movements[0], nil
}

func findRejection(ctx context.Context, tx *sql.Tx, orderID, productID int64, movementType models.MovementType) (*models.InsufficientStockError, error) {
	rejected := &models.InsufficientStockError{ProductID: productID}
	err := tx.QueryRowContext(ctx,
		"SELECT available, requested FROM stock_rejections WHERE order_id = $1 AND product_id = $2 AND movement_type = $3",
		orderID, productID, string(movementType),
	).Scan(&rejected.Available, &rejected.Requested)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up stock rejection: %w", err)
	}
	return rejected, nil
}

func recordRejection(ctx context.Context, tx *sql.Tx, orderID int64, req models.MovementRequest, rejected *models.InsufficientStockError) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stock_rejections (order_id, product_id, movement_type, requested, available, event_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, product_id, movement_type) DO NOTHING`,
		orderID, req.ProductID, string(req.Type), rejected.Requested, rejected.Available, req.EventID,
	); err != nil {
		return fmt.Errorf("failed to record stock rejection: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price,
		&p.StockAvailable, &p.StockMinimum, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanMovements(rows *sql.Rows) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	for rows.Next() {
		var (
			m       models.StockMovement
			orderID sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock,
			&orderID, &m.EventID, &m.Reason, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		if orderID.Valid {
			id := orderID.Int64
			m.OrderID = &id
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read movements: %w", err)
	}
	return movements, nil
}

func lockError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
