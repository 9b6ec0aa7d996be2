package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/order-service/models"
)

const orderColumns = `id, client_id, order_number, status, payment_status,
	subtotal, shipping_cost, tax_amount, discount_amount, total_amount,
	client_email, client_first_name, client_last_name, client_phone,
	shipping_address, billing_address, carrier, tracking_number,
	client_comment, internal_comment,
	created_at, updated_at, validated_at, paid_at, shipped_at, delivered_at, cancelled_at`

const itemColumns = `id, order_id, product_id, product_name, product_sku, unit_price, quantity, subtotal, created_at`

// MutateFunc changes a loaded order in memory and returns the events the
// change produced. Returning an error aborts the unit of work.
type MutateFunc func(order *models.Order) ([]events.Envelope, error)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var shipping, billing []byte
	err := row.Scan(
		&o.ID, &o.ClientID, &o.OrderNumber, &o.Status, &o.PaymentStatus,
		&o.Subtotal, &o.ShippingCost, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.ClientEmail, &o.ClientFirstName, &o.ClientLastName, &o.ClientPhone,
		&shipping, &billing, &o.Carrier, &o.TrackingNumber,
		&o.ClientComment, &o.InternalComment,
		&o.CreatedAt, &o.UpdatedAt, &o.ValidatedAt, &o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if o.ShippingAddress, err = decodeAddress(shipping); err != nil {
		return nil, err
	}
	if o.BillingAddress, err = decodeAddress(billing); err != nil {
		return nil, err
	}
	o.Items = []models.OrderItem{}
	return &o, nil
}

func decodeAddress(data []byte) (*models.Address, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var addr models.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}
	return &addr, nil
}

func encodeAddress(addr *models.Address) (any, error) {
	if addr == nil {
		return nil, nil
	}
	data, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode address: %w", err)
	}
	return string(data), nil
}

func (r *OrderRepository) loadOrder(ctx context.Context, q queryer, query string, args ...any) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, q, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// attachItems loads the items of all given orders in one query.
func (r *OrderRepository) attachItems(ctx context.Context, q queryer, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = ANY($1) ORDER BY id",
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductSKU,
			&it.UnitPrice, &it.Quantity, &it.Subtotal, &it.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func (r *OrderRepository) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := r.loadOrder(ctx, r.db, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (r *OrderRepository) FindCart(ctx context.Context, clientID int64) (*models.Order, error) {
	order, err := r.loadOrder(ctx, r.db,
		"SELECT "+orderColumns+" FROM orders WHERE client_id = $1 AND status = 'CART'", clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}
	return order, nil
}

// CreateCart inserts cart unless the client already has one, then returns
// whichever cart is stored. The partial unique index on open carts makes
// concurrent callers converge on a single row.
func (r *OrderRepository) CreateCart(ctx context.Context, cart *models.Order) (*models.Order, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (client_id, order_number, status, payment_status,
			subtotal, shipping_cost, tax_amount, discount_amount, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (client_id) WHERE status = 'CART' DO NOTHING`,
		cart.ClientID, cart.OrderNumber, cart.Status, cart.PaymentStatus,
		cart.Subtotal, cart.ShippingCost, cart.TaxAmount, cart.DiscountAmount, cart.TotalAmount,
		cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return r.FindCart(ctx, cart.ClientID)
}

func (r *OrderRepository) ListByClient(ctx context.Context, clientID int64, limit, offset int) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE client_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		clientID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.attachItems(ctx, r.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Update is the unit of work of the order aggregate: the order is locked,
// mutated by fn, and written back together with the produced events in one
// transaction.
func (r *OrderRepository) Update(ctx context.Context, orderID int64, fn MutateFunc) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := r.loadOrder(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	envs, err := fn(order)
	if err != nil {
		return nil, err
	}

	if err := saveOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := saveItems(ctx, tx, order); err != nil {
		return nil, err
	}
	for _, env := range envs {
		if err := AppendOutbox(ctx, tx, events.TopicOrderEvents, env); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return order, nil
}

func saveOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	shipping, err := encodeAddress(o.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := encodeAddress(o.BillingAddress)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, payment_status = $3,
			subtotal = $4, shipping_cost = $5, tax_amount = $6, discount_amount = $7, total_amount = $8,
			client_email = $9, client_first_name = $10, client_last_name = $11, client_phone = $12,
			shipping_address = $13, billing_address = $14, carrier = $15, tracking_number = $16,
			client_comment = $17, internal_comment = $18, updated_at = $19,
			validated_at = $20, paid_at = $21, shipped_at = $22, delivered_at = $23, cancelled_at = $24
		WHERE id = $1`,
		o.ID, o.Status, o.PaymentStatus,
		o.Subtotal, o.ShippingCost, o.TaxAmount, o.DiscountAmount, o.TotalAmount,
		o.ClientEmail, o.ClientFirstName, o.ClientLastName, o.ClientPhone,
		shipping, billing, o.Carrier, o.TrackingNumber,
		o.ClientComment, o.InternalComment, o.UpdatedAt,
		o.ValidatedAt, o.PaidAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func saveItems(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	productIDs := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		productIDs = append(productIDs, it.ProductID)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM order_items WHERE order_id = $1 AND NOT (product_id = ANY($2))",
		o.ID, pq.Array(productIDs),
	); err != nil {
		return fmt.Errorf("failed to delete removed items: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, product_sku, unit_price, quantity, subtotal, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (order_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity, subtotal = EXCLUDED.subtotal
			RETURNING id`,
			it.OrderID, it.ProductID, it.ProductName, it.ProductSKU, it.UnitPrice, it.Quantity, it.Subtotal, it.CreatedAt,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("failed to save order item: %w", err)
		}
	}
	return nil
}

// AppendOutbox stores env for the relay inside the caller's transaction,
// together with the trace context of ctx.
func AppendOutbox(ctx context.Context, tx *sql.Tx, topic string, env events.Envelope) error {
	payload, err := events.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO order_outbox (event_id, topic, event_key, event_type, payload, trace_context) VALUES ($1, $2, $3, $4, $5, $6)",
		env.EventID, topic, env.Key(), string(env.EventType), payload, events.EncodeTrace(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}
