package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/microcommerce/stock-saga/events"
	"github.com/microcommerce/stock-saga/order-service/models"
	"github.com/shopspring/decimal"
)

var (
	orderColumnNames = []string{"id", "client_id", "order_number", "status", "payment_status",
		"subtotal", "shipping_cost", "tax_amount", "discount_amount", "total_amount",
		"client_email", "client_first_name", "client_last_name", "client_phone",
		"shipping_address", "billing_address", "carrier", "tracking_number",
		"client_comment", "internal_comment",
		"created_at", "updated_at", "validated_at", "paid_at", "shipped_at", "delivered_at", "cancelled_at"}
	itemColumnNames = []string{"id", "order_id", "product_id", "product_name", "product_sku", "unit_price", "quantity", "subtotal", "created_at"}
)

func orderRow(rows *sqlmock.Rows, id, clientID int64, status models.OrderStatus, total string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, clientID, "ORD-20240101000000-ABCDEF12", string(status), "PENDING",
		total, "0.00", "0.00", "0.00", total,
		"", "", "", "",
		[]byte(`{"street":"1 Main St","city":"Springfield","postal_code":"1","country":"US"}`), nil, "", "",
		"", "",
		now, now, nil, nil, nil, nil, nil)
}

func setupRepository(t *testing.T) (*OrderRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOrderRepository(db), mock
}

func TestGetOrder(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(int64(10)).
		WillReturnRows(orderRow(sqlmock.NewRows(orderColumnNames), 10, 1, models.OrderStatusCart, "20.00"))
	mock.ExpectQuery("SELECT (.+) FROM order_items WHERE order_id = ANY\\(\\$1\\) ORDER BY id").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(itemColumnNames).
			AddRow(1, 10, 5, "Lamp", "L-5", "10.00", 2, "20.00", time.Now()))

	order, err := repo.Get(context.Background(), 10)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Errorf("Expected one item with quantity 2, got %+v", order.Items)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("20")) {
		t.Errorf("Expected total 20, got %s", order.TotalAmount)
	}
	if order.ShippingAddress == nil || order.ShippingAddress.City != "Springfield" {
		t.Errorf("Expected decoded shipping address, got %+v", order.ShippingAddress)
	}
	if order.BillingAddress != nil {
		t.Errorf("Expected nil billing address, got %+v", order.BillingAddress)
	}
	if order.ValidatedAt != nil {
		t.Errorf("Expected nil validatedAt")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows(orderColumnNames))

	if _, err := repo.Get(context.Background(), 999); !errors.Is(err, models.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestCreateCartConvergesOnExistingCart(t *testing.T) {
	repo, mock := setupRepository(t)
	cart := models.NewCart(1, decimal.Zero, time.Now())

	// conflict on the open-cart index inserts nothing
	mock.ExpectExec("INSERT INTO orders (.+) ON CONFLICT \\(client_id\\) WHERE status = 'CART' DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE client_id = \\$1 AND status = 'CART'").
		WithArgs(int64(1)).
		WillReturnRows(orderRow(sqlmock.NewRows(orderColumnNames), 7, 1, models.OrderStatusCart, "0.00"))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WillReturnRows(sqlmock.NewRows(itemColumnNames))

	got, err := repo.CreateCart(context.Background(), cart)
	if err != nil {
		t.Fatalf("CreateCart failed: %v", err)
	}
	if got.ID != 7 {
		t.Errorf("Expected existing cart 7, got %d", got.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestFindCartNotFound(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE client_id = \\$1 AND status = 'CART'").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(orderColumnNames))

	if _, err := repo.FindCart(context.Background(), 3); !errors.Is(err, models.ErrCartNotFound) {
		t.Errorf("Expected ErrCartNotFound, got %v", err)
	}
}

func TestUpdateWritesOrderItemsAndOutboxAtomically(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(orderRow(sqlmock.NewRows(orderColumnNames), 10, 1, models.OrderStatusCart, "0.00"))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WillReturnRows(sqlmock.NewRows(itemColumnNames))
	mock.ExpectExec("UPDATE orders SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM order_items WHERE order_id = \\$1 AND NOT \\(product_id = ANY\\(\\$2\\)\\)").
		WithArgs(int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO order_items (.+) ON CONFLICT \\(order_id, product_id\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(55))
	mock.ExpectExec("INSERT INTO order_outbox").
		WithArgs(sqlmock.AnyArg(), events.TopicOrderEvents, "10", "ITEM_ADDED", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order, err := repo.Update(context.Background(), 10, func(o *models.Order) ([]events.Envelope, error) {
		p := models.ProductSnapshot{ProductID: 5, Name: "Lamp", SKU: "L-5", UnitPrice: decimal.RequireFromString("10.00")}
		if err := o.AddItem(p, 2, time.Now()); err != nil {
			return nil, err
		}
		return []events.Envelope{o.Event(events.ItemAdded)}, nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if len(order.Items) != 1 || order.Items[0].ID != 55 {
		t.Errorf("Expected stored item id 55, got %+v", order.Items)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("20")) {
		t.Errorf("Expected total 20, got %s", order.TotalAmount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestUpdateRollsBackOnMutationError(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(10)).
		WillReturnRows(orderRow(sqlmock.NewRows(orderColumnNames), 10, 1, models.OrderStatusCart, "0.00"))
	mock.ExpectQuery("SELECT (.+) FROM order_items").
		WillReturnRows(sqlmock.NewRows(itemColumnNames))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), 10, func(o *models.Order) ([]events.Envelope, error) {
		return nil, o.Validate(nil, nil, nil, time.Now())
	})
	if !errors.Is(err, models.ErrEmptyOrder) {
		t.Errorf("Expected ErrEmptyOrder, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestUpdateMissingOrder(t *testing.T) {
	repo, mock := setupRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(orderColumnNames))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), 404, func(o *models.Order) ([]events.Envelope, error) {
		t.Error("Mutation must not run for a missing order")
		return nil, nil
	})
	if !errors.Is(err, models.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestListByClient(t *testing.T) {
	repo, mock := setupRepository(t)

	rows := sqlmock.NewRows(orderColumnNames)
	orderRow(rows, 2, 1, models.OrderStatusPending, "5.00")
	orderRow(rows, 1, 1, models.OrderStatusCancelled, "7.00")

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE client_id = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs(int64(1), 20, 0).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT (.+) FROM order_items WHERE order_id = ANY").
		WillReturnRows(sqlmock.NewRows(itemColumnNames).
			AddRow(1, 1, 9, "Cup", "C-9", "7.00", 1, "7.00", time.Now()).
			AddRow(2, 2, 8, "Pen", "P-8", "5.00", 1, "5.00", time.Now()))

	orders, err := repo.ListByClient(context.Background(), 1, 20, 0)
	if err != nil {
		t.Fatalf("ListByClient failed: %v", err)
	}

	if len(orders) != 2 {
		t.Fatalf("Expected 2 orders, got %d", len(orders))
	}
	if len(orders[0].Items) != 1 || orders[0].Items[0].ProductID != 8 {
		t.Errorf("Expected order 2 to own product 8, got %+v", orders[0].Items)
	}
	if len(orders[1].Items) != 1 || orders[1].Items[0].ProductID != 9 {
		t.Errorf("Expected order 1 to own product 9, got %+v", orders[1].Items)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
