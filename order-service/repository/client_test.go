package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/microcommerce/stock-saga/order-service/models"
)

func TestClientRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()
	repo := NewClientRepository(db)
	now := time.Now()

	mock.ExpectExec("INSERT INTO client_profiles (.+) ON CONFLICT \\(client_id\\) DO UPDATE (.+) WHERE client_profiles.updated_at <= EXCLUDED.updated_at").
		WithArgs(int64(1), "ada@example.com", "Ada", "Lovelace", "", true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Upsert(context.Background(), &models.ClientProfile{
		ClientID: 1, Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Active: true, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	mock.ExpectQuery("SELECT client_id, email, first_name, last_name, phone, active, updated_at FROM client_profiles WHERE client_id = \\$1").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "email", "first_name", "last_name", "phone", "active", "updated_at"}).
			AddRow(1, "ada@example.com", "Ada", "Lovelace", "", true, now))

	p, err := repo.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Email != "ada@example.com" || !p.Active {
		t.Errorf("Unexpected profile: %+v", p)
	}

	mock.ExpectQuery("SELECT (.+) FROM client_profiles").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "email", "first_name", "last_name", "phone", "active", "updated_at"}))

	if _, err := repo.Get(context.Background(), 2); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Expected ErrClientNotFound, got %v", err)
	}

	mock.ExpectExec("UPDATE client_profiles SET active = FALSE").
		WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Deactivate(context.Background(), 1, now); err != nil {
		t.Errorf("Deactivate failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
