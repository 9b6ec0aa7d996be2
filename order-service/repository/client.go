package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/microcommerce/stock-saga/order-service/models"
)

var ErrClientNotFound = errors.New("client profile not found")

// ClientRepository stores the client read model fed by client events.
type ClientRepository struct {
	db *sql.DB
}

func NewClientRepository(db *sql.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Get(ctx context.Context, clientID int64) (*models.ClientProfile, error) {
	var p models.ClientProfile
	err := r.db.QueryRowContext(ctx,
		"SELECT client_id, email, first_name, last_name, phone, active, updated_at FROM client_profiles WHERE client_id = $1",
		clientID,
	).Scan(&p.ClientID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.Active, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client profile: %w", err)
	}
	return &p, nil
}

// Upsert stores p unless a newer version of the profile is already stored.
func (r *ClientRepository) Upsert(ctx context.Context, p *models.ClientProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO client_profiles (client_id, email, first_name, last_name, phone, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO UPDATE SET
			email = EXCLUDED.email, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
		WHERE client_profiles.updated_at <= EXCLUDED.updated_at`,
		p.ClientID, p.Email, p.FirstName, p.LastName, p.Phone, p.Active, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert client profile: %w", err)
	}
	return nil
}

func (r *ClientRepository) Deactivate(ctx context.Context, clientID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE client_profiles SET active = FALSE, updated_at = $2 WHERE client_id = $1 AND updated_at <= $2",
		clientID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate client profile: %w", err)
	}
	return nil
}
