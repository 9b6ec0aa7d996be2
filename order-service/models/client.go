package models

import "time"

// ClientProfile is the local read model of a client, fed by client events.
type ClientProfile struct {
	ClientID  int64     `json:"client_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}
