// Package models defines the persistence-layer types of the marketplace:
// users, shops, infrastructure providers, the connections linking them, and
// the append-only payment history ledger.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleProvider = "provider"
)

// User represents an account that owns shops and/or infrastructure providers
type User struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
