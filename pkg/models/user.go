package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns jobs and a credit balance. Credits are deducted exactly once per
// job, on the transition into completed.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	Credits   int       `db:"credits"    json:"credits"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
