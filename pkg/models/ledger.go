package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is an immutable record of one credit movement. Entries are
// append-only; balance corrections are new entries, never updates.
type LedgerEntry struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	UserID       uuid.UUID  `db:"user_id"       json:"user_id"`
	Delta        int        `db:"delta"         json:"delta"`
	BalanceAfter int        `db:"balance_after" json:"balance_after"`
	JobID        *uuid.UUID `db:"job_id"        json:"job_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
}
