package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (one JSON file per key)
//   - "sqlite": SQLite database file
//   - "postgres": Postgres via DSN
type Config struct {
	Driver      string
	Path        string        // file dir or sqlite db path
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one notification delivery outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	CycleID   string    `json:"cycle_id,omitempty"`
	UserID    int64     `json:"user_id"`
	SellerID  string    `json:"seller_id"`
	ProductID string    `json:"product_id"`
	Title     string    `json:"title,omitempty"`
	Delivered bool      `json:"delivered"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
}
