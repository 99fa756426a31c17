package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "shelfwatch/pkg/logx"
)

// Store is the persistence API used by the tracker core.
//
// User and inventory records are opaque JSON blobs owned by their packages.
// Every method must be safe for sequential use from the cycle loop plus
// concurrent reads from command handlers.
type Store interface {
	GetUser(ctx context.Context, userID int64) (blob []byte, ok bool, err error)
	PutUser(ctx context.Context, userID int64, blob []byte) error
	ListUsers(ctx context.Context) ([]int64, error)

	GetInventory(ctx context.Context, sellerID string) (blob []byte, ok bool, err error)
	PutInventory(ctx context.Context, sellerID string, blob []byte) error
	DeleteInventory(ctx context.Context, sellerID string) error

	GetCheck(ctx context.Context, sellerID string) (at time.Time, ok bool, err error)
	PutCheck(ctx context.Context, sellerID string, at time.Time) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
