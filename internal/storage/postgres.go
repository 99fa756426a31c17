package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	logx "shelfwatch/pkg/logx"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS shelfwatch_users (
    user_id BIGINT PRIMARY KEY,
    blob    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS shelfwatch_inventory (
    seller_id TEXT PRIMARY KEY,
    blob      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS shelfwatch_checks (
    seller_id TEXT PRIMARY KEY,
    at_ms     BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS shelfwatch_audit (
    id         BIGSERIAL PRIMARY KEY,
    at         TIMESTAMPTZ NOT NULL,
    cycle_id   TEXT,
    user_id    BIGINT NOT NULL,
    seller_id  TEXT NOT NULL,
    product_id TEXT NOT NULL,
    title      TEXT,
    delivered  BOOLEAN NOT NULL,
    attempts   INT NOT NULL,
    err        TEXT
);`

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) GetUser(ctx context.Context, userID int64) ([]byte, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM shelfwatch_users WHERE user_id = $1`, userID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(blob), true, nil
}

func (s *postgresStore) PutUser(ctx context.Context, userID int64, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shelfwatch_users(user_id, blob) VALUES($1,$2)
		 ON CONFLICT(user_id) DO UPDATE SET blob=EXCLUDED.blob`,
		userID, string(blob),
	)
	return err
}

func (s *postgresStore) ListUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM shelfwatch_users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *postgresStore) GetInventory(ctx context.Context, sellerID string) ([]byte, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM shelfwatch_inventory WHERE seller_id = $1`, sellerID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(blob), true, nil
}

func (s *postgresStore) PutInventory(ctx context.Context, sellerID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shelfwatch_inventory(seller_id, blob) VALUES($1,$2)
		 ON CONFLICT(seller_id) DO UPDATE SET blob=EXCLUDED.blob`,
		sellerID, string(blob),
	)
	return err
}

func (s *postgresStore) DeleteInventory(ctx context.Context, sellerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shelfwatch_inventory WHERE seller_id = $1`, sellerID)
	return err
}

func (s *postgresStore) GetCheck(ctx context.Context, sellerID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT at_ms FROM shelfwatch_checks WHERE seller_id = $1`, sellerID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *postgresStore) PutCheck(ctx context.Context, sellerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shelfwatch_checks(seller_id, at_ms) VALUES($1,$2)
		 ON CONFLICT(seller_id) DO UPDATE SET at_ms=EXCLUDED.at_ms`,
		sellerID, at.UnixMilli(),
	)
	return err
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shelfwatch_audit(at, cycle_id, user_id, seller_id, product_id, title, delivered, attempts, err)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.At, nullStr(e.CycleID), e.UserID, e.SellerID,
		e.ProductID, nullStr(e.Title), e.Delivered, e.Attempts, nullStr(e.Error),
	)
	return err
}
