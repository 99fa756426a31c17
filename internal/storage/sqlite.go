package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "shelfwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetUser(ctx context.Context, userID int64) ([]byte, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM users WHERE user_id = ?`, userID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(blob), true, nil
}

func (s *sqliteStore) PutUser(ctx context.Context, userID int64, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, blob) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET blob=excluded.blob`,
		userID, string(blob),
	)
	return err
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
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

func (s *sqliteStore) GetInventory(ctx context.Context, sellerID string) ([]byte, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM inventory WHERE seller_id = ?`, sellerID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(blob), true, nil
}

func (s *sqliteStore) PutInventory(ctx context.Context, sellerID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory(seller_id, blob) VALUES(?,?)
		 ON CONFLICT(seller_id) DO UPDATE SET blob=excluded.blob`,
		sellerID, string(blob),
	)
	return err
}

func (s *sqliteStore) DeleteInventory(ctx context.Context, sellerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM inventory WHERE seller_id = ?`, sellerID)
	return err
}

func (s *sqliteStore) GetCheck(ctx context.Context, sellerID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT at_ms FROM checks WHERE seller_id = ?`, sellerID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) PutCheck(ctx context.Context, sellerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checks(seller_id, at_ms) VALUES(?,?)
		 ON CONFLICT(seller_id) DO UPDATE SET at_ms=excluded.at_ms`,
		sellerID, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, cycle_id, user_id, seller_id, product_id, title, delivered, attempts, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.CycleID), e.UserID, e.SellerID,
		e.ProductID, nullStr(e.Title), e.Delivered, e.Attempts, nullStr(e.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
