package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "shelfwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout under the configured directory:
//   - users/<id>.json          (one blob per user, atomic replace)
//   - inventory/<seller>.json  (one blob per seller, atomic replace)
//   - checks.json              (seller id -> unix milli map)
//   - audit.jsonl              (append-only JSON Lines)
//
// Check timestamps are rewritten whole; they are best-effort throttle state
// and safe to lose.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dir       string
	auditFile *os.File
	checks    map[string]int64 // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	for _, sub := range []string{"users", "inventory"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}

	checks := map[string]int64{}
	if b, err := os.ReadFile(filepath.Join(dir, "checks.json")); err == nil {
		// Corrupt throttle state is discarded, not fatal.
		if err := json.Unmarshal(b, &checks); err != nil {
			log.Warn("discarding unreadable checks.json", logx.Err(err))
			checks = map[string]int64{}
		}
	}

	af, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, dir: dir, auditFile: af, checks: checks}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}

func (s *fileStore) userPath(userID int64) string {
	return filepath.Join(s.dir, "users", strconv.FormatInt(userID, 10)+".json")
}

func (s *fileStore) inventoryPath(sellerID string) string {
	return filepath.Join(s.dir, "inventory", sanitizeKey(sellerID)+".json")
}

func (s *fileStore) GetUser(ctx context.Context, userID int64) ([]byte, bool, error) {
	_ = ctx
	return readBlob(s.userPath(userID))
}

func (s *fileStore) PutUser(ctx context.Context, userID int64, blob []byte) error {
	_ = ctx
	return writeBlobAtomic(s.userPath(userID), blob)
}

func (s *fileStore) ListUsers(ctx context.Context) ([]int64, error) {
	_ = ctx
	entries, err := os.ReadDir(filepath.Join(s.dir, "users"))
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if id, err := strconv.ParseInt(name, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fileStore) GetInventory(ctx context.Context, sellerID string) ([]byte, bool, error) {
	_ = ctx
	return readBlob(s.inventoryPath(sellerID))
}

func (s *fileStore) PutInventory(ctx context.Context, sellerID string, blob []byte) error {
	_ = ctx
	return writeBlobAtomic(s.inventoryPath(sellerID), blob)
}

func (s *fileStore) DeleteInventory(ctx context.Context, sellerID string) error {
	_ = ctx
	err := os.Remove(s.inventoryPath(sellerID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileStore) GetCheck(ctx context.Context, sellerID string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	ms, ok := s.checks[sellerID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) PutCheck(ctx context.Context, sellerID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[sellerID] = at.UnixMilli()
	b, err := json.Marshal(s.checks)
	if err != nil {
		return err
	}
	return writeBlobAtomic(filepath.Join(s.dir, "checks.json"), b)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func readBlob(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// writeBlobAtomic replaces path via a same-dir temp file so a crash mid-write
// never leaves a torn record.
func writeBlobAtomic(path string, blob []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sanitizeKey keeps seller ids path-safe. Marketplace seller ids are
// alphanumeric in practice; anything else is percent-escaped conservatively.
func sanitizeKey(k string) string {
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteString("%" + strconv.FormatInt(int64(c), 16))
		}
	}
	return b.String()
}
