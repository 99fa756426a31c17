package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shelfwatch/internal/catalog"
	logx "shelfwatch/pkg/logx"
)

const snapshotSchemaVersion = 1

// DefaultSnapshotMaxAge is how long a stored snapshot stays servable.
const DefaultSnapshotMaxAge = 12 * time.Hour

// snapshotFile is the canonical on-disk layout, one file per seller.
type snapshotFile struct {
	SchemaVersion int               `json:"schema_version"`
	SellerID      string            `json:"seller_id"`
	SellerName    string            `json:"seller_name,omitempty"`
	SavedAt       time.Time         `json:"saved_at"`
	Products      []catalog.Product `json:"products"`
}

// SnapshotSource serves product lists captured from earlier live fetches.
// Entries older than MaxAge are treated as absent so a dead live source
// cannot keep feeding week-old inventory into the tracker.
type SnapshotSource struct {
	dir    string
	maxAge time.Duration
	log    logx.Logger
}

func NewSnapshotSource(dir string, maxAge time.Duration, log logx.Logger) (*SnapshotSource, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot source: directory required")
	}
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot source: create dir: %w", err)
	}
	return &SnapshotSource{dir: dir, maxAge: maxAge, log: log}, nil
}

func (s *SnapshotSource) Name() string { return "snapshot" }
func (s *SnapshotSource) Cached() bool { return true }

func (s *SnapshotSource) path(sellerID string) string {
	return filepath.Join(s.dir, sanitizeName(sellerID)+".json")
}

func (s *SnapshotSource) FetchProducts(ctx context.Context, sellerID string) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.path(sellerID)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap, migrated, err := decodeSnapshot(raw, sellerID, fileModTime(path))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sellerID, err)
	}
	if migrated {
		s.log.Info("migrated legacy snapshot", logx.String("seller", sellerID))
		if err := s.write(snap); err != nil {
			s.log.Warn("rewrite migrated snapshot", logx.String("seller", sellerID), logx.Err(err))
		}
	}

	if age := time.Since(snap.SavedAt); age > s.maxAge {
		s.log.Debug("snapshot too old",
			logx.String("seller", sellerID), logx.Duration("age", age))
		return nil, nil
	}
	return snap.Products, nil
}

// Save captures a live fetch result. An empty sellerName keeps any name
// already stored for this seller.
func (s *SnapshotSource) Save(sellerID, sellerName string, products []catalog.Product) error {
	if sellerName == "" {
		if raw, err := os.ReadFile(s.path(sellerID)); err == nil {
			if prev, _, err := decodeSnapshot(raw, sellerID, time.Time{}); err == nil {
				sellerName = prev.SellerName
			}
		}
	}
	return s.write(snapshotFile{
		SchemaVersion: snapshotSchemaVersion,
		SellerID:      sellerID,
		SellerName:    sellerName,
		SavedAt:       time.Now().UTC(),
		Products:      products,
	})
}

func (s *SnapshotSource) write(snap snapshotFile) error {
	snap.SchemaVersion = snapshotSchemaVersion
	blob, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(snap.SellerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// decodeSnapshot accepts the canonical layout plus two legacy ones: a bare
// product array, and a wrapper object carrying a unix "timestamp" instead of
// saved_at. Legacy blobs without any timestamp fall back to the file mtime.
func decodeSnapshot(raw []byte, sellerID string, mtime time.Time) (snapshotFile, bool, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var products []catalog.Product
		if err := json.Unmarshal(raw, &products); err != nil {
			return snapshotFile{}, false, err
		}
		return snapshotFile{
			SchemaVersion: snapshotSchemaVersion,
			SellerID:      sellerID,
			SavedAt:       mtime,
			Products:      products,
		}, true, nil
	}

	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snapshotFile{}, false, err
	}
	if snap.SellerID == "" {
		snap.SellerID = sellerID
	}
	if snap.SchemaVersion >= snapshotSchemaVersion && !snap.SavedAt.IsZero() {
		return snap, false, nil
	}

	// Unversioned wrapper; older captures stored a float unix timestamp.
	var legacy struct {
		Timestamp float64 `json:"timestamp"`
	}
	_ = json.Unmarshal(raw, &legacy)
	switch {
	case !snap.SavedAt.IsZero():
		// keep it
	case legacy.Timestamp > 0:
		snap.SavedAt = time.Unix(int64(legacy.Timestamp), 0).UTC()
	default:
		snap.SavedAt = mtime
	}
	snap.SchemaVersion = snapshotSchemaVersion
	return snap, true, nil
}

func fileModTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime().UTC()
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
