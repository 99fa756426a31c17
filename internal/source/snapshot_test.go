package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shelfwatch/internal/catalog"
	logx "shelfwatch/pkg/logx"
)

func newSnap(t *testing.T, maxAge time.Duration) (*SnapshotSource, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSnapshotSource(dir, maxAge, logx.Nop())
	if err != nil {
		t.Fatalf("NewSnapshotSource: %v", err)
	}
	return s, dir
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newSnap(t, time.Hour)

	want := []catalog.Product{{ID: "B0C1XYZ001", Title: "Item"}}
	if err := s.Save("S1", "Acme", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.FetchProducts(ctx, "S1")
	if err != nil {
		t.Fatalf("FetchProducts: %v", err)
	}
	if len(got) != 1 || got[0].ID != "B0C1XYZ001" {
		t.Errorf("products = %v", got)
	}
}

func TestSnapshotMissingSeller(t *testing.T) {
	s, _ := newSnap(t, time.Hour)
	got, err := s.FetchProducts(context.Background(), "NOPE")
	if err != nil || got != nil {
		t.Errorf("got %v, %v; want nil, nil", got, err)
	}
}

func TestSnapshotExpiry(t *testing.T) {
	ctx := context.Background()
	s, dir := newSnap(t, time.Hour)

	stale := snapshotFile{
		SchemaVersion: snapshotSchemaVersion,
		SellerID:      "S1",
		SavedAt:       time.Now().Add(-2 * time.Hour),
		Products:      []catalog.Product{{ID: "B0C1XYZ001"}},
	}
	blob, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(dir, "S1.json"), blob, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchProducts(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("stale snapshot served: %v", got)
	}
}

func TestSnapshotLegacyArrayMigration(t *testing.T) {
	ctx := context.Background()
	s, dir := newSnap(t, time.Hour)

	legacy, _ := json.Marshal([]catalog.Product{{ID: "B0C1XYZ001", Title: "Item"}})
	path := filepath.Join(dir, "S1.json")
	if err := os.WriteFile(path, legacy, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchProducts(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("products = %v", got)
	}

	// The file is rewritten in the canonical versioned layout.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.SchemaVersion != snapshotSchemaVersion || snap.SellerID != "S1" {
		t.Errorf("migrated snapshot = %+v", snap)
	}
}

func TestSnapshotLegacyTimestampWrapper(t *testing.T) {
	ctx := context.Background()
	s, dir := newSnap(t, time.Hour)

	old := float64(time.Now().Add(-3 * time.Hour).Unix())
	legacy := map[string]any{
		"timestamp": old,
		"products":  []catalog.Product{{ID: "B0C1XYZ001"}},
	}
	blob, _ := json.Marshal(legacy)
	if err := os.WriteFile(filepath.Join(dir, "S1.json"), blob, 0o644); err != nil {
		t.Fatal(err)
	}

	// Three hours old with a one hour max age: migrated but not served.
	got, err := s.FetchProducts(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expired legacy snapshot served: %v", got)
	}
}

func TestSnapshotSavePreservesName(t *testing.T) {
	s, dir := newSnap(t, time.Hour)

	if err := s.Save("S1", "Acme", []catalog.Product{{ID: "B0C1XYZ001"}}); err != nil {
		t.Fatal(err)
	}
	// Writeback from the chain passes an empty name.
	if err := s.Save("S1", "", []catalog.Product{{ID: "B0C1XYZ002"}}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "S1.json"))
	if err != nil {
		t.Fatal(err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.SellerName != "Acme" {
		t.Errorf("seller name = %q, want Acme", snap.SellerName)
	}
}
