package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{
		"telegram": {"token": "x:y", "admin_user_ids": [1], "audit_chat": -100},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {"driver": "sqlite", "path": "./db"},
		"sources": {
			"api": {"enabled": true, "base_url": "https://api.example.com"},
			"snapshot": {"enabled": true, "dir": "./snap", "max_age": "12h"},
			"scrape": {"enabled": true, "marketplace": "co.uk", "max_pages": 7}
		},
		"tracker": {"schedule": "@every 30m", "seller_delay": "3s", "skip_window": "1h"}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "x:y" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
	if !cfg.Sources.Scrape.Enabled || cfg.Sources.Scrape.MaxPages != 7 {
		t.Errorf("scrape = %+v", cfg.Sources.Scrape)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "x:y"
  admin_user_ids: [1, 2]
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: file
  path: ./data
sources:
  api:
    enabled: false
  snapshot:
    enabled: true
    dir: ./snap
  scrape:
    enabled: true
    marketplace: co.uk
tracker:
  schedule: "@every 1h"
users:
  tiers:
    "1": gold
  overrides:
    "2": 12
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 {
		t.Errorf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.Users.Tiers["1"] != "gold" || cfg.Users.Overrides["2"] != 12 {
		t.Errorf("users = %+v", cfg.Users)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeTemp(t, "config.json", `{"telegram": {"token": "x"}, "botnet": true}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	path := writeTemp(t, "config.json", `{"telegram": {"token": "x"}}{"again": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestDurationField(t *testing.T) {
	if d, err := DurationField("x", "90s", 0); err != nil || d != 90*time.Second {
		t.Errorf("got %v, %v", d, err)
	}
	if d, err := DurationField("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Errorf("empty: got %v, %v", d, err)
	}
	if d, err := DurationField("x", "0s", 3*time.Second); err != nil || d != 3*time.Second {
		t.Errorf("zero: got %v, %v", d, err)
	}
	if _, err := DurationField("x", "-1s", 0); err == nil {
		t.Error("negative duration accepted")
	}
	if _, err := DurationField("x", "soon", 0); err == nil {
		t.Error("junk duration accepted")
	}
}
