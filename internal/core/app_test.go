package core

import (
	"context"
	"testing"
	"time"

	"shelfwatch/internal/config"
)

func validCfg() *config.Config {
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.Sources.Snapshot.Enabled = true
	cfg.Sources.Snapshot.Dir = "/tmp/snapshots"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	ctx := context.Background()

	if err := validateConfig(ctx, validCfg()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg := validCfg()
	cfg.Telegram.Token = ""
	if err := validateConfig(ctx, cfg); err == nil {
		t.Error("missing token accepted")
	}

	cfg = validCfg()
	cfg.Tracker.Schedule = "not a cron spec"
	if err := validateConfig(ctx, cfg); err == nil {
		t.Error("bad schedule accepted")
	}

	cfg = validCfg()
	cfg.Tracker.Schedule = "@every 30m"
	if err := validateConfig(ctx, cfg); err != nil {
		t.Errorf("@every schedule rejected: %v", err)
	}

	cfg = validCfg()
	cfg.Sources.Snapshot.Enabled = false
	if err := validateConfig(ctx, cfg); err == nil {
		t.Error("config with no sources accepted")
	}

	cfg = validCfg()
	cfg.Sources.API.Enabled = true
	if err := validateConfig(ctx, cfg); err == nil {
		t.Error("API source without base_url accepted")
	}

	cfg = validCfg()
	cfg.Notify.RetryBase = "soon"
	if err := validateConfig(ctx, cfg); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestNotifyConfigMapping(t *testing.T) {
	cfg := validCfg()
	cfg.Notify.RetryMax = 4
	cfg.Notify.RetryBase = "250ms"
	cfg.Notify.RatePerSec = 10
	cfg.Telegram.AuditChat = -100

	got, err := notifyConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryMax != 4 || got.RetryBase != 250*time.Millisecond || got.RatePerSec != 10 || got.AuditChat != -100 {
		t.Errorf("notify config = %+v", got)
	}
	// Defaults fill omitted fields.
	if got.RetryMaxDelay != 10*time.Second {
		t.Errorf("retry max delay = %v", got.RetryMaxDelay)
	}
}

func TestRunnerConfigMapping(t *testing.T) {
	cfg := validCfg()
	cfg.Tracker.Schedule = "@every 1h"
	cfg.Tracker.Timezone = "Europe/London"
	cfg.Tracker.SellerDelay = "7s"
	cfg.Tracker.SkipWindow = "20m"

	got, err := runnerConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Schedule != "@every 1h" || got.SellerDelay != 7*time.Second || got.SkipWindow != 20*time.Minute {
		t.Errorf("runner config = %+v", got)
	}
}

func TestValidSellerID(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"A25WS8YVXEJW8B", true},
		{"a25ws8yvxejw8b", true},
		{"SHORT", false},
		{"A25WS8YVXEJW8B!!", false},
		{"", false},
	}
	for _, c := range cases {
		if got := validSellerID(c.in); got != c.ok {
			t.Errorf("validSellerID(%q) = %v, want %v", c.in, got, c.ok)
		}
	}
}
