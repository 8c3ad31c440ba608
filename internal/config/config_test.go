package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for explicit missing config file")
	}

	// No explicit path: defaults apply even without a config file.
	wd, _ := os.Getwd()
	tmp := t.TempDir()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("interval = %s, want 1m", cfg.Scheduler.Interval)
	}
	if got := cfg.Detection.Thresholds; len(got) != 4 || got[0] != 5 || got[3] != 20 {
		t.Fatalf("thresholds = %v, want [5 10 15 20]", got)
	}
	if cfg.Cooldown.Duration != 24*time.Hour {
		t.Fatalf("cooldown duration = %s, want 24h", cfg.Cooldown.Duration)
	}
	if cfg.Recovery.Horizon != 720*time.Hour {
		t.Fatalf("recovery horizon = %s, want 720h", cfg.Recovery.Horizon)
	}
	if len(cfg.Markets) != 2 {
		t.Fatalf("expected 2 default markets, got %d", len(cfg.Markets))
	}
	if cfg.Markets[0].ID != "NSE" || cfg.Markets[1].ID != "NASDAQ" {
		t.Fatalf("unexpected default markets %v, %v", cfg.Markets[0].ID, cfg.Markets[1].ID)
	}
	if cfg.Markets[0].YahooSuffix != ".NS" {
		t.Fatalf("NSE yahoo suffix = %q, want .NS", cfg.Markets[0].YahooSuffix)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := []byte(`
scheduler:
  interval: 30s
detection:
  thresholds: [3, 7]
  critical_at: 7
markets:
  - id: TEST
    currency: "$"
    timezone: UTC
    open: "09:00"
    close: "17:00"
    sources:
      STOCK: [yahoo]
`)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("interval = %s, want 30s", cfg.Scheduler.Interval)
	}
	if len(cfg.Detection.Thresholds) != 2 || cfg.Detection.Thresholds[1] != 7 {
		t.Fatalf("thresholds = %v, want [3 7]", cfg.Detection.Thresholds)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].ID != "TEST" {
		t.Fatalf("markets = %+v, want the configured TEST market", cfg.Markets)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Scheduler.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero interval")
	}

	cfg = base()
	cfg.Detection.Thresholds = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty threshold ladder")
	}

	cfg = base()
	cfg.Cooldown.RecoveryFraction = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for recovery fraction above 1")
	}

	cfg = base()
	cfg.Markets = append(cfg.Markets, cfg.Markets[0])
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate market id")
	}

	cfg = base()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for telegram without credentials")
	}
}
