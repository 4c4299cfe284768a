package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nusagates/laragates-sub001/internal/core"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	th := cfg.Thresholds()
	if th.PendingToOngoing != 15 || th.OngoingToClosed[core.PriorityHigh] != 60 {
		t.Fatalf("unexpected default thresholds %+v", th)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laragates.yaml")
	body := `
listen_addr: 0.0.0.0:9000
capacity:
  default_max_open: 3
lock_timeout: 2s
sla:
  sweep_interval: 30s
  pending_to_ongoing:
    max_minutes: 10
  ongoing_to_closed:
    low: 300
    medium: 100
    high: 30
archive:
  enabled: true
  dir: /tmp/archive
  retention: 720h
  interval: 1h
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LARAGATES_DEFAULT_MAX_OPEN", "7")
	t.Setenv("LARAGATES_LOCK_TIMEOUT", "not-a-duration")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("listen addr from file not applied: %q", cfg.ListenAddr)
	}
	if cfg.Capacity.DefaultMaxOpen != 7 {
		t.Fatalf("env override not applied: %d", cfg.Capacity.DefaultMaxOpen)
	}
	if cfg.LockTimeout != 2*time.Second {
		t.Fatalf("bad env value should keep file value, got %v", cfg.LockTimeout)
	}
	if cfg.SLA.SweepInterval != 30*time.Second || cfg.Thresholds().OngoingToClosed[core.PriorityMedium] != 100 {
		t.Fatalf("sla section not applied: %+v", cfg.SLA)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Retention != 720*time.Hour {
		t.Fatalf("archive section not applied: %+v", cfg.Archive)
	}
	if cfg.HeartbeatGrace != 2*time.Minute {
		t.Fatalf("unset keys keep defaults, got %v", cfg.HeartbeatGrace)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"capacity", func(c *Config) { c.Capacity.DefaultMaxOpen = 0 }, "default_max_open"},
		{"threshold", func(c *Config) { c.SLA.OngoingToClosed.High = 0 }, "ongoing_to_closed.high"},
		{"archive dir", func(c *Config) { c.Archive.Enabled = true; c.Archive.Dir = "" }, "archive.dir"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
