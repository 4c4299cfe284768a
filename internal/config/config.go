// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nusagates/laragates-sub001/internal/core"
	"github.com/nusagates/laragates-sub001/internal/sla"
)

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "laragates.yaml"

// Config holds all application configuration.
type Config struct {
	ListenAddr     string         `yaml:"listen_addr"`
	SocketPath     string         `yaml:"socket_path"`
	DBPath         string         `yaml:"db_path"`
	KeysFile       string         `yaml:"keys_file"`
	LogLevel       string         `yaml:"log_level"`
	Capacity       CapacityConfig `yaml:"capacity"`
	LockTimeout    time.Duration  `yaml:"lock_timeout"`
	HeartbeatGrace time.Duration  `yaml:"heartbeat_grace"`
	SLA            SLAConfig      `yaml:"sla"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
	Archive        ArchiveConfig  `yaml:"archive"`
}

type CapacityConfig struct {
	DefaultMaxOpen int `yaml:"default_max_open"`
}

type SLAConfig struct {
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	PendingToOngoing struct {
		MaxMinutes int `yaml:"max_minutes"`
	} `yaml:"pending_to_ongoing"`
	OngoingToClosed struct {
		Low    int `yaml:"low"`
		Medium int `yaml:"medium"`
		High   int `yaml:"high"`
	} `yaml:"ongoing_to_closed"`
}

// RateLimit bounds requests per actor within a fixed window that starts at
// the first request and resets once Window has passed.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{
		ListenAddr:     "127.0.0.1:7420",
		DBPath:         "./data/laragates.db",
		KeysFile:       "laragates.keys.yaml",
		LogLevel:       "info",
		LockTimeout:    5 * time.Second,
		HeartbeatGrace: 2 * time.Minute,
		RateLimit:      RateLimit{Requests: 30, Window: 10 * time.Second},
		Archive: ArchiveConfig{
			Dir:       "./data/archive",
			Retention: 90 * 24 * time.Hour,
			Interval:  time.Hour,
			BatchSize: 100,
		},
	}
	cfg.Capacity.DefaultMaxOpen = 5
	cfg.SLA.SweepInterval = time.Minute
	d := sla.DefaultThresholds()
	cfg.SLA.PendingToOngoing.MaxMinutes = d.PendingToOngoing
	cfg.SLA.OngoingToClosed.Low = d.OngoingToClosed[core.PriorityLow]
	cfg.SLA.OngoingToClosed.Medium = d.OngoingToClosed[core.PriorityMedium]
	cfg.SLA.OngoingToClosed.High = d.OngoingToClosed[core.PriorityHigh]
	return cfg
}

// Load layers defaults, the YAML file at path and LARAGATES_* environment
// variables, in that order. An empty path reads DefaultPath if present.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = getEnv("LARAGATES_CONFIG", DefaultPath)
		explicit = path != DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("LARAGATES_LISTEN_ADDR", c.ListenAddr)
	c.SocketPath = getEnv("LARAGATES_SOCKET", c.SocketPath)
	c.DBPath = getEnv("LARAGATES_DB_PATH", c.DBPath)
	c.KeysFile = getEnv("LARAGATES_KEYS_FILE", c.KeysFile)
	c.LogLevel = getEnv("LARAGATES_LOG_LEVEL", c.LogLevel)
	c.Capacity.DefaultMaxOpen = getEnvInt("LARAGATES_DEFAULT_MAX_OPEN", c.Capacity.DefaultMaxOpen)
	c.LockTimeout = getEnvDuration("LARAGATES_LOCK_TIMEOUT", c.LockTimeout)
	c.HeartbeatGrace = getEnvDuration("LARAGATES_HEARTBEAT_GRACE", c.HeartbeatGrace)
	c.SLA.SweepInterval = getEnvDuration("LARAGATES_SLA_SWEEP_INTERVAL", c.SLA.SweepInterval)
	c.SLA.PendingToOngoing.MaxMinutes = getEnvInt("LARAGATES_SLA_PENDING_MAX_MINUTES", c.SLA.PendingToOngoing.MaxMinutes)
	c.RateLimit.Requests = getEnvInt("LARAGATES_RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getEnvDuration("LARAGATES_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.Archive.Enabled = getEnvBool("LARAGATES_ARCHIVE_ENABLED", c.Archive.Enabled)
	c.Archive.Dir = getEnv("LARAGATES_ARCHIVE_DIR", c.Archive.Dir)
	c.Archive.Retention = getEnvDuration("LARAGATES_ARCHIVE_RETENTION", c.Archive.Retention)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Capacity.DefaultMaxOpen <= 0 {
		return fmt.Errorf("capacity.default_max_open must be > 0")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be > 0")
	}
	if c.HeartbeatGrace <= 0 {
		return fmt.Errorf("heartbeat_grace must be > 0")
	}
	if c.SLA.SweepInterval <= 0 {
		return fmt.Errorf("sla.sweep_interval must be > 0")
	}
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("sla: %w", err)
	}
	if c.RateLimit.Requests < 0 || (c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit needs a positive window when requests > 0")
	}
	if c.Archive.Enabled {
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir cannot be empty when archive is enabled")
		}
		if c.Archive.Retention <= 0 || c.Archive.Interval <= 0 {
			return fmt.Errorf("archive.retention and archive.interval must be > 0")
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Thresholds returns the SLA thresholds in the evaluator's form.
func (c *Config) Thresholds() sla.Thresholds {
	return sla.Thresholds{
		PendingToOngoing: c.SLA.PendingToOngoing.MaxMinutes,
		OngoingToClosed: map[core.Priority]int{
			core.PriorityLow:    c.SLA.OngoingToClosed.Low,
			core.PriorityMedium: c.SLA.OngoingToClosed.Medium,
			core.PriorityHigh:   c.SLA.OngoingToClosed.High,
		},
	}
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
