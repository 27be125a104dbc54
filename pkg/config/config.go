// Package config loads the pipeline's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdziat/engagement-jobs/pkg/alerts"
	"github.com/jdziat/engagement-jobs/pkg/processor"
	"github.com/jdziat/engagement-jobs/pkg/queue"
	"github.com/jdziat/engagement-jobs/pkg/schedule"
	"github.com/jdziat/engagement-jobs/pkg/security"
	"github.com/jdziat/engagement-jobs/pkg/storage"
	"github.com/jdziat/engagement-jobs/pkg/tokens"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// Config is the full pipeline configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Queue        QueueConfig        `yaml:"queue"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Alerts       alerts.Config      `yaml:"alerts"`
	Tokens       TokensConfig       `yaml:"tokens"`
	// Rules overrides the built-in account categories when non-empty.
	Rules   []processor.Rule `yaml:"rules,omitempty"`
	Log     LogConfig        `yaml:"log"`
	Metrics MetricsConfig    `yaml:"metrics"`
}

type DatabaseConfig struct {
	// DSN is a SQLite path or a PostgreSQL URL. Env: ENGAGEMENT_DATABASE_DSN
	DSN  string             `yaml:"dsn"`
	Pool storage.PoolConfig `yaml:"pool"`
}

type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	// BearerToken is the app-only token. Env: X_BEARER_TOKEN
	BearerToken   string        `yaml:"bearer_token"`
	RPS           float64       `yaml:"rps"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxInlineWait time.Duration `yaml:"max_inline_wait"`
	PageSize      int           `yaml:"page_size"`
}

// ClientConfig converts to the HTTP client's configuration.
func (u UpstreamConfig) ClientConfig() upstream.ClientConfig {
	cfg := upstream.DefaultClientConfig()
	cfg.BaseURL = u.BaseURL
	cfg.BearerToken = u.BearerToken
	cfg.RPS = u.RPS
	cfg.Burst = u.Burst
	cfg.Timeout = u.Timeout
	cfg.MaxAttempts = u.MaxAttempts
	cfg.MaxInlineWait = u.MaxInlineWait
	cfg.PageSize = u.PageSize
	return cfg
}

type OrchestratorConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// WorkerID defaults to a random UUID per process.
	WorkerID string `yaml:"worker_id,omitempty"`
	// Cooldown is the rate-limit block used when upstream gives no hint.
	Cooldown time.Duration `yaml:"cooldown"`
	// StaleTimeout returns claims older than this to pending during maintenance.
	StaleTimeout time.Duration `yaml:"stale_timeout"`
}

type QueueConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Retention  time.Duration `yaml:"retention"`
}

type ScheduleConfig struct {
	Sweep       string `yaml:"sweep"`
	Maintenance string `yaml:"maintenance"`
}

type TokensConfig struct {
	StateTTL time.Duration `yaml:"state_ttl"`
}

type LogConfig struct {
	// Level is debug, info, warn or error. Env: LOG_LEVEL
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it. Env: METRICS_ADDR
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() Config {
	up := upstream.DefaultClientConfig()
	return Config{
		Database: DatabaseConfig{
			DSN:  "engagement.db",
			Pool: storage.DefaultPoolConfig(),
		},
		Upstream: UpstreamConfig{
			BaseURL:       up.BaseURL,
			RPS:           up.RPS,
			Burst:         up.Burst,
			Timeout:       up.Timeout,
			MaxAttempts:   up.MaxAttempts,
			MaxInlineWait: up.MaxInlineWait,
			PageSize:      up.PageSize,
		},
		Orchestrator: OrchestratorConfig{
			Concurrency:  4,
			PollInterval: time.Second,
			Cooldown:     time.Minute,
			StaleTimeout: 30 * time.Minute,
		},
		Queue: QueueConfig{
			MaxRetries: queue.DefaultMaxRetries,
			Retention:  7 * 24 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Sweep:       "@every 15m",
			Maintenance: "daily 03:00",
		},
		Alerts: alerts.DefaultConfig(),
		Tokens: TokensConfig{StateTTL: tokens.DefaultStateTTL},
		Log:    LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a YAML file over the defaults and applies env overrides. An
// empty path loads the defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ResolveEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ResolveEnv applies environment overrides. Set variables win over the file.
func (c *Config) ResolveEnv() error {
	if v := os.Getenv("ENGAGEMENT_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("X_BEARER_TOKEN"); v != "" {
		c.Upstream.BearerToken = v
	}
	if v := os.Getenv("X_API_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("X_API_RPS: %w", err)
		}
		c.Upstream.RPS = rps
	}
	if v := os.Getenv("X_API_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("X_API_BURST: %w", err)
		}
		c.Upstream.Burst = burst
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Upstream.RPS <= 0 {
		errs = append(errs, errors.New("upstream.rps must be positive"))
	}
	if c.Upstream.Burst <= 0 {
		errs = append(errs, errors.New("upstream.burst must be positive"))
	}
	if c.Orchestrator.Concurrency < 1 || c.Orchestrator.Concurrency > security.MaxConcurrency {
		errs = append(errs, fmt.Errorf("orchestrator.concurrency must be in [1, %d]", security.MaxConcurrency))
	}
	if c.Queue.MaxRetries < 1 || c.Queue.MaxRetries > security.MaxRetries {
		errs = append(errs, fmt.Errorf("queue.max_retries must be in [1, %d]", security.MaxRetries))
	}
	if _, err := schedule.Parse(c.Schedule.Sweep); err != nil {
		errs = append(errs, fmt.Errorf("schedule.sweep: %w", err))
	}
	if _, err := schedule.Parse(c.Schedule.Maintenance); err != nil {
		errs = append(errs, fmt.Errorf("schedule.maintenance: %w", err))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	for i, r := range c.Rules {
		if r.Category == "" || len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("rules[%d] needs a category and keywords", i))
		}
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the configured handler writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
