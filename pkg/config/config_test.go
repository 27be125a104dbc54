package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/engagement-jobs/pkg/processor"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"ENGAGEMENT_DATABASE_DSN", "X_BEARER_TOKEN", "X_API_RPS", "X_API_BURST", "LOG_LEVEL", "METRICS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "@every 15m", cfg.Schedule.Sweep)
	assert.Equal(t, 10*time.Minute, cfg.Tokens.StateTTL)
}

func TestLoad_FileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "engagement.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dsn: postgres://localhost/engagement
upstream:
  rps: 0.5
  timeout: 20s
orchestrator:
  concurrency: 8
alerts:
  threshold: 10
rules:
  - category: researcher
    keywords: [phd, professor]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/engagement", cfg.Database.DSN)
	assert.Equal(t, 0.5, cfg.Upstream.RPS)
	assert.Equal(t, 20*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 8, cfg.Orchestrator.Concurrency)
	assert.Equal(t, int64(10), cfg.Alerts.Threshold)
	assert.Equal(t, time.Hour, cfg.Alerts.Window, "unset fields keep defaults")
	assert.Equal(t, []processor.Rule{{Category: "researcher", Keywords: []string{"phd", "professor"}}}, cfg.Rules)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGAGEMENT_DATABASE_DSN", "/tmp/x.db")
	t.Setenv("X_BEARER_TOKEN", "app-token")
	t.Setenv("X_API_RPS", "3.5")
	t.Setenv("X_API_BURST", "7")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	assert.Equal(t, "app-token", cfg.Upstream.BearerToken)
	assert.Equal(t, 3.5, cfg.Upstream.RPS)
	assert.Equal(t, 7, cfg.Upstream.Burst)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)

	t.Setenv("X_API_BURST", "lots")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [oops"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "engagement.yaml")
	cfg := Default()
	cfg.Queue.Retention = 48 * time.Hour

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.Error(t, Save("", cfg))
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = ""
	cfg.Upstream.RPS = 0
	cfg.Orchestrator.Concurrency = 0
	cfg.Queue.MaxRetries = 0
	cfg.Schedule.Sweep = "every so often"
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Rules = []processor.Rule{{Category: "empty"}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.dsn", "upstream.rps", "orchestrator.concurrency",
		"queue.max_retries", "schedule.sweep", "log.level", "log.format", "rules[0]"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestClientConfig(t *testing.T) {
	cfg := Default()
	cfg.Upstream.BearerToken = "tok"
	cc := cfg.Upstream.ClientConfig()
	assert.Equal(t, "tok", cc.BearerToken)
	assert.Equal(t, cfg.Upstream.RPS, cc.RPS)
	assert.Equal(t, cfg.Upstream.PageSize, cc.PageSize)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "post_id", "1001")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "1001", rec["post_id"])

	buf.Reset()
	l, err = LogConfig{Level: "info", Format: "text"}.NewLogger(&buf)
	require.NoError(t, err)
	l.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	_, err = LogConfig{Level: "nope"}.NewLogger(&buf)
	assert.Error(t, err)

	level, err := LogConfig{Level: "DEBUG"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
