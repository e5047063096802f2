package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleConfig = `
server:
  port: ":9090"
redis:
  enabled: true
  address: "redis:6379"
request_log:
  backend: redis
  retention_days: 7
openai:
  timeout: 60s
  max_retries: 2
auth:
  jwt_secret: "a-very-long-test-secret"
ratelimit:
  requests_per_minute: 12
  burst: 4
models:
  gpt-3.5-turbo: 0.0015
  gpt-4o: 0.004
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, "redis", cfg.RequestLog.Backend)
	assert.Equal(t, 7, cfg.RequestLog.RetentionDays)
	assert.Equal(t, 60*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, 2, cfg.OpenAI.MaxRetries)
	assert.Equal(t, 12, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 4, cfg.RateLimit.Burst)

	// Dotted model names survive because of the "::" key delimiter.
	assert.InDelta(t, 0.0015, cfg.Models["gpt-3.5-turbo"], 1e-9)
	assert.InDelta(t, 0.004, cfg.Models["gpt-4o"], 1e-9)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "sql", cfg.RequestLog.Backend)
	assert.Equal(t, 75*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, 3, cfg.OpenAI.MaxRetries)
	assert.Equal(t, time.Second, cfg.OpenAI.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.OpenAI.MaxDelay)
	assert.Equal(t, "gpt-4o-2024-08-06", cfg.Documents.Model)
	assert.Equal(t, 100000, cfg.Documents.MaxPromptTokens)
	assert.Equal(t, time.Hour, cfg.Cache.QATTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Contains(t, cfg.Models, "gpt-4o")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DATABASE_URL", "postgres://db/docgen")
	t.Setenv("ADMIN_KEY", "admin-env")
	t.Setenv("JWT_SECRET", "jwt-secret-from-env-123")
	t.Setenv("DOCGEN_SERVER_PORT", ":7070")
	t.Setenv("DOCGEN_DATABASE_DRIVER", "postgres")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "postgres://db/docgen", cfg.Database.DSN)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "admin-env", cfg.Auth.AdminKey)
	assert.Equal(t, "jwt-secret-from-env-123", cfg.Auth.JWTSecret)
	assert.Equal(t, ":7070", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:     ServerConfig{Port: ":8080"},
			RequestLog: RequestLogConfig{Backend: "sql"},
			OpenAI:     OpenAIConfig{MaxRetries: 3},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"no port":            func(c *Config) { c.Server.Port = "" },
		"unknown backend":    func(c *Config) { c.RequestLog.Backend = "kafka" },
		"redis backend off":  func(c *Config) { c.RequestLog.Backend = "redis" },
		"short jwt secret":   func(c *Config) { c.Auth.JWTSecret = "short" },
		"negative burst":     func(c *Config) { c.RateLimit.Burst = -1 },
		"zero retries":       func(c *Config) { c.OpenAI.MaxRetries = 0 },
		"negative model fee": func(c *Config) { c.Models = map[string]float64{"m": -1} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	_, err := Load(writeConfig(t, "request_log:\n  backend: kafka\n"))
	assert.ErrorContains(t, err, "invalid config")
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := &Store{cfg: &Config{Server: ServerConfig{Port: ":1"}}}
	c := s.Get()
	c.Server.Port = ":2"
	assert.Equal(t, ":1", s.Get().Server.Port)

	assert.Nil(t, (&Store{}).Get())
}

func TestLoadRejectsZeroRetries(t *testing.T) {
	_, err := Load(writeConfig(t, "openai:\n  max_retries: 0\n"))
	assert.ErrorContains(t, err, "openai.max_retries must be at least 1")
}

func TestStoreSetSnapshotsListeners(t *testing.T) {
	s := &Store{}
	var calls int
	s.OnChange(func(*Config) { calls++ })

	listeners := s.set(&Config{Server: ServerConfig{Port: ":9"}})
	s.OnChange(func(*Config) { calls += 10 })
	require.Len(t, listeners, 1)
	for _, fn := range listeners {
		fn(s.Get())
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, ":9", s.Get().Server.Port)
}

func TestLoadAndWatchReloads(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := LoadAndWatch(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 12, store.Get().RateLimit.RequestsPerMinute)

	var notified atomic.Int32
	store.OnChange(func(c *Config) {
		if c.RateLimit.RequestsPerMinute == 99 {
			notified.Add(1)
		}
	})

	updated := strings.Replace(sampleConfig, "requests_per_minute: 12", "requests_per_minute: 99", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		return store.Get().RateLimit.RequestsPerMinute == 99 && notified.Load() > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
