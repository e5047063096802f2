package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all the configuration for the service.
// The mapstructure tags tell Viper which YAML field maps to which Go struct field.
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Redis      RedisConfig        `mapstructure:"redis"`
	Database   DatabaseConfig     `mapstructure:"database"`
	RequestLog RequestLogConfig   `mapstructure:"request_log"`
	OpenAI     OpenAIConfig       `mapstructure:"openai"`
	Documents  DocumentsConfig    `mapstructure:"documents"`
	Auth       AuthConfig         `mapstructure:"auth"`
	RateLimit  RateLimitConfig    `mapstructure:"ratelimit"`
	Cache      CacheConfig        `mapstructure:"cache"`
	Models     map[string]float64 `mapstructure:"models"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RequestLogConfig selects where executor audit entries go: "sql", "redis" or "none".
type RequestLogConfig struct {
	Backend       string `mapstructure:"backend"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type DocumentsConfig struct {
	Model           string `mapstructure:"model"`
	QAModel         string `mapstructure:"qa_model"`
	MaxTokens       int    `mapstructure:"max_tokens"`
	MaxPromptTokens int    `mapstructure:"max_prompt_tokens"`
	VectorStoreDays int    `mapstructure:"vector_store_days"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	AdminKey  string        `mapstructure:"admin_key"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	QATTL   time.Duration `mapstructure:"qa_ttl"`
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.RequestLog.Backend {
	case "sql", "none":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("request_log.backend=redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("request_log.backend %q must be sql, redis or none", c.RequestLog.Backend))
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 bytes"))
	}
	if c.OpenAI.MaxRetries < 1 {
		errs = append(errs, errors.New("openai.max_retries must be at least 1"))
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	for model, price := range c.Models {
		if price < 0 {
			errs = append(errs, fmt.Errorf("models.%s: negative price", model))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server::port", ":8080")
	v.SetDefault("server::read_timeout", 30*time.Second)
	v.SetDefault("server::write_timeout", 5*time.Minute)
	v.SetDefault("server::max_upload_mb", 200)

	v.SetDefault("logging::level", "info")
	v.SetDefault("logging::development", false)

	v.SetDefault("redis::address", "localhost:6379")
	v.SetDefault("redis::password", "")
	v.SetDefault("redis::db", 0)
	v.SetDefault("redis::enabled", false)

	v.SetDefault("database::driver", "sqlite")
	v.SetDefault("database::dsn", "docgen.db")

	v.SetDefault("request_log::backend", "sql")
	v.SetDefault("request_log::retention_days", 30)

	v.SetDefault("openai::api_key", "")
	v.SetDefault("openai::base_url", "https://api.openai.com/v1")
	v.SetDefault("openai::timeout", 75*time.Second)
	v.SetDefault("openai::max_retries", 3)
	v.SetDefault("openai::base_delay", time.Second)
	v.SetDefault("openai::max_delay", 30*time.Second)
	v.SetDefault("openai::breaker_failures", 5)
	v.SetDefault("openai::breaker_timeout", 30*time.Second)

	v.SetDefault("documents::model", "gpt-4o-2024-08-06")
	v.SetDefault("documents::qa_model", "gpt-4o")
	v.SetDefault("documents::max_tokens", 4000)
	v.SetDefault("documents::max_prompt_tokens", 100000)
	v.SetDefault("documents::vector_store_days", 1)

	v.SetDefault("auth::jwt_secret", "")
	v.SetDefault("auth::issuer", "docgen")
	v.SetDefault("auth::token_ttl", 24*time.Hour)
	v.SetDefault("auth::admin_key", "")

	v.SetDefault("ratelimit::enabled", true)
	v.SetDefault("ratelimit::requests_per_minute", 30)
	v.SetDefault("ratelimit::burst", 10)

	v.SetDefault("cache::enabled", true)
	v.SetDefault("cache::qa_ttl", time.Hour)

	v.SetDefault("models", map[string]float64{
		"gpt-4o":            0.005,
		"gpt-4o-2024-08-06": 0.005,
		"gpt-4o-mini":       0.00015,
	})
}

// Well-known variables that are read without the DOCGEN_ prefix.
var envAliases = map[string]string{
	"openai::api_key":  "OPENAI_API_KEY",
	"database::dsn":    "DATABASE_URL",
	"auth::admin_key":  "ADMIN_KEY",
	"auth::jwt_secret": "JWT_SECRET",
	"redis::address":   "REDIS_ADDR",
}

func newViper(path string) *viper.Viper {
	// "::" keeps dotted model names such as gpt-3.5-turbo intact under models.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	setDefaults(v)

	v.SetEnvPrefix("DOCGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, "DOCGEN_"+strings.ToUpper(strings.NewReplacer("::", "_").Replace(key)), env)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return v
}

// Store wraps configuration with thread-safe access and hot-reload updates.
type Store struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
	logger    *zap.Logger
}

// Get returns a copy of the current configuration.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cpy := *s.cfg
	return &cpy
}

// OnChange registers fn to run after every successful reload.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) set(cfg *Config) []func(*Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return slices.Clone(s.listeners)
}

// Load reads the config file (optional when path is empty) and environment once.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := read(v, path); err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadAndWatch loads the config and reloads it when the file changes on disk.
// An invalid edit is logged and the previous configuration stays active.
func LoadAndWatch(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := newViper(path)
	if err := read(v, path); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	store := &Store{cfg: cfg, logger: logger.Named("config")}
	if v.ConfigFileUsed() == "" {
		return store, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		store.reload(v, e.Name)
	})
	v.WatchConfig()
	return store, nil
}

func (s *Store) reload(v *viper.Viper, name string) {
	cfg, err := decode(v)
	if err != nil {
		s.logger.Warn("config reload rejected", zap.String("file", name), zap.Error(err))
		return
	}
	for _, fn := range s.set(cfg) {
		fn(cfg)
	}
	s.logger.Info("config reloaded", zap.String("file", name))
}

func read(v *viper.Viper, path string) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if path == "" && errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(c LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
