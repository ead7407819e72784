package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables understood by the assistant
const (
	EnvWebhookURL     = "COMPANY_ASSISTANT_WEBHOOK_URL"
	EnvSettingsLocked = "SETTINGS_LOCKED"
	EnvUseMock        = "USE_MOCK"
	EnvWebhookTimeout = "N8N_WEBHOOK_TIMEOUT_MS"
	EnvDataDir        = "COMPANY_ASSISTANT_DATA_DIR"
)

type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Webhook       WebhookConfig      `mapstructure:"webhook"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Conversations ConversationConfig `mapstructure:"conversations"`
	Server        ServerConfig       `mapstructure:"server"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	I18n          I18nConfig         `mapstructure:"i18n"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Author  string `mapstructure:"author"`
	DataDir string `mapstructure:"data_dir"`
}

type WebhookConfig struct {
	Timeout     time.Duration   `mapstructure:"timeout"`
	RetryDelays []time.Duration `mapstructure:"retry_delays"`
	MockMode    bool            `mapstructure:"mock_mode"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	File   FileStore    `mapstructure:"file"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type FileStore struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ConversationConfig struct {
	Dir            string        `mapstructure:"dir"`
	TrashDir       string        `mapstructure:"trash_dir"`
	IndexLimit     int           `mapstructure:"index_limit"`
	UndoWindow     time.Duration `mapstructure:"undo_window"`
	TrashRetention time.Duration `mapstructure:"trash_retention"`
	PurgeSchedule  string        `mapstructure:"purge_schedule"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

// Overrides are the environment-provided values that take precedence
// over persisted settings. They are read again on every call.
type Overrides struct {
	WebhookURL     string
	SettingsLocked bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "company-assistant")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.author", "")
	v.SetDefault("app.data_dir", defaultDataDir())

	v.SetDefault("webhook.timeout", 120*time.Second)
	v.SetDefault("webhook.retry_delays", []string{"500ms", "1500ms"})
	v.SetDefault("webhook.mock_mode", false)

	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.file.path", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "company-assistant:")
	v.SetDefault("storage.memory.default_expiration", time.Duration(0))
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)
	v.SetDefault("storage.sqlite.path", "")

	v.SetDefault("conversations.index_limit", 10)
	v.SetDefault("conversations.undo_window", 10*time.Second)
	v.SetDefault("conversations.trash_retention", 24*time.Hour)
	v.SetDefault("conversations.purge_schedule", "@every 1h")

	v.SetDefault("server.addr", "127.0.0.1:47800")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.max_size", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9091)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "pl")
	v.SetDefault("i18n.languages", []string{"pl", "en"})
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "company-assistant")
	}
	return ".company-assistant"
}

// LoadConfig loads configuration from an optional file and environment
// variables. A missing file is not an error; defaults apply.
func LoadConfig(configPath string) (*Config, error) {
	return load(viper.GetViper(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)
	v.SetConfigType("yaml")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.BindEnv("app.data_dir", EnvDataDir)
	v.BindEnv("webhook.mock_mode", EnvUseMock)
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")
	bindOverrides(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if ms := strings.TrimSpace(v.GetString(EnvWebhookTimeout)); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			config.Webhook.Timeout = time.Duration(n) * time.Millisecond
		}
	}

	// Handle Redis address special case
	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := v.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	resolvePaths(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func bindOverrides(v *viper.Viper) {
	v.BindEnv("overrides.webhook_url", EnvWebhookURL)
	v.BindEnv("overrides.settings_locked", EnvSettingsLocked)
}

func resolvePaths(cfg *Config) {
	dir := cfg.App.DataDir
	if cfg.Storage.File.Path == "" {
		cfg.Storage.File.Path = filepath.Join(dir, "config.json")
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = filepath.Join(dir, "assistant.db")
	}
	if cfg.Conversations.Dir == "" {
		cfg.Conversations.Dir = filepath.Join(dir, "conversations")
	}
	if cfg.Conversations.TrashDir == "" {
		cfg.Conversations.TrashDir = filepath.Join(dir, "conversations-trash")
	}
}

// ReadOverrides returns the environment overrides as they are right now
func ReadOverrides() Overrides {
	return readOverrides(viper.GetViper())
}

func readOverrides(v *viper.Viper) Overrides {
	bindOverrides(v)
	return Overrides{
		WebhookURL:     strings.TrimSpace(v.GetString("overrides.webhook_url")),
		SettingsLocked: v.GetString("overrides.settings_locked") == "true",
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if cfg.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive")
	}
	for _, d := range cfg.Webhook.RetryDelays {
		if d < 0 {
			return fmt.Errorf("retry delays must not be negative")
		}
	}
	switch cfg.Storage.Type {
	case "file", "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Conversations.IndexLimit <= 0 {
		return fmt.Errorf("conversation index limit must be positive")
	}
	return nil
}
