package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"moxie_companion/internal/providers"
)

// ConfigFileEnv names the environment variable holding an optional YAML
// config file. Environment variables override values from the file.
const ConfigFileEnv = "COMPANION_CONFIG"

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "supersecretkey"

// Config holds configuration for the companion backend.
type Config struct {
	HTTPPort  string `yaml:"http_port"`
	JWTSecret string `yaml:"jwt_secret"`
	DemoMode  bool   `yaml:"demo_mode"`

	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Provider ProviderConfig `yaml:"provider"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Usage    UsageConfig    `yaml:"usage"`
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Docker   DockerConfig   `yaml:"docker"`
}

// AuthConfig holds parent dashboard auth settings
type AuthConfig struct {
	TokenTTL             time.Duration `yaml:"token_ttl"`
	PINAttemptsPerMinute int           `yaml:"pin_attempts_per_minute"`
}

// LogConfig holds log level and rotation settings. An empty File logs to
// stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	AccessFile string `yaml:"access_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ProviderConfig holds provider-related settings. API keys are read from the
// environment only and never from the config file.
type ProviderConfig struct {
	Default        string            `yaml:"default"`
	Model          string            `yaml:"model"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	BaseURLs       map[string]string `yaml:"base_urls"`
	APIKeys        map[string]string `yaml:"-"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// usage records in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection settings. An empty Address disables
// Redis-backed components.
type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UsageConfig holds usage logging settings
type UsageConfig struct {
	QueueBackend     string        `yaml:"queue_backend"` // memory or redis
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetentionMonths  int           `yaml:"retention_months"`
	MonthlyBudgetUSD float64       `yaml:"monthly_budget_usd"`
	Archive          ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig holds the S3 target for CSV exports. An empty Bucket
// disables archiving.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// StoreConfig holds file store settings. EncryptionKey is base64 and
// enables at-rest encryption when set.
type StoreConfig struct {
	DataDir       string        `yaml:"data_dir"`
	EncryptionKey string        `yaml:"-"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// MQTTConfig holds robot broker settings. An empty BrokerURL disables
// robot control.
type MQTTConfig struct {
	BrokerURL          string        `yaml:"broker_url"`
	ClientID           string        `yaml:"client_id"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"-"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
}

// DockerConfig holds local robot server container settings
type DockerConfig struct {
	Binary       string        `yaml:"binary"`
	Container    string        `yaml:"container"`
	Image        string        `yaml:"image"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// apiKeyEnv maps providers to the environment variable holding their key
var apiKeyEnv = map[providers.ID]string{
	providers.OpenAI:    "OPENAI_API_KEY",
	providers.Anthropic: "ANTHROPIC_API_KEY",
	providers.Gemini:    "GEMINI_API_KEY",
	providers.DeepSeek:  "DEEPSEEK_API_KEY",
	providers.Groq:      "GROQ_API_KEY",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTPPort:  "8080",
		JWTSecret: DefaultJWTSecret,
		Auth: AuthConfig{
			TokenTTL:             30 * time.Minute,
			PINAttemptsPerMinute: 5,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Provider: ProviderConfig{
			Default:        string(providers.Ollama),
			RequestTimeout: 120 * time.Second,
			BaseURLs:       map[string]string{},
			APIKeys:        map[string]string{},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 1 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Usage: UsageConfig{
			QueueBackend:    "memory",
			BatchSize:       100,
			BatchTimeout:    5 * time.Second,
			MaxRetries:      3,
			RetryBackoff:    1 * time.Second,
			RetentionMonths: 3,
			Archive: ArchiveConfig{
				Region: "us-east-1",
				Prefix: "usage/",
			},
		},
		Store: StoreConfig{
			DataDir:   defaultDataDir(),
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
		MQTT: MQTTConfig{
			ClientID:           "moxie-companion",
			ConnectTimeout:     10 * time.Second,
			StatusPollInterval: 5 * time.Second,
		},
		Docker: DockerConfig{
			Binary:       "docker",
			Container:    "openmoxie-server",
			Image:        "openmoxie/openmoxie-server:latest",
			PollInterval: 5 * time.Second,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "moxie-companion")
	}
	return "./data"
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}

	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}

	return b
}

// Load builds the configuration from defaults, the optional YAML file named
// by COMPANION_CONFIG and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", absPath, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvString("HTTP_PORT", c.HTTPPort)
	c.JWTSecret = getEnvString("JWT_SECRET", c.JWTSecret)
	c.DemoMode = getEnvBool("DEMO_MODE", c.DemoMode)

	c.Auth.TokenTTL = getEnvDuration("AUTH_TOKEN_TTL", c.Auth.TokenTTL)
	c.Auth.PINAttemptsPerMinute = getEnvInt("AUTH_PIN_ATTEMPTS_PER_MINUTE", c.Auth.PINAttemptsPerMinute)

	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnvString("LOG_FILE", c.Log.File)
	c.Log.AccessFile = getEnvString("ACCESS_LOG_FILE", c.Log.AccessFile)

	c.Provider.Default = getEnvString("PROVIDER_DEFAULT", c.Provider.Default)
	c.Provider.Model = getEnvString("PROVIDER_MODEL", c.Provider.Model)
	c.Provider.RequestTimeout = getEnvDuration("PROVIDER_REQUEST_TIMEOUT", c.Provider.RequestTimeout)
	if c.Provider.BaseURLs == nil {
		c.Provider.BaseURLs = map[string]string{}
	}
	if c.Provider.APIKeys == nil {
		c.Provider.APIKeys = map[string]string{}
	}
	for _, id := range providers.ListProviders() {
		envPrefix := "PROVIDER_" + strings.ToUpper(string(id))
		if u := os.Getenv(envPrefix + "_BASE_URL"); u != "" {
			c.Provider.BaseURLs[string(id)] = u
		}
		if name, ok := apiKeyEnv[id]; ok {
			if key := os.Getenv(name); key != "" {
				c.Provider.APIKeys[string(id)] = key
			}
		}
	}

	c.Database.URL = getEnvString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnMaxIdleTime = getEnvDuration("DB_CONN_MAX_IDLE_TIME", c.Database.ConnMaxIdleTime)

	c.Redis.Address = getEnvString("REDIS_ADDRESS", c.Redis.Address)
	c.Redis.Password = getEnvString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", c.Redis.MinIdleConns)
	c.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)

	c.Usage.QueueBackend = getEnvString("USAGE_QUEUE_BACKEND", c.Usage.QueueBackend)
	c.Usage.BatchSize = getEnvInt("USAGE_BATCH_SIZE", c.Usage.BatchSize)
	c.Usage.BatchTimeout = getEnvDuration("USAGE_BATCH_TIMEOUT", c.Usage.BatchTimeout)
	c.Usage.MaxRetries = getEnvInt("USAGE_MAX_RETRIES", c.Usage.MaxRetries)
	c.Usage.RetryBackoff = getEnvDuration("USAGE_RETRY_BACKOFF", c.Usage.RetryBackoff)
	c.Usage.RetentionMonths = getEnvInt("USAGE_RETENTION_MONTHS", c.Usage.RetentionMonths)
	c.Usage.MonthlyBudgetUSD = getEnvFloat("USAGE_MONTHLY_BUDGET_USD", c.Usage.MonthlyBudgetUSD)
	c.Usage.Archive.Bucket = getEnvString("USAGE_ARCHIVE_S3_BUCKET", c.Usage.Archive.Bucket)
	c.Usage.Archive.Region = getEnvString("USAGE_ARCHIVE_S3_REGION", c.Usage.Archive.Region)
	c.Usage.Archive.Prefix = getEnvString("USAGE_ARCHIVE_S3_PREFIX", c.Usage.Archive.Prefix)
	c.Usage.Archive.Endpoint = getEnvString("USAGE_ARCHIVE_S3_ENDPOINT", c.Usage.Archive.Endpoint)
	c.Usage.Archive.AccessKey = getEnvString("USAGE_ARCHIVE_S3_ACCESS_KEY", c.Usage.Archive.AccessKey)
	c.Usage.Archive.SecretKey = getEnvString("USAGE_ARCHIVE_S3_SECRET_KEY", c.Usage.Archive.SecretKey)

	c.Store.DataDir = getEnvString("STORE_DATA_DIR", c.Store.DataDir)
	c.Store.EncryptionKey = getEnvString("STORE_ENCRYPTION_KEY", c.Store.EncryptionKey)
	c.Store.CacheSize = getEnvInt("STORE_CACHE_SIZE", c.Store.CacheSize)
	c.Store.CacheTTL = getEnvDuration("STORE_CACHE_TTL", c.Store.CacheTTL)

	c.MQTT.BrokerURL = getEnvString("MQTT_BROKER_URL", c.MQTT.BrokerURL)
	c.MQTT.ClientID = getEnvString("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnvString("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnvString("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ConnectTimeout = getEnvDuration("MQTT_CONNECT_TIMEOUT", c.MQTT.ConnectTimeout)
	c.MQTT.StatusPollInterval = getEnvDuration("MQTT_STATUS_POLL_INTERVAL", c.MQTT.StatusPollInterval)

	c.Docker.Binary = getEnvString("DOCKER_BINARY", c.Docker.Binary)
	c.Docker.Container = getEnvString("DOCKER_CONTAINER", c.Docker.Container)
	c.Docker.Image = getEnvString("DOCKER_IMAGE", c.Docker.Image)
	c.Docker.PollInterval = getEnvDuration("DOCKER_POLL_INTERVAL", c.Docker.PollInterval)
}

// Validate performs sanity checks on the configuration.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.HTTPPort)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("http_port must be a valid TCP port, got %q", c.HTTPPort)
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}

	if !providers.Known(providers.ID(c.Provider.Default)) {
		return fmt.Errorf("provider.default %q is not a known provider", c.Provider.Default)
	}
	for id := range c.Provider.BaseURLs {
		if !providers.Known(providers.ID(id)) {
			return fmt.Errorf("provider.base_urls: %q is not a known provider", id)
		}
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("provider.request_timeout must be positive, got %s", c.Provider.RequestTimeout)
	}

	switch c.Usage.QueueBackend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("usage.queue_backend redis requires redis.address")
		}
	default:
		return fmt.Errorf("usage.queue_backend must be one of %q or %q, got %q", "memory", "redis", c.Usage.QueueBackend)
	}
	if c.Usage.BatchSize <= 0 {
		return fmt.Errorf("usage.batch_size must be positive, got %d", c.Usage.BatchSize)
	}
	if c.Usage.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("usage.monthly_budget_usd must not be negative")
	}

	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir must not be empty")
	}
	if c.Store.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Store.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("STORE_ENCRYPTION_KEY must be 32 bytes, base64 encoded")
		}
	}

	return nil
}

// APIKey returns the configured key for a provider, or ""
func (c *Config) APIKey(id providers.ID) string {
	return c.Provider.APIKeys[string(id)]
}

// BaseURLs returns provider base URL overrides keyed by provider id
func (c *Config) BaseURLs() map[providers.ID]string {
	out := make(map[providers.ID]string, len(c.Provider.BaseURLs))
	for id, u := range c.Provider.BaseURLs {
		out[providers.ID(id)] = u
	}
	return out
}
