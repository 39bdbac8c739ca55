package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/alarm-service/internal/email"
	"github.com/jwalitptl/alarm-service/internal/middleware"
	"github.com/jwalitptl/alarm-service/pkg/messaging/redis"
	"github.com/jwalitptl/alarm-service/pkg/upstream"
	"github.com/jwalitptl/alarm-service/pkg/worker"
)

type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Database  DatabaseConfig        `mapstructure:"database"`
	Redis     RedisConfig           `mapstructure:"redis"`
	Upstream  UpstreamConfig        `mapstructure:"upstream"`
	Scheduler SchedulerConfig       `mapstructure:"scheduler"`
	Sync      SyncConfig            `mapstructure:"sync"`
	Auth      AuthConfig            `mapstructure:"auth"`
	RateLimit RateLimitConfig       `mapstructure:"rate_limit"`
	CORS      middleware.CORSConfig `mapstructure:"cors"`
	Outbox    OutboxConfig          `mapstructure:"outbox"`
	Mail      email.Config          `mapstructure:"mail"`
	Log       LogConfig             `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	// WSOriginPatterns are the page origins allowed to open the websocket.
	WSOriginPatterns []string `mapstructure:"ws_origin_patterns"`
	// HealthPort serves the worker's health endpoints.
	HealthPort int `mapstructure:"health_port"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// UpstreamConfig points at the backend that owns the alarm list. An empty
// URL disables every upstream feature.
type UpstreamConfig struct {
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryWaitTime time.Duration `mapstructure:"retry_wait_time"`
}

type SchedulerConfig struct {
	// EscalationDelay is the re-notification delay for high-priority
	// alarms. Zero disables escalation.
	EscalationDelay time.Duration `mapstructure:"escalation_delay"`
	TombstoneTTL    time.Duration `mapstructure:"tombstone_ttl"`
}

type SyncConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	Broadcasts   bool          `mapstructure:"broadcasts"`
	BroadcastTTL time.Duration `mapstructure:"broadcast_ttl"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type OutboxConfig struct {
	// InProcess runs the processor inside the API instead of cmd/worker.
	InProcess       bool          `mapstructure:"in_process"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// envOverrides are process-level settings read before the config file.
type envOverrides struct {
	ConfigFile string `envconfig:"CONFIG_FILE"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	HTTPPort   int    `envconfig:"HTTP_PORT"`
}

// LoadConfig reads config.yml from the usual locations (or CONFIG_FILE),
// applies ALARM_* environment variables and validates the result. A missing
// config file is fine when it was not named explicitly.
func LoadConfig() (*Config, error) {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if env.ConfigFile != "" {
		v.SetConfigFile(env.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix("ALARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if env.ConfigFile != "" || !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.HTTPPort != 0 {
		cfg.Server.Port = env.HTTPPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_size", 1<<20)
	v.SetDefault("server.ws_origin_patterns", []string{})
	v.SetDefault("server.health_port", 8081)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "alarms")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("upstream.retry_count", 2)
	v.SetDefault("upstream.retry_wait_time", 500*time.Millisecond)

	v.SetDefault("scheduler.escalation_delay", 30*time.Second)
	v.SetDefault("scheduler.tombstone_ttl", 7*24*time.Hour)

	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.interval", 30*time.Minute)
	v.SetDefault("sync.broadcasts", true)
	v.SetDefault("sync.broadcast_ttl", 24*time.Hour)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "alarm-service")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	cors := middleware.DefaultCORSConfig()
	v.SetDefault("cors.allow_origins", cors.AllowOrigins)
	v.SetDefault("cors.allow_methods", cors.AllowMethods)
	v.SetDefault("cors.allow_headers", cors.AllowHeaders)
	v.SetDefault("cors.expose_headers", cors.ExposeHeaders)
	v.SetDefault("cors.allow_credentials", cors.AllowCredentials)
	v.SetDefault("cors.max_age", cors.MaxAge)

	v.SetDefault("outbox.in_process", true)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 2*time.Second)
	v.SetDefault("outbox.max_retries", 10)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.to", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, stderrors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, stderrors.New("auth.token_ttl must be positive"))
	}
	if c.Scheduler.EscalationDelay < 0 {
		errs = append(errs, stderrors.New("scheduler.escalation_delay must not be negative"))
	}
	if c.Scheduler.TombstoneTTL < 0 {
		errs = append(errs, stderrors.New("scheduler.tombstone_ttl must not be negative"))
	}
	if c.Sync.Enabled {
		if c.Upstream.URL == "" {
			errs = append(errs, stderrors.New("sync.enabled requires upstream.url"))
		}
		if c.Sync.Interval <= 0 {
			errs = append(errs, stderrors.New("sync.interval must be positive"))
		}
	}
	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, stderrors.New("database.host and database.name are required"))
		}
		if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 {
			errs = append(errs, stderrors.New("outbox.batch_size and outbox.poll_interval must be positive"))
		}
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, stderrors.New("redis.url is required"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, stderrors.New("rate_limit.requests_per_second and rate_limit.burst must be positive"))
	}
	if c.Mail.Enabled && (c.Mail.Host == "" || len(c.Mail.To) == 0) {
		errs = append(errs, stderrors.New("mail.host and mail.to are required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", stderrors.Join(errs...))
	}
	return nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		MaxRetries:    c.MaxRetries,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *UpstreamConfig) ToClientConfig() upstream.Config {
	return upstream.Config{
		URL:           c.URL,
		Timeout:       c.Timeout,
		RetryCount:    c.RetryCount,
		RetryWaitTime: c.RetryWaitTime,
	}
}
