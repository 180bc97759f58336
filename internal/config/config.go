// Package config loads the engine's configuration from file and environment
// via viper, mirroring the nested-struct/mapstructure layout used across
// the rest of this codebase's services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the rule engine service.
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Timers        TimersConfig        `mapstructure:"timers"`
	Trace         TraceConfig         `mapstructure:"trace"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains Postgres connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains the optional L2 condition-cache configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains the optional ingress/egress adapter configuration.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	GroupID     string   `mapstructure:"group_id"`
	EventsTopic string   `mapstructure:"events_topic"`
	AuditTopic  string   `mapstructure:"audit_topic"`
}

// EngineConfig tunes the C9 Engine Core processing pipeline.
type EngineConfig struct {
	Workers            int           `mapstructure:"workers"`
	QueueSize          int           `mapstructure:"queue_size"`
	MaxChainDepth      int           `mapstructure:"max_chain_depth"`
	ProcessingTimeout  time.Duration `mapstructure:"processing_timeout"`
	DedupWindow        time.Duration `mapstructure:"dedup_window"`
	IngressRateLimit   float64       `mapstructure:"ingress_rate_limit"`
	IngressRateBurst   int           `mapstructure:"ingress_rate_burst"`
}

// RulesConfig configures the C8 Rule Registry and C5 condition cache.
type RulesConfig struct {
	Directory      string        `mapstructure:"directory"`
	CacheEnabled   bool          `mapstructure:"cache_enabled"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	CacheCleanup   time.Duration `mapstructure:"cache_cleanup_interval"`
	ReloadEnabled  bool          `mapstructure:"reload_enabled"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// TimersConfig configures C3 Timer Manager defaults.
type TimersConfig struct {
	MaxActiveTimers int `mapstructure:"max_active_timers"`
}

// TraceConfig configures the C4 Trace Collector ring buffer.
type TraceConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// NotificationsConfig configures the multi-channel delivery layer.
type NotificationsConfig struct {
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Teams     TeamsConfig     `mapstructure:"teams"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	PagerDuty PagerDutyConfig `mapstructure:"pagerduty"`
	Workers   int             `mapstructure:"workers"`
	RetryMax  int             `mapstructure:"retry_max"`
}

type EmailConfig struct {
	Provider     string `mapstructure:"provider"`
	SendGridKey  string `mapstructure:"sendgrid_api_key"`
	FromAddress  string `mapstructure:"from_address"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

type SMSConfig struct {
	TwilioSID   string  `mapstructure:"twilio_account_sid"`
	TwilioToken string  `mapstructure:"twilio_auth_token"`
	FromNumber  string  `mapstructure:"from_number"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

type SlackConfig struct {
	WebhookURL   string  `mapstructure:"webhook_url"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

type TeamsConfig struct {
	WebhookURL   string  `mapstructure:"webhook_url"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

type WebhookConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	SigningKey   string        `mapstructure:"signing_key"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
}

type PagerDutyConfig struct {
	IntegrationKey string  `mapstructure:"integration_key"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
}

// SecurityConfig configures HTTP API authentication.
type SecurityConfig struct {
	EnableAuthentication bool   `mapstructure:"enable_authentication"`
	JWTSecret            string `mapstructure:"jwt_secret"`
	APIKeyHeader         string `mapstructure:"api_key_header"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from ./config.yaml (or /etc/noex-rules/config.yaml),
// overlaying environment variables prefixed NOEX_RULES, and falling back to
// the defaults set below when no file is present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/noex-rules")

	setDefaults(v)

	v.SetEnvPrefix("NOEX_RULES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "noex_rules")
	v.SetDefault("database.username", "noex_rules")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "noex-rules")
	v.SetDefault("kafka.events_topic", "rule-engine.events")
	v.SetDefault("kafka.audit_topic", "rule-engine.audit")

	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.queue_size", 1000)
	v.SetDefault("engine.max_chain_depth", 10)
	v.SetDefault("engine.processing_timeout", 5*time.Second)
	v.SetDefault("engine.dedup_window", 1*time.Minute)
	v.SetDefault("engine.ingress_rate_limit", 0.0)
	v.SetDefault("engine.ingress_rate_burst", 0)

	v.SetDefault("rules.directory", "./rules")
	v.SetDefault("rules.cache_enabled", true)
	v.SetDefault("rules.cache_ttl", 5*time.Minute)
	v.SetDefault("rules.cache_cleanup_interval", 10*time.Minute)
	v.SetDefault("rules.reload_enabled", true)
	v.SetDefault("rules.reload_interval", 30*time.Second)

	v.SetDefault("timers.max_active_timers", 100000)

	v.SetDefault("trace.buffer_size", 10000)

	v.SetDefault("notifications.workers", 4)
	v.SetDefault("notifications.retry_max", 5)
	v.SetDefault("notifications.email.provider", "sendgrid")
	v.SetDefault("notifications.email.rate_limit_rps", 10.0)
	v.SetDefault("notifications.sms.rate_limit_rps", 5.0)
	v.SetDefault("notifications.slack.rate_limit_rps", 10.0)
	v.SetDefault("notifications.teams.rate_limit_rps", 10.0)
	v.SetDefault("notifications.webhook.timeout", 10*time.Second)
	v.SetDefault("notifications.webhook.rate_limit_rps", 10.0)
	v.SetDefault("notifications.pagerduty.rate_limit_rps", 5.0)

	v.SetDefault("security.enable_authentication", false)
	v.SetDefault("security.api_key_header", "X-API-Key")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}
