package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "EMOJI_PAPERTRAIL"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	State       StateConfig       `mapstructure:"state"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Slack       SlackConfig       `mapstructure:"slack"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	RequestIDHeader         string        `mapstructure:"request_id_header"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"` // "redis" | "memory" | "postgres"
}

const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DB              string        `mapstructure:"db"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN renders the libpq keyword/value connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DB, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SlackConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`

	// Single-workspace mode.
	BotToken string `mapstructure:"bot_token"`

	// Multi-workspace OAuth mode.
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	UserScopes   []string `mapstructure:"user_scopes"`

	Channel               string        `mapstructure:"channel"`
	ReportAliasChanges    bool          `mapstructure:"report_alias_changes"`
	DebounceInterval      time.Duration `mapstructure:"debounce_interval"`
	EnterpriseTenant      bool          `mapstructure:"enterprise_tenant"`
	InstallationKeyPrefix string        `mapstructure:"installation_key_prefix"`
	HistoricalDataEnabled bool          `mapstructure:"historical_data_enabled"`
	StateTTL              time.Duration `mapstructure:"state_ttl"`
	APIBaseURL            string        `mapstructure:"api_base_url"`
}

type IdempotencyConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.graceful_shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_id_header", "X-Request-Id")

	v.SetDefault("state.backend", BackendMemory)

	v.SetDefault("database.redis.url", "")
	v.SetDefault("database.redis.pool_size", 10)
	v.SetDefault("database.redis.dial_timeout", 5*time.Second)
	v.SetDefault("database.redis.read_timeout", 3*time.Second)
	v.SetDefault("database.redis.write_timeout", 3*time.Second)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.db", "")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("database.postgres.auto_migrate", true)

	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.client_id", "")
	v.SetDefault("slack.client_secret", "")
	v.SetDefault("slack.redirect_url", "")
	v.SetDefault("slack.scopes", []string{"emoji:read", "chat:write"})
	v.SetDefault("slack.user_scopes", []string{})
	v.SetDefault("slack.channel", "#emoji-papertrail")
	v.SetDefault("slack.report_alias_changes", true)
	v.SetDefault("slack.debounce_interval", 5*time.Second)
	v.SetDefault("slack.enterprise_tenant", false)
	v.SetDefault("slack.installation_key_prefix", "slack_installation_store")
	v.SetDefault("slack.historical_data_enabled", true)
	v.SetDefault("slack.state_ttl", 10*time.Minute)
	v.SetDefault("slack.api_base_url", "https://slack.com/api/")

	v.SetDefault("idempotency.retention", 7*24*time.Hour)

	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the optional YAML file at path, overlays environment variables
// and returns Config. EMOJI_PAPERTRAIL_SLACK_CHANNEL -> slack.channel.
// HOST and PORT are honored as well, as set by hosting platforms.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.host", envPrefix+"_SERVER_HOST", "HOST")
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate fails fast on configuration the process cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Slack.SigningSecret == "" {
		errs = append(errs, errors.New("slack.signing_secret is required"))
	}
	if c.Slack.Channel == "" {
		errs = append(errs, errors.New("slack.channel is required"))
	}
	if _, err := c.Slack.Credentials(); err != nil {
		errs = append(errs, err)
	}
	if c.Idempotency.Retention <= 0 {
		errs = append(errs, errors.New("idempotency.retention must be positive"))
	}

	switch c.State.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Database.Redis.URL == "" {
			errs = append(errs, errors.New("database.redis.url is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Database.Postgres.DB == "" {
			errs = append(errs, errors.New("database.postgres.db is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", c.State.Backend))
	}

	return errors.Join(errs...)
}
