// Package appconfig loads the hrauthd service configuration from a YAML
// file, HRAUTH_* environment variables and an optional .env file.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/hrauth"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. HRAUTH_POSTGRES_DSN.
const EnvPrefix = "HRAUTH"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kratos   KratosConfig   `mapstructure:"kratos"`
	Google   GoogleConfig   `mapstructure:"google"`
	Facebook FacebookConfig `mapstructure:"facebook"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Mail     MailConfig     `mapstructure:"mail"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KratosConfig locates the secondary identity provider.
type KratosConfig struct {
	AdminURL     string        `mapstructure:"admin_url"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	SchemaID     string        `mapstructure:"schema_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type GoogleConfig struct {
	ClientID string `mapstructure:"client_id"`
}

type FacebookConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	GraphURL  string `mapstructure:"graph_url"`
}

// AuthConfig carries the engine secrets and policy knobs.
type AuthConfig struct {
	ServerSecret     string        `mapstructure:"server_secret"`
	LinkSigningKey   string        `mapstructure:"link_signing_key"`
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	MinPasswordLen   int           `mapstructure:"min_password_length"`
	SessionCacheTTL  time.Duration `mapstructure:"session_cache_ttl"`
	RateLimit        bool          `mapstructure:"rate_limit"`
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LoginCooldown    time.Duration `mapstructure:"login_cooldown"`
	VerifyEmailURL   string        `mapstructure:"verify_email_url"`
	VerifyEmailTTL   time.Duration `mapstructure:"verify_email_ttl"`
	InviteURL        string        `mapstructure:"invite_url"`
	InviteTTL        time.Duration `mapstructure:"invite_ttl"`
}

// MailConfig selects the outbound mailer. Driver "log" only logs messages.
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Latency bool   `mapstructure:"latency"`
	Path    string `mapstructure:"path"`
}

// LoadDotEnv loads the given .env files, or ./.env when none are named.
// Missing files are ignored and existing environment variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads cfgFile, or hrauth.yaml from the working directory or
// /etc/hrauth when cfgFile is empty. A missing default file is not an
// error; environment variables and defaults still apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("hrauth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hrauth")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kratos.admin_url", "")
	v.SetDefault("kratos.token_url", "")
	v.SetDefault("kratos.client_id", "")
	v.SetDefault("kratos.client_secret", "")
	v.SetDefault("kratos.schema_id", "default")
	v.SetDefault("kratos.timeout", 10*time.Second)

	v.SetDefault("google.client_id", "")
	v.SetDefault("facebook.app_id", "")
	v.SetDefault("facebook.app_secret", "")
	v.SetDefault("facebook.graph_url", "")

	d := hrauth.DefaultConfig()
	v.SetDefault("auth.server_secret", "")
	v.SetDefault("auth.link_signing_key", "")
	v.SetDefault("auth.bcrypt_cost", d.Password.BcryptCost)
	v.SetDefault("auth.min_password_length", d.Password.MinLength)
	v.SetDefault("auth.session_cache_ttl", d.Session.CacheTTL)
	v.SetDefault("auth.rate_limit", d.RateLimit.Enabled)
	v.SetDefault("auth.max_login_attempts", d.RateLimit.MaxLoginAttempts)
	v.SetDefault("auth.login_cooldown", d.RateLimit.LoginCooldown)
	v.SetDefault("auth.verify_email_url", "")
	v.SetDefault("auth.verify_email_ttl", d.Links.VerifyEmailTTL)
	v.SetDefault("auth.invite_url", "")
	v.SetDefault("auth.invite_ttl", d.Links.InviteTTL)

	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the settings the binary cannot start without. Engine
// level limits are checked again by hrauth.Config.Validate.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Kratos.AdminURL == "" || c.Kratos.TokenURL == "" || c.Kratos.ClientID == "" {
		return errors.New("kratos.admin_url, kratos.token_url and kratos.client_id are required")
	}
	if len(c.Auth.ServerSecret) < 16 {
		return errors.New("auth.server_secret must be at least 16 bytes")
	}
	if len(c.Auth.LinkSigningKey) < 32 {
		return errors.New("auth.link_signing_key must be at least 32 bytes")
	}

	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "") {
			return errors.New("mail.host and mail.from are required for the smtp driver")
		}
	default:
		return fmt.Errorf("invalid mail.driver: %s (must be smtp or log)", c.Mail.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be json or console)", c.Logging.Format)
	}
	return nil
}

// EngineConfig converts the service settings into the engine configuration.
func (c *Config) EngineConfig() hrauth.Config {
	cfg := hrauth.DefaultConfig()

	cfg.Session.CacheTTL = c.Auth.SessionCacheTTL

	cfg.Password.BcryptCost = c.Auth.BcryptCost
	cfg.Password.MinLength = c.Auth.MinPasswordLen

	cfg.External.ServerSecret = []byte(c.Auth.ServerSecret)
	cfg.External.CallTimeout = c.Kratos.Timeout

	cfg.Google.ClientID = c.Google.ClientID
	cfg.Facebook.AppID = c.Facebook.AppID
	cfg.Facebook.AppSecret = c.Facebook.AppSecret
	cfg.Facebook.GraphURL = c.Facebook.GraphURL

	cfg.RateLimit.Enabled = c.Auth.RateLimit
	cfg.RateLimit.MaxLoginAttempts = c.Auth.MaxLoginAttempts
	cfg.RateLimit.LoginCooldown = c.Auth.LoginCooldown

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled && c.Metrics.Latency

	cfg.Links.SigningKey = []byte(c.Auth.LinkSigningKey)
	cfg.Links.VerifyEmailURL = c.Auth.VerifyEmailURL
	cfg.Links.VerifyEmailTTL = c.Auth.VerifyEmailTTL
	cfg.Links.InviteURL = c.Auth.InviteURL
	cfg.Links.InviteTTL = c.Auth.InviteTTL

	cfg.Mail.Enabled = c.Mail.Enabled
	return cfg
}
