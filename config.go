package hrauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config is the engine configuration. Start from [DefaultConfig] and
// override; [Builder.Build] calls [Config.Validate].
type Config struct {
	Session   SessionConfig
	Password  PasswordConfig
	External  ExternalConfig
	Google    GoogleConfig
	Facebook  FacebookConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Links     LinksConfig
	Mail      MailConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the Redis mirror of session tokens.
type SessionConfig struct {
	RedisPrefix string
	// CacheTTL bounds how long a mirrored entry can outlive a failed
	// cache delete.
	CacheTTL time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig tunes bcrypt and the password policy.
type PasswordConfig struct {
	BcryptCost int
	MinLength  int
	// MigrationTimeout bounds the detached hash write after a legacy or
	// low-cost verification.
	MigrationTimeout time.Duration
}

/*
====================================
EXTERNAL PROVIDER CONFIG
====================================
*/

// ExternalConfig tunes the secondary identity provider session.
type ExternalConfig struct {
	// ServerSecret keys the deterministic provider password. At least 16 bytes.
	ServerSecret     []byte
	KeyPrefix        string
	RefreshThreshold time.Duration
	BlacklistTTL     time.Duration
	RefreshTokenTTL  time.Duration
	CreateRetries    int
	BackoffBase      time.Duration
	CallTimeout      time.Duration
}

/*
====================================
SOCIAL PROVIDERS
====================================
*/

// GoogleConfig enables Google sign-in when ClientID is set.
type GoogleConfig struct {
	ClientID string
}

// FacebookConfig enables Facebook sign-in when AppID is set.
type FacebookConfig struct {
	AppID     string
	AppSecret string
	GraphURL  string
}

/*
====================================
RATE LIMIT / AUDIT / METRICS
====================================
*/

// RateLimitConfig throttles failed logins per identifier and per IP.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
LINKS / MAIL
====================================
*/

// LinksConfig configures the signed tokens mailed for email verification
// and invites. The token is appended as ?token= to the URLs.
type LinksConfig struct {
	SigningKey     []byte
	Issuer         string
	VerifyEmailTTL time.Duration
	InviteTTL      time.Duration
	VerifyEmailURL string
	InviteURL      string
}

// MailConfig controls outbound account mail.
type MailConfig struct {
	Enabled     bool
	SendTimeout time.Duration
}

// DefaultConfig returns the production defaults. Secrets are left empty.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix: "hs",
			CacheTTL:    24 * time.Hour,
		},
		Password: PasswordConfig{
			BcryptCost:       12,
			MinLength:        8,
			MigrationTimeout: 5 * time.Second,
		},
		External: ExternalConfig{
			KeyPrefix:        "x",
			RefreshThreshold: 300 * time.Second,
			BlacklistTTL:     24 * time.Hour,
			RefreshTokenTTL:  30 * 24 * time.Hour,
			CreateRetries:    3,
			BackoffBase:      time.Second,
			CallTimeout:      10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: true,
			MaxLoginAttempts: 5,
			LoginCooldown:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Links: LinksConfig{
			Issuer:         "hrauth",
			VerifyEmailTTL: 24 * time.Hour,
			InviteTTL:      72 * time.Hour,
		},
		Mail: MailConfig{
			Enabled:     true,
			SendTimeout: 10 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.External.ServerSecret = cloneBytes(cfg.External.ServerSecret)
	out.Links.SigningKey = cloneBytes(cfg.Links.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.CacheTTL <= 0 {
		return errors.New("Session CacheTTL must be > 0")
	}

	// Password
	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("Password BcryptCost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Password.MinLength < 8 || c.Password.MinLength > 72 {
		return errors.New("Password MinLength must be between 8 and 72")
	}
	if c.Password.MigrationTimeout <= 0 {
		return errors.New("Password MigrationTimeout must be > 0")
	}

	// External
	if len(c.External.ServerSecret) < 16 {
		return errors.New("External ServerSecret must be at least 16 bytes")
	}
	if strings.TrimSpace(c.External.KeyPrefix) == "" {
		return errors.New("External KeyPrefix must not be empty")
	}
	if c.External.RefreshThreshold <= 0 || c.External.BlacklistTTL <= 0 || c.External.RefreshTokenTTL <= 0 {
		return errors.New("External token durations must be > 0")
	}
	if c.External.BlacklistTTL < c.External.RefreshThreshold {
		return errors.New("External BlacklistTTL must be >= RefreshThreshold")
	}
	if c.External.CreateRetries < 0 || c.External.CreateRetries > 10 {
		return errors.New("External CreateRetries must be between 0 and 10")
	}
	if c.External.BackoffBase <= 0 || c.External.CallTimeout <= 0 {
		return errors.New("External BackoffBase and CallTimeout must be > 0")
	}

	// Facebook
	if c.Facebook.AppID != "" && c.Facebook.AppSecret == "" {
		return errors.New("Facebook AppSecret required when AppID is set")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Links
	if len(c.Links.SigningKey) < 32 {
		return errors.New("Links SigningKey must be at least 32 bytes")
	}
	if c.Links.VerifyEmailTTL <= 0 || c.Links.InviteTTL <= 0 {
		return errors.New("Links TTLs must be > 0")
	}
	for name, raw := range map[string]string{"VerifyEmailURL": c.Links.VerifyEmailURL, "InviteURL": c.Links.InviteURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("Links %s must be an absolute URL", name)
		}
	}

	if c.Mail.Enabled && c.Mail.SendTimeout <= 0 {
		return errors.New("Mail SendTimeout must be > 0")
	}

	return nil
}
