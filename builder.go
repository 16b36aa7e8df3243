package hrauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/hrauth/extauth"
	"github.com/MrEthical07/hrauth/identity"
	internalaudit "github.com/MrEthical07/hrauth/internal/audit"
	"github.com/MrEthical07/hrauth/internal/rate"
	"github.com/MrEthical07/hrauth/jwt"
	"github.com/MrEthical07/hrauth/mail"
	"github.com/MrEthical07/hrauth/password"
	"github.com/MrEthical07/hrauth/session"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory   Directory
	sessionRepo session.Repository
	provider    extauth.Provider
	external    ExternalSessions
	verifiers   []identity.TokenVerifier

	mailer    mail.Sender
	auditSink AuditSink
	logger    zerolog.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the cache client used for session mirroring, external
// tokens and login throttling.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the durable store. If it also implements
// session.Repository it backs session tokens too.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithSessionRepository overrides the session token table.
func (b *Builder) WithSessionRepository(r session.Repository) *Builder {
	b.sessionRepo = r
	return b
}

// WithExternalProvider sets the secondary identity provider. The engine
// builds an extauth.Manager over it.
func (b *Builder) WithExternalProvider(p extauth.Provider) *Builder {
	b.provider = p
	return b
}

// WithExternalSessions replaces the external session manager entirely.
func (b *Builder) WithExternalSessions(s ExternalSessions) *Builder {
	b.external = s
	return b
}

// WithTokenVerifier registers a provider verifier in addition to those
// built from the Google and Facebook config sections.
func (b *Builder) WithTokenVerifier(v identity.TokenVerifier) *Builder {
	b.verifiers = append(b.verifiers, v)
	return b
}

func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. Building the
// Google verifier does not contact Google; keys are fetched on first use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if b.provider == nil && b.external == nil {
		return nil, errors.New("external provider required")
	}

	sessionRepo := b.sessionRepo
	if sessionRepo == nil {
		repo, ok := b.directory.(session.Repository)
		if !ok {
			return nil, errors.New("session repository required")
		}
		sessionRepo = repo
	}

	log := b.logger
	engine := &Engine{
		config:   cloneConfig(cfg),
		dir:      b.directory,
		redis:    b.redis,
		mailer:   b.mailer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     log.With().Str("component", "audit").Logger(),
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		log:     log,
		now:     time.Now,
	}

	// -------- SESSIONS --------
	engine.sessions = session.NewIssuer(
		sessionRepo,
		session.NewCache(b.redis, cfg.Session.RedisPrefix),
		session.IssuerConfig{CacheTTL: cfg.Session.CacheTTL},
		log.With().Str("component", "session").Logger(),
	)

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	engine.verifier, err = password.NewVerifier(password.VerifierConfig{
		Hasher:       hasher,
		Writer:       b.directory,
		Logger:       log.With().Str("component", "password").Logger(),
		OnMigrate:    engine.onCredentialMigrated,
		WriteTimeout: cfg.Password.MigrationTimeout,
	})
	if err != nil {
		return nil, err
	}

	// -------- PROVIDERS --------
	verifiers := append([]identity.TokenVerifier(nil), b.verifiers...)
	if cfg.Google.ClientID != "" {
		g, err := identity.NewGoogleVerifier(context.Background(), cfg.Google.ClientID)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, g)
	}
	if cfg.Facebook.AppID != "" {
		f, err := identity.NewFacebookVerifier(identity.FacebookConfig{
			AppID:     cfg.Facebook.AppID,
			AppSecret: cfg.Facebook.AppSecret,
			GraphURL:  cfg.Facebook.GraphURL,
		})
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, f)
	}
	engine.resolver = identity.NewResolver(b.directory, log.With().Str("component", "identity").Logger(), verifiers...)

	// -------- EXTERNAL SESSIONS --------
	if b.external != nil {
		engine.external = b.external
	} else {
		retries := cfg.External.CreateRetries
		if retries == 0 {
			retries = extauth.NoRetries
		}
		m, err := extauth.NewManager(
			b.provider,
			b.directory,
			extauth.NewTokenCache(b.redis, cfg.External.KeyPrefix),
			extauth.Config{
				ServerSecret:     cloneBytes(cfg.External.ServerSecret),
				RefreshThreshold: cfg.External.RefreshThreshold,
				BlacklistTTL:     cfg.External.BlacklistTTL,
				RefreshTokenTTL:  cfg.External.RefreshTokenTTL,
				CreateRetries:    retries,
				BackoffBase:      cfg.External.BackoffBase,
				CallTimeout:      cfg.External.CallTimeout,
			},
			log.With().Str("component", "extauth").Logger(),
		)
		if err != nil {
			return nil, err
		}
		engine.external = m
	}

	// -------- THROTTLING / LINKS --------
	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:    cfg.RateLimit.LoginCooldown,
		})
	}

	links, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    cloneBytes(cfg.Links.SigningKey),
		Issuer:        cfg.Links.Issuer,
		TTL: map[jwt.Purpose]time.Duration{
			jwt.PurposeVerifyEmail: cfg.Links.VerifyEmailTTL,
			jwt.PurposeInvite:      cfg.Links.InviteTTL,
		},
	})
	if err != nil {
		return nil, err
	}
	engine.links = links

	b.built = true

	return engine, nil
}
