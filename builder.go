package authbroker

import (
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"

	"github.com/polyfactor/authbroker/internal/audit"
	"github.com/polyfactor/authbroker/internal/challenge"
	"github.com/polyfactor/authbroker/internal/rate"
	"github.com/polyfactor/authbroker/jwt"
	"github.com/polyfactor/authbroker/password"
	"github.com/polyfactor/authbroker/social"
)

// Builder defines a public type used by authbroker APIs.
//
// Builder instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountRepository
	mailer    Mailer
	auditSink AuditSink
	providers map[string]social.Provider

	built bool
}

// New describes the new operation and its observable behavior.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccounts describes the withaccounts operation and its observable behavior.
func (b *Builder) WithAccounts(repo AccountRepository) *Builder {
	b.accounts = repo
	return b
}

// WithMailer describes the withmailer operation and its observable behavior.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSocialProvider registers a social identity provider under its own
// name. Registering the same name twice keeps the last provider.
func (b *Builder) WithSocialProvider(p social.Provider) *Builder {
	if p == nil {
		return b
	}
	if b.providers == nil {
		b.providers = make(map[string]social.Provider)
	}
	b.providers[strings.ToLower(p.Name())] = p
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
func (b *Builder) Build() (*Broker, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account repository required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Social.Enabled && len(b.providers) == 0 {
		return nil, errors.New("social login requires at least one provider")
	}
	if cfg.MagicLink.Enabled && b.mailer == nil {
		return nil, errors.New("magic link requires a mailer")
	}
	if cfg.Validation.Required && b.mailer == nil {
		return nil, errors.New("email validation requires a mailer")
	}

	broker := &Broker{
		config:   cfg,
		accounts: b.accounts,
		mailer:   b.mailer,
	}

	broker.challenges = challenge.NewStore(b.redis, cfg.Redis.ChallengePrefix)
	if cfg.RateLimit.Enabled {
		broker.rateLimiter = rate.New(b.redis, rate.Config{
			Prefix:           cfg.Redis.RatePrefix,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:    cfg.RateLimit.LoginCooldown,
			MaxCodeSends:     cfg.RateLimit.MaxCodeSends,
			CodeSendCooldown: cfg.RateLimit.CodeSendCooldown,
		})
	}

	broker.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	broker.metrics = NewMetrics(cfg.Metrics)
	broker.totp = newTOTPManager(totpConfigWithIssuer(cfg))
	broker.providers = b.providers

	if cfg.Password.Enabled {
		ph, err := password.NewHasher(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		})
		if err != nil {
			return nil, err
		}
		broker.passwordHash = ph
	}

	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    append([]byte(nil), cfg.Session.PrivateKey...),
		PublicKey:     append([]byte(nil), cfg.Session.PublicKey...),
		Issuer:        cfg.Session.Issuer,
	})
	if err != nil {
		return nil, err
	}
	broker.jwtManager = jm

	if cfg.Fido.Enabled {
		wa, err := webauthn.New(&webauthn.Config{
			RPDisplayName: cfg.Fido.RPName,
			RPID:          cfg.Fido.RPID,
			RPOrigins:     cfg.Fido.Origins,
		})
		if err != nil {
			return nil, err
		}
		broker.webauthn = wa
	}

	b.built = true

	return broker, nil
}

func totpConfigWithIssuer(cfg Config) TOTPConfig {
	out := cfg.TOTP
	if out.Issuer == "" {
		out.Issuer = cfg.Service.Name
	}
	return out
}
