package authbroker

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by authbroker APIs.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type Config struct {
	Service      ServiceConfig
	Session      SessionConfig
	Password     PasswordConfig
	TOTP         TOTPConfig
	Fido         FidoConfig
	Wallet       WalletConfig
	Social       SocialConfig
	MagicLink    MagicLinkConfig
	Validation   ValidationConfig
	Invitation   InvitationConfig
	Registration RegistrationConfig
	RateLimit    RateLimitConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Redis        RedisConfig
}

/*
====================================
SERVICE CONFIG
====================================
*/

// ServiceConfig names the relying service. Name appears in wallet challenge
// messages and TOTP provisioning URIs.
type ServiceConfig struct {
	Name string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session token issuance.
type SessionConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
FACTOR CONFIGS
====================================
*/

// PasswordConfig defines a public type used by authbroker APIs.
type PasswordConfig struct {
	Enabled     bool
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength is the minimum plaintext byte length accepted on
	// registration and password change. Values below 6 are rejected.
	MinLength      int
	UpgradeOnLogin bool
	// RequireOldForUpdate requires the current password on
	// [Broker.UpdatePassword].
	RequireOldForUpdate bool
}

// TOTPConfig defines a public type used by authbroker APIs.
type TOTPConfig struct {
	Enabled   bool
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	Skew      int
}

// FidoConfig holds relying-party identity for FIDO2 ceremonies. RPID,
// RPName, and Origins are all required when the feature is enabled.
type FidoConfig struct {
	Enabled     bool
	RPID        string
	RPName      string
	Origins     []string
	CeremonyTTL time.Duration
}

// WalletConfig defines a public type used by authbroker APIs.
type WalletConfig struct {
	Enabled  bool
	NonceTTL time.Duration
}

// SocialConfig defines a public type used by authbroker APIs.
type SocialConfig struct {
	Enabled bool
}

// MagicLinkConfig defines a public type used by authbroker APIs.
type MagicLinkConfig struct {
	Enabled bool
	TTL     time.Duration
	// BaseURL, when set, is prepended to outbound magic link codes to form
	// a clickable link in the email body.
	BaseURL string
}

// ValidationConfig defines a public type used by authbroker APIs.
type ValidationConfig struct {
	// Required marks unvalidated accounts: their session tokens carry
	// email_validation_pending=true until the emailed code is confirmed.
	Required bool
}

// InvitationConfig defines a public type used by authbroker APIs.
type InvitationConfig struct {
	Enabled bool
}

// RegistrationConfig controls which factors may create a brand-new account
// on first use. A disabled method can still log in and link to existing
// accounts.
type RegistrationConfig struct {
	Password bool
	Social   bool
	Wallet   bool
}

/*
====================================
AMBIENT CONFIGS
====================================
*/

// RateLimitConfig defines a public type used by authbroker APIs.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	MaxCodeSends     int
	CodeSendCooldown time.Duration
}

// AuditConfig defines a public type used by authbroker APIs.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authbroker APIs.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RedisConfig defines a public type used by authbroker APIs.
type RedisConfig struct {
	ChallengePrefix string
	RatePrefix      string
}

// DefaultConfig returns the baseline configuration the Builder starts
// from: password login enabled, every other factor off until configured.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Name: "authbroker",
		},
		Session: SessionConfig{
			TTL:           time.Hour,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Enabled:     true,
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   6,
		},
		TOTP: TOTPConfig{
			Enabled:   false,
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Fido: FidoConfig{
			Enabled:     false,
			CeremonyTTL: 2 * time.Minute,
		},
		Wallet: WalletConfig{
			Enabled:  false,
			NonceTTL: 5 * time.Minute,
		},
		Social: SocialConfig{
			Enabled: false,
		},
		MagicLink: MagicLinkConfig{
			Enabled: false,
			TTL:     15 * time.Minute,
		},
		Invitation: InvitationConfig{
			Enabled: false,
		},
		Registration: RegistrationConfig{
			Password: true,
			Social:   true,
			Wallet:   true,
		},
		RateLimit: RateLimitConfig{
			Enabled:          false,
			MaxLoginAttempts: 10,
			LoginCooldown:    5 * time.Minute,
			MaxCodeSends:     5,
			CodeSendCooldown: 10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			ChallengePrefix: "abc",
			RatePrefix:      "abr",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = append([]byte(nil), cfg.Session.PrivateKey...)
	out.Session.PublicKey = append([]byte(nil), cfg.Session.PublicKey...)
	out.Fido.Origins = append([]string(nil), cfg.Fido.Origins...)
	return out
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		return errors.New("service name is required")
	}
	if cfg.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if cfg.Password.Enabled && cfg.Password.MinLength < 6 {
		return errors.New("password minimum length may not be below 6")
	}
	if cfg.TOTP.Enabled {
		if cfg.TOTP.Digits < 6 || cfg.TOTP.Digits > 10 {
			return errors.New("totp digits must be between 6 and 10")
		}
		if cfg.TOTP.Period <= 0 {
			return errors.New("totp period must be positive")
		}
		if cfg.TOTP.Skew < 0 || cfg.TOTP.Skew > 2 {
			return errors.New("totp skew must be between 0 and 2")
		}
	}
	if cfg.Fido.Enabled {
		if cfg.Fido.RPID == "" || cfg.Fido.RPName == "" || len(cfg.Fido.Origins) == 0 {
			return errors.New("fido2 requires rp id, rp name, and at least one origin")
		}
		if cfg.Fido.CeremonyTTL <= 0 {
			return errors.New("fido2 ceremony TTL must be positive")
		}
	}
	if cfg.Wallet.Enabled && cfg.Wallet.NonceTTL <= 0 {
		return errors.New("wallet nonce TTL must be positive")
	}
	if cfg.MagicLink.Enabled && cfg.MagicLink.TTL <= 0 {
		return errors.New("magic link TTL must be positive")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.MaxLoginAttempts <= 0 || cfg.RateLimit.LoginCooldown <= 0 {
			return errors.New("login rate limit requires positive attempts and cooldown")
		}
		if cfg.RateLimit.MaxCodeSends <= 0 || cfg.RateLimit.CodeSendCooldown <= 0 {
			return errors.New("code send rate limit requires positive attempts and cooldown")
		}
	}
	return nil
}
