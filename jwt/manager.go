package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod defines a public type used by authbroker APIs.
type SigningMethod string

const (
	// MethodEd25519 is an exported constant or variable used by the authentication broker.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 is an exported constant or variable used by the authentication broker.
	MethodHS256 SigningMethod = "hs256"
)

// Config defines a public type used by authbroker APIs.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// Manager signs and verifies session tokens. Keys are resolved once at
// construction; a Manager built without a private key can verify but not
// issue.
//
// Manager instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Manager struct {
	config    Config
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
}

// SessionClaims is the claim set of a session token. AccountID rides in the
// registered subject claim; the pending flags gate downstream authorization.
type SessionClaims struct {
	TOTPPending       bool     `json:"totp_pending,omitempty"`
	ValidationPending bool     `json:"email_validation_pending,omitempty"`
	Scopes            []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *SessionClaims) AccountID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("ed25519 requires a valid public key")
		}
		m.method = jwt.SigningMethodEdDSA
		m.verifyKey = ed25519.PublicKey(cfg.PublicKey)
		if len(cfg.PrivateKey) > 0 {
			if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
				return nil, errors.New("invalid ed25519 private key size")
			}
			m.signKey = ed25519.PrivateKey(cfg.PrivateKey)
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// Issue signs a session token for accountID with the given pending flags.
func (m *Manager) Issue(accountID string, scopes []string, totpPending, validationPending bool) (string, error) {
	if accountID == "" {
		return "", errors.New("account id is required")
	}
	if m.signKey == nil {
		return "", errors.New("manager has no signing key")
	}

	now := time.Now()
	claims := SessionClaims{
		TOTPPending:       totpPending,
		ValidationPending: validationPending,
		Scopes:            scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	return jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
}

// Parse verifies signature and expiry and returns the claims. Callers must
// still honor the pending flags; Parse does not reject a pending token.
func (m *Manager) Parse(tokenStr string) (*SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey, nil
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &SessionClaims{}, keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing subject")
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}

	return claims, nil
}
