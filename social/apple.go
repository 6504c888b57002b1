package social

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleAuthURL  = "https://appleid.apple.com/auth/authorize"
	appleTokenURL = "https://appleid.apple.com/auth/token"
	appleAudience = "https://appleid.apple.com"

	// Apple allows up to six months; short-lived secrets are minted per
	// exchange so nothing needs rotation.
	appleSecretTTL = 5 * time.Minute
)

// AppleConfig extends [Config] with the Sign in with Apple key material.
// ClientSecret is ignored; Apple requires an ES256-signed JWT minted from
// the developer key instead of a static secret.
type AppleConfig struct {
	Config
	// TeamID is the Apple developer team identifier.
	TeamID string
	// KeyID identifies the .p8 signing key.
	KeyID string
	// PrivateKeyPEM is the PKCS#8 PEM of the ES256 signing key.
	PrivateKeyPEM []byte
}

// AppleProvider implements Sign in with Apple. The identity comes out of
// the id_token in the token response rather than a profile endpoint, and
// carries only the stable subject and email; Apple reports names once, in
// the authorization form post, which this provider does not consume.
type AppleProvider struct {
	config     *oauth2.Config
	teamID     string
	keyID      string
	signingKey *ecdsa.PrivateKey
}

// NewApple parses the developer key and returns the Apple provider.
func NewApple(cfg AppleConfig) (*AppleProvider, error) {
	if cfg.TeamID == "" || cfg.KeyID == "" {
		return nil, errors.New("apple requires team id and key id")
	}
	key, err := parseAppleKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"name", "email"}
	}

	return &AppleProvider{
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  appleAuthURL,
				TokenURL: appleTokenURL,
			},
		},
		teamID:     cfg.TeamID,
		keyID:      cfg.KeyID,
		signingKey: key,
	}, nil
}

// Name describes the name operation and its observable behavior.
func (p *AppleProvider) Name() string {
	return "apple"
}

// RedirectURL describes the redirecturl operation and its observable behavior.
// Apple mandates response_mode=form_post when name or email scopes are
// requested.
func (p *AppleProvider) RedirectURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

// Exchange mints a fresh client secret, trades the authorization code for
// a token, and extracts the identity from the returned id_token.
func (p *AppleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}

	secret, err := p.clientSecret(time.Now())
	if err != nil {
		return nil, fmt.Errorf("apple client secret: %w", err)
	}

	cfg := *p.config
	cfg.ClientSecret = secret
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("apple code exchange: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.New("apple token response missing id_token")
	}

	identity, err := appleIdentity(idToken)
	if err != nil {
		return nil, fmt.Errorf("apple id_token: %w", err)
	}
	return identity, nil
}

// clientSecret builds the ES256 developer-key JWT Apple expects in place
// of a static client secret.
func (p *AppleProvider) clientSecret(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    p.teamID,
		Subject:   p.config.ClientID,
		Audience:  jwt.ClaimStrings{appleAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appleSecretTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = p.keyID

	return token.SignedString(p.signingKey)
}

// appleIdentity pulls the subject and email out of an id_token. The token
// arrived over TLS directly from Apple's token endpoint inside a code
// exchange, so its signature is not re-verified here.
func appleIdentity(idToken string) (*Identity, error) {
	var claims struct {
		Email string `json:"email"`
		jwt.RegisteredClaims
	}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject claim")
	}

	return &Identity{
		Provider: "apple",
		ID:       claims.Subject,
		Email:    claims.Email,
	}, nil
}

func parseAppleKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("apple private key is not PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("apple private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("apple private key is not ECDSA")
	}
	return key, nil
}
