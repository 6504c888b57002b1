package social

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func appleTestKeyPEM(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), key
}

func appleTestProvider(t *testing.T) (*AppleProvider, *ecdsa.PrivateKey) {
	t.Helper()
	pemBytes, key := appleTestKeyPEM(t)
	provider, err := NewApple(AppleConfig{
		Config: Config{
			ClientID:    "com.example.app",
			RedirectURL: "https://app.example.com/social/apple/callback",
		},
		TeamID:        "TEAM123456",
		KeyID:         "KEY1234567",
		PrivateKeyPEM: pemBytes,
	})
	if err != nil {
		t.Fatalf("NewApple failed: %v", err)
	}
	return provider, key
}

func TestAppleRedirectURL(t *testing.T) {
	provider, _ := appleTestProvider(t)

	redirect := provider.RedirectURL("state-xyz")
	for _, want := range []string{
		"https://appleid.apple.com/auth/authorize",
		"client_id=com.example.app",
		"state=state-xyz",
		"response_mode=form_post",
	} {
		if !strings.Contains(redirect, want) {
			t.Errorf("redirect URL missing %q: %s", want, redirect)
		}
	}
}

func TestAppleClientSecretIsSignedDeveloperJWT(t *testing.T) {
	provider, key := appleTestProvider(t)

	secret, err := provider.clientSecret(time.Now())
	if err != nil {
		t.Fatalf("clientSecret failed: %v", err)
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.NewParser(jwt.WithValidMethods([]string{"ES256"})).
		ParseWithClaims(secret, &claims, func(t *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		})
	if err != nil || !token.Valid {
		t.Fatalf("client secret did not verify: %v", err)
	}

	if claims.Issuer != "TEAM123456" {
		t.Errorf("issuer = %q, want team id", claims.Issuer)
	}
	if claims.Subject != "com.example.app" {
		t.Errorf("subject = %q, want client id", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "https://appleid.apple.com" {
		t.Errorf("audience = %v", claims.Audience)
	}
	if kid, _ := token.Header["kid"].(string); kid != "KEY1234567" {
		t.Errorf("kid = %q, want key id", kid)
	}
}

func TestAppleIdentityFromIDToken(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"sub":   "001234.abcdef.5678",
		"email": "user@example.com",
		"iss":   "https://appleid.apple.com",
	}).SignedString(signer)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}

	identity, err := appleIdentity(idToken)
	if err != nil {
		t.Fatalf("appleIdentity failed: %v", err)
	}
	if identity.Provider != "apple" || identity.ID != "001234.abcdef.5678" || identity.Email != "user@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestAppleIdentityRejectsBadTokens(t *testing.T) {
	if _, err := appleIdentity("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed id_token")
	}

	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"email": "user@example.com",
	}).SignedString(signer)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}
	if _, err := appleIdentity(noSubject); err == nil {
		t.Fatal("expected error for id_token without subject")
	}
}

func TestNewAppleValidatesConfig(t *testing.T) {
	pemBytes, _ := appleTestKeyPEM(t)

	cases := []struct {
		name string
		cfg  AppleConfig
	}{
		{"missing team id", AppleConfig{
			Config: Config{ClientID: "c"}, KeyID: "k", PrivateKeyPEM: pemBytes,
		}},
		{"missing key id", AppleConfig{
			Config: Config{ClientID: "c"}, TeamID: "t", PrivateKeyPEM: pemBytes,
		}},
		{"bad pem", AppleConfig{
			Config: Config{ClientID: "c"}, TeamID: "t", KeyID: "k",
			PrivateKeyPEM: []byte("garbage"),
		}},
	}
	for _, tc := range cases {
		if _, err := NewApple(tc.cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
