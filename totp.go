package authbroker

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 160-bit shared secrets, per RFC 4226 recommendations.
const totpSecretBytes = 20

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager generates and verifies RFC 6238 time-based codes. Verification
// reports the matched time-step counter; callers persist the highest counter
// seen so a captured code cannot be replayed inside the skew window.
type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "authbroker"
	}
	return &totpManager{config: cfg}
}

func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	if m == nil {
		return nil, "", ErrBrokerNotReady
	}
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, base32NoPad.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI that authenticator apps consume,
// labeled issuer:account.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer

	params := url.Values{}
	params.Set("secret", secretBase32)
	params.Set("issuer", issuer)
	params.Set("period", strconv.Itoa(m.config.Period))
	params.Set("digits", strconv.Itoa(m.config.Digits))
	params.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + url.PathEscape(issuer+":"+account) + "?" + params.Encode()
}

// VerifyCode checks code against secret across the configured skew window
// around now. On a match it returns the counter of the matching time step.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrBrokerNotReady
	}

	candidate := strings.TrimSpace(code)
	if len(candidate) != m.config.Digits || !allDigits(candidate) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	center := now.Unix() / int64(m.config.Period)
	for offset := -m.config.Skew; offset <= m.config.Skew; offset++ {
		counter := center + int64(offset)
		if counter < 0 {
			continue
		}
		expected, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

// hotpCode computes the RFC 4226 value for a single counter, zero-padded to
// the requested digit count.
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	newHash, err := hashConstructor(algorithm)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(newHash, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: the low nibble of the last byte picks a 31-bit
	// big-endian word out of the digest.
	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	out := strconv.FormatUint(uint64(truncated%mod), 10)
	for len(out) < digits {
		out = "0" + out
	}
	return out, nil
}

func hashConstructor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
