package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ChallengeID is the opaque 128-bit identifier of a stored challenge.
type ChallengeID [16]byte

const (
	codeSecretSize = 32
	codeRawSize    = 48
)

func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func ParseChallengeID(id string) (ChallengeID, error) {
	var out ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, errors.New("invalid challenge id size")
	}

	copy(out[:], raw)
	return out, nil
}

func NewCodeSecret() ([codeSecretSize]byte, error) {
	var secret [codeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [codeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashSecretBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeCode packs a challenge id and its secret into one opaque token:
// the id locates the record, the secret proves possession.
func EncodeCode(challengeID string, secret [codeSecretSize]byte) (string, error) {
	id, err := ParseChallengeID(challengeID)
	if err != nil {
		return "", err
	}

	var raw [codeRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeCode(code string) (string, [codeSecretSize]byte, error) {
	var secret [codeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != codeRawSize {
		return "", secret, errors.New("invalid code size")
	}

	var id ChallengeID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

// NewNonce returns a base64url-encoded random nonce of n bytes of entropy.
func NewNonce(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
