package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Cost floors. NewHasher refuses configs below these, and Verify refuses
// stored hashes claiming weaker parameters.
const (
	floorMemoryKB    uint32 = 8 * 1024
	floorTime        uint32 = 1
	floorParallelism uint8  = 1
	floorSaltLen     uint32 = 16
	floorKeyLen      uint32 = 16
	floorMinLength          = 6
)

// ErrPolicy is returned by [Hasher.Hash] when the plaintext violates the
// minimum-length policy.
var ErrPolicy = errors.New("password below minimum length")

// Config defines the argon2id cost parameters and the plaintext policy.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength is the minimum plaintext byte length. The floor is 6;
	// callers may only strengthen it.
	MinLength int
}

// Hasher hashes and verifies passwords with argon2id.
//
// Hasher instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Hasher struct {
	config Config
}

// NewHasher validates cfg against the cost floors and returns a ready
// [Hasher].
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < floorMemoryKB:
		return nil, errors.New("memory below minimum")
	case cfg.Time < floorTime:
		return nil, errors.New("time cost below minimum")
	case cfg.Parallelism < floorParallelism:
		return nil, errors.New("parallelism below minimum")
	case cfg.SaltLength < floorSaltLen:
		return nil, errors.New("salt length below minimum")
	case cfg.KeyLength < floorKeyLen:
		return nil, errors.New("key length below minimum")
	case cfg.MinLength < floorMinLength:
		return nil, errors.New("minimum password length below floor")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives an argon2id hash of password and encodes it as a PHC string.
// Password bytes are used exactly as provided (no Unicode normalization).
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < h.config.MinLength {
		return "", ErrPolicy
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt,
		h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.config.Memory, h.config.Time, h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// Verify re-derives the hash under the parameters embedded in encodedHash
// and compares in constant time. A malformed hash is an error, not a
// mismatch, so storage corruption is distinguishable from a wrong password.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	stored, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), stored.salt,
		stored.time, stored.memory, stored.parallelism, uint32(len(stored.key)))

	return subtle.ConstantTimeCompare(computed, stored.key) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with weaker cost
// parameters than the Hasher is configured with. Callers typically check
// after a successful login and transparently re-hash the plaintext.
func (h *Hasher) NeedsRehash(encodedHash string) (bool, error) {
	stored, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := h.config.Memory > stored.memory ||
		h.config.Time > stored.time ||
		h.config.Parallelism > stored.parallelism ||
		h.config.KeyLength != uint32(len(stored.key))
	return weaker, nil
}

type phcRecord struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// decodePHC parses "$argon2id$v=N$m=N,t=N,p=N$salt$key" with unpadded
// standard base64, rejecting other algorithms, versions, and any parameter
// below the package floors.
func decodePHC(encodedHash string) (*phcRecord, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != "argon2id" {
		return nil, errors.New("unsupported algorithm")
	}

	var version int
	if n, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || n != 1 {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var rec phcRecord
	n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&rec.memory, &rec.time, &rec.parallelism)
	if err != nil || n != 3 {
		return nil, errors.New("invalid parameter block")
	}
	if rec.memory < floorMemoryKB || rec.time < floorTime || rec.parallelism < floorParallelism {
		return nil, errors.New("parameters below minimum")
	}

	if rec.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if uint32(len(rec.salt)) < floorSaltLen {
		return nil, errors.New("invalid salt length")
	}
	if rec.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(rec.key) == 0 {
		return nil, errors.New("invalid hash length")
	}
	return &rec, nil
}
