package challenge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purpose tags what a challenge proves. A consume with the wrong purpose
// behaves exactly like an unknown challenge.
type Purpose byte

const (
	PurposeFidoRegistration Purpose = iota + 1
	PurposeFidoLogin
	PurposeWalletNonce
	PurposeMagicLink
	PurposeEmailValidation
	PurposeInvitation
)

const (
	recordVersionV1 = 1

	flagHasSecret = 1 << 0

	defaultMaxAttempts = 5
)

var (
	ErrNotFound         = errors.New("challenge not found")
	ErrSecretMismatch   = errors.New("challenge secret mismatch")
	ErrAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrRedisUnavailable = errors.New("challenge redis unavailable")
)

// consumeLua atomically performs GET→validate→DEL on a challenge record.
// KEYS[1] = record key
// ARGV[1] = provided secret hash (32 bytes)
// ARGV[2] = expected purpose (byte as int string)
// ARGV[3] = current unix timestamp (int string)
// ARGV[4] = max attempts (int string)
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired", "attempts_exceeded", "secret_mismatch"
var consumeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

-- Minimal binary decode: version(1) purpose(1) flags(1) attempts(2 big-endian)
-- expiresAt(8 big-endian) ownerLen(2 big-endian) owner(variable) secretHash(32) payload
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local purpose = string.byte(data, 2)
if purpose ~= tonumber(ARGV[2]) then
  return {err='not_found'}
end

local expiresAt = 0
for i = 6, 13 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
local nowUnix = tonumber(ARGV[3])
if expiresAt > 0 and nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local flags = string.byte(data, 3)
if flags % 2 == 1 then
  local a0 = string.byte(data, 4)
  local a1 = string.byte(data, 5)
  local attempts = a0 * 256 + a1

  local ownerLen = string.byte(data, 14) * 256 + string.byte(data, 15)
  local hashOffset = 16 + ownerLen
  local storedHash = string.sub(data, hashOffset, hashOffset + 31)

  if storedHash ~= ARGV[1] then
    attempts = attempts + 1
    if attempts >= tonumber(ARGV[4]) then
      redis.call('DEL', KEYS[1])
      return {err='attempts_exceeded'}
    end
    local newA0 = math.floor(attempts / 256)
    local newA1 = attempts % 256
    local newData = string.sub(data, 1, 3) .. string.char(newA0, newA1) .. string.sub(data, 6)
    local ttlMs = redis.call('PTTL', KEYS[1])
    if ttlMs > 0 then
      redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
    elseif ttlMs == -1 then
      redis.call('SET', KEYS[1], newData)
    else
      redis.call('DEL', KEYS[1])
      return {err='expired'}
    end
    return {err='secret_mismatch'}
  end
end

redis.call('DEL', KEYS[1])
return data
`)

// Record is one stored challenge. Payload carries opaque bytes for
// purposes that need to round-trip state (webauthn session data, wallet
// nonces); SecretHash is set only for code-bearing purposes.
type Record struct {
	Purpose    Purpose
	Owner      string
	HasSecret  bool
	SecretHash [32]byte
	Payload    []byte
	ExpiresAt  int64
	Attempts   uint16
}

// Store is the Redis-backed challenge store.
type Store struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "abc"
	}
	return &Store{
		redis:       redisClient,
		prefix:      prefix,
		maxAttempts: defaultMaxAttempts,
	}
}

func (s *Store) key(id string) string {
	return s.prefix + ":c:" + id
}

func (s *Store) ownerKey(purpose Purpose, owner string) string {
	return s.prefix + ":o:" + strconv.Itoa(int(purpose)) + ":" + owner
}

// Issue stores a new challenge under id. A zero ttl stores the challenge
// without expiry (single-use only). When the record names an owner, any
// prior challenge for the same owner and purpose is invalidated first, so
// re-issuing a code always kills the one it replaces.
func (s *Store) Issue(ctx context.Context, id string, record *Record, ttl time.Duration) error {
	if ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl).Unix()
	} else {
		record.ExpiresAt = 0
	}

	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}

	if record.Owner != "" {
		oKey := s.ownerKey(record.Purpose, record.Owner)
		prior, err := s.redis.GetSet(ctx, oKey, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if prior != "" && prior != id {
			if err := s.redis.Del(ctx, s.key(prior)).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		if ttl > 0 {
			if err := s.redis.PExpire(ctx, oKey, ttl).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
	}

	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume destructively claims the challenge id for the given purpose.
// For records stored without a secret this is an atomic delete-and-return;
// a second call with the same id returns [ErrNotFound].
func (s *Store) Consume(ctx context.Context, id string, purpose Purpose) (*Record, error) {
	var zero [32]byte
	return s.consume(ctx, id, purpose, zero)
}

// ConsumeWithSecret is [Store.Consume] for code-bearing challenges: the
// record is deleted only when providedHash matches the stored secret hash.
// Mismatches burn an attempt; exhausting attempts destroys the record.
func (s *Store) ConsumeWithSecret(ctx context.Context, id string, purpose Purpose, providedHash [32]byte) (*Record, error) {
	return s.consume(ctx, id, purpose, providedHash)
}

func (s *Store) consume(ctx context.Context, id string, purpose Purpose, providedHash [32]byte) (*Record, error) {
	result, err := consumeLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		string(providedHash[:]),
		int(purpose),
		time.Now().Unix(),
		s.maxAttempts,
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return nil, ErrNotFound
		case "attempts_exceeded":
			return nil, ErrAttemptsExceeded
		case "secret_mismatch":
			return nil, ErrSecretMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrRedisUnavailable)
	}

	record, decErr := decodeRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, decErr)
	}

	// Final constant-time comparison in Go as defense-in-depth
	// (Lua already checked, but Lua string comparison is not constant-time)
	if record.HasSecret {
		if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
			return nil, ErrSecretMismatch
		}
	}

	if record.Owner != "" {
		// Best-effort owner index cleanup; a stale index entry is harmless
		// because the challenge it points at is already gone.
		oKey := s.ownerKey(record.Purpose, record.Owner)
		if current, err := s.redis.Get(ctx, oKey).Result(); err == nil && current == id {
			_ = s.redis.Del(ctx, oKey).Err()
		}
	}

	return record, nil
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	buf.WriteByte(byte(record.Purpose))

	var flags byte
	if record.HasSecret {
		flags |= flagHasSecret
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Owner) > 65535 {
		return nil, errors.New("challenge owner too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Owner))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Owner)
	buf.Write(record.SecretHash[:])
	buf.Write(record.Payload)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &Record{
		Purpose:   Purpose(purpose),
		HasSecret: flags&flagHasSecret != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var ownerLen uint16
	if err := binary.Read(reader, binary.BigEndian, &ownerLen); err != nil {
		return nil, err
	}
	owner := make([]byte, ownerLen)
	if _, err := reader.Read(owner); err != nil && ownerLen > 0 {
		return nil, err
	}
	record.Owner = string(owner)

	if _, err := reader.Read(record.SecretHash[:]); err != nil {
		return nil, err
	}

	if reader.Len() > 0 {
		record.Payload = make([]byte, reader.Len())
		if _, err := reader.Read(record.Payload); err != nil {
			return nil, err
		}
	}

	return record, nil
}
