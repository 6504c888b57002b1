package authbroker

import (
	"context"
	"errors"
	"time"

	"github.com/polyfactor/authbroker/internal"
	"github.com/polyfactor/authbroker/internal/challenge"
)

// issueCodeChallenge stores a code-bearing challenge for the account and
// returns the opaque token to deliver out of band. Only the secret's hash
// is stored; the token is the sole copy of the secret.
func (b *Broker) issueCodeChallenge(ctx context.Context, accountID string, purpose challenge.Purpose, ttl time.Duration) (string, error) {
	id, err := internal.NewChallengeID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewCodeSecret()
	if err != nil {
		return "", err
	}

	record := &challenge.Record{
		Purpose:    purpose,
		Owner:      accountID,
		HasSecret:  true,
		SecretHash: internal.HashSecret(secret),
	}
	if err := b.challenges.Issue(ctx, id.String(), record, ttl); err != nil {
		return "", err
	}

	return internal.EncodeCode(id.String(), secret)
}

// consumeCodeChallenge burns the code and returns the owning account id.
// Malformed codes, unknown ids, wrong secrets, and exhausted attempts all
// collapse to the expired-challenge sentinel.
func (b *Broker) consumeCodeChallenge(ctx context.Context, code string, purpose challenge.Purpose) (string, error) {
	id, secret, err := internal.DecodeCode(code)
	if err != nil {
		return "", ErrChallengeExpired
	}

	record, err := b.challenges.ConsumeWithSecret(ctx, id, purpose, internal.HashSecret(secret))
	if err != nil {
		switch {
		case errors.Is(err, challenge.ErrNotFound),
			errors.Is(err, challenge.ErrSecretMismatch),
			errors.Is(err, challenge.ErrAttemptsExceeded):
			return "", ErrChallengeExpired
		default:
			return "", err
		}
	}

	return record.Owner, nil
}
