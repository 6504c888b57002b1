// Package jwt issues and verifies the broker's signed session tokens.
//
// A session token is a compact JWS whose claims carry the account id plus
// the two step-up flags: totp_pending and email_validation_pending. A token
// with either flag set must not be treated as fully authenticated by
// downstream authorization; the broker re-issues a cleared token once the
// corresponding step completes.
//
// Ed25519 is the default signing method; HS256 is available for deployments
// that share a symmetric key.
package jwt
