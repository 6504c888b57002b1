// Package authbroker provides a multi-method authentication broker: it proves
// a caller's identity through one of several independent factors (password,
// FIDO2 authenticator, TOTP second factor, Ethereum wallet signature,
// OAuth-delegated social identity, magic link, invitation token) and issues a
// signed session token encoding the outcome.
//
// The package is designed for concurrent server workloads: Broker methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authbroker is the public surface. It exposes [Broker], [Builder], [Config],
// the [AccountRepository] and [Mailer] collaborator interfaces, and value
// types (LoginResult, TOTPSetup, FidoChallenge, etc.). Challenge tracking,
// rate limiting, and audit dispatch live under internal/ and are never
// exported. Session token parsing lives in the jwt sub-package so that
// request middleware can verify tokens without importing the broker.
//
// # What this package must NOT do
//
//   - Persist accounts itself. All durable account state goes through the
//     caller-supplied [AccountRepository].
//   - Deliver email. Outbound codes go through the caller-supplied [Mailer];
//     a delivery failure never rolls back an issued challenge.
//   - Speak HTTP beyond the middleware guard and the social provider
//     adapters. Routing and marshalling belong to the host application.
//
// # Challenge handling contract
//
// Every challenge (FIDO2 ceremony, wallet nonce, magic link, validation or
// invitation code) is single-use: consumption is atomic in Redis, so of any
// number of concurrent responders exactly one can win and all others observe
// an unknown challenge.
package authbroker
