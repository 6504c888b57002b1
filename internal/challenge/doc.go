// Package challenge tracks short-lived, single-use cryptographic challenges:
// FIDO2 ceremony state, wallet nonces, magic-link, email-validation, and
// invitation codes.
//
// Consumption is the only mutual-exclusion point in the broker and is
// performed by a Redis Lua script that validates and deletes the record in
// one step, so exactly one of any number of concurrent consumers can
// succeed. Records carry an optional secret hash: when present, the script
// compares it before deleting and tracks failed attempts, and the Go side
// repeats the comparison in constant time (Lua string comparison is not
// constant-time).
package challenge
