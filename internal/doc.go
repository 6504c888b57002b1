// Package internal contains helper utilities that are intentionally private to
// authbroker, including secure random generation and opaque code encoding.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - challenge — Redis-backed single-use challenge store
//   - rate — Redis-backed fixed-window rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public authbroker API.
//   - Be imported by any package outside the authbroker module.
package internal
