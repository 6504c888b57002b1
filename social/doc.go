// Package social adapts OAuth identity providers to the broker's
// reconciliation flow.
//
// The broker only sees the Provider interface: an authorization URL and a
// code-for-identity exchange. The built-in constructors (Google, Facebook,
// LinkedIn, Microsoft, Apple) wire golang.org/x/oauth2 endpoints to each
// provider's profile API; custom providers implement the same interface.
// Apple is the odd one out: it takes an ES256-signed developer JWT as the
// client secret and reports identity through the token response's id_token.
package social
