// Package rate enforces fixed-window attempt budgets in Redis: failed
// login attempts per identifier (and optionally per IP), and outbound code
// sends (magic links, validation emails) per account.
package rate
