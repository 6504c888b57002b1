// Package password hashes and verifies account passwords with argon2id.
//
// Hashes are stored in PHC string format so cost parameters travel with the
// hash; [Hasher.NeedsRehash] reports when a stored hash was produced with
// weaker parameters than currently configured, which callers use to upgrade
// hashes transparently on login.
package password
